// Package source enumerates input files under a data root.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Walk returns the absolute paths of every regular file under root whose name
// ends with ext, in walk order.
//
// Walk order:
//   - Each directory is visited top-down.
//   - Within a directory, matching files come first, sorted by name.
//   - Subdirectories are then visited in name order.
//
// Hidden files (leading ".") never match, mirroring shell glob rules. Hidden
// directories are still descended into.
//
// A root that does not exist yields an empty list and no error, so a run over a
// missing data directory processes zero files.
func Walk(fs afero.Fs, root, ext string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("source: resolve %s: %w", root, err)
	}

	info, err := fs.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("source: stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	var out []string
	if err := walkDir(fs, abs, ext, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walkDir(fs afero.Fs, dir, ext string, out *[]string) error {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return fmt.Errorf("source: read dir %s: %w", dir, err)
	}

	var subdirs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			subdirs = append(subdirs, filepath.Join(dir, name))
			continue
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		*out = append(*out, filepath.Join(dir, name))
	}

	for _, sub := range subdirs {
		if err := walkDir(fs, sub, ext, out); err != nil {
			return err
		}
	}
	return nil
}

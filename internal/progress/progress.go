// Package progress reports per-file load progress on the console.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Modes accepted by New.
const (
	ModeLines = "lines"
	ModeBar   = "bar"
	ModeNone  = "none"
)

// Reporter receives dispatcher events for one root at a time.
type Reporter interface {
	// Found is called once per root, after the walk.
	Found(n int, root string)
	// Processed is called after file done of total has been committed.
	Processed(done, total int)
	// Done is called when a root is finished or aborted.
	Done()
}

// New picks a reporter for mode. Bar mode falls back to lines when w is not a
// terminal, so redirected output keeps the plain text format.
func New(mode string, w io.Writer) (Reporter, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeLines:
		return Lines{W: w}, nil
	case ModeBar:
		if !isTerminal(w) {
			return Lines{W: w}, nil
		}
		return &Bar{W: w}, nil
	case ModeNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("progress: unknown mode %q (want %s, %s or %s)", mode, ModeLines, ModeBar, ModeNone)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// Lines prints the classic two line formats:
//
//	72 files found in /data/song_data
//	1/72 files processed.
type Lines struct {
	W io.Writer
}

func (l Lines) Found(n int, root string) { fmt.Fprintf(l.W, "%d files found in %s\n", n, root) }
func (l Lines) Processed(done, total int) { fmt.Fprintf(l.W, "%d/%d files processed.\n", done, total) }
func (Lines) Done()                       {}

// Bar renders a progress bar per root.
type Bar struct {
	W   io.Writer
	bar *progressbar.ProgressBar
}

func (b *Bar) Found(n int, root string) {
	b.bar = progressbar.NewOptions(n,
		progressbar.OptionSetWriter(b.W),
		progressbar.OptionSetDescription(fmt.Sprintf("%d files found in %s", n, root)),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (b *Bar) Processed(done, _ int) {
	if b.bar != nil {
		_ = b.bar.Set(done)
	}
}

func (b *Bar) Done() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	fmt.Fprintln(b.W)
	b.bar = nil
}

// Nop discards progress.
type Nop struct{}

func (Nop) Found(int, string)  {}
func (Nop) Processed(int, int) {}
func (Nop) Done()              {}

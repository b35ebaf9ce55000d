// Package jsonl decodes newline-delimited JSON files into typed records.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrMalformed is returned (wrapped) when a line is not a valid JSON object
// for the target type.
var ErrMalformed = errors.New("jsonl: malformed record")

// Decode reads r line by line and calls fn with each decoded record.
//
// Behavior:
//   - Blank lines (only whitespace) are skipped and do not count as records.
//   - Line numbers passed to fn and used in errors are 1-based physical lines.
//   - The first decode error stops reading; it wraps ErrMalformed.
//   - An error returned by fn stops reading and is returned unchanged.
//
// It returns the number of records handed to fn.
func Decode[T any](ctx context.Context, r io.Reader, fn func(line int, rec *T) error) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	line := 0
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}

		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 {
				var rec T
				if err := json.Unmarshal(raw, &rec); err != nil {
					return n, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
				}
				n++
				if err := fn(line, &rec); err != nil {
					return n, err
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return n, nil
			}
			return n, fmt.Errorf("jsonl: read line %d: %w", line+1, readErr)
		}
	}
}

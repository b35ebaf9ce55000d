package etl

import (
	"errors"
	"fmt"
)

// Error classes of a run; test with errors.Is. Store and data-format failures
// wrap exactly one of them. Context cancellation, directory walk and file
// open/read failures, and an invalid Options value are returned unclassified.
var (
	// ErrConnection means the store could not be opened. Nothing was committed.
	ErrConnection = errors.New("connection error")

	// ErrQuery means a statement failed. The current file was rolled back.
	ErrQuery = errors.New("query error")

	// ErrMalformedInput means a data file could not be decoded or holds no
	// usable record. The current file was rolled back.
	ErrMalformedInput = errors.New("malformed input")
)

func queryErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrQuery, err)
}

func inputErr(path string, err error) error {
	return fmt.Errorf("%s: %w: %w", path, ErrMalformedInput, err)
}

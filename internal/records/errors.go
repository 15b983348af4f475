package records

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("records: file not found")

// NotFoundError reports a missing input file.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("records: file not found: %s", e.Path)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SchemaError reports a required column missing from a file header.
type SchemaError struct {
	Path   string
	Column string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("records: missing required column %q", e.Column)
	}
	return fmt.Sprintf("records: %s: missing required column %q", e.Path, e.Column)
}

// ParseError reports a data row that cannot be coerced into the schema.
// Row is 1-based and counts the header as row 1.
type ParseError struct {
	Path   string
	Row    int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("records: %s: row %d", e.Path, e.Row)
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

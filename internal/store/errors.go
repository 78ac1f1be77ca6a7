package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a keyed lookup finds nothing.
var ErrNotFound = errors.New("not found")

// Error is returned by every store operation that fails.
// Store errors are never retried at this layer.
type Error struct {
	// Op names the failed operation ("open", "transaction", "commit", ...).
	Op string

	// Collection is empty for store-wide failures such as open.
	Collection Collection

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

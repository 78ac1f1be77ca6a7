package remote

import (
	"errors"
	"fmt"

	"github.com/roach88/hrsync/internal/ir"
)

// Kind classifies a remote failure.
type Kind int

const (
	// KindTransient covers network errors, timeouts, 5xx and 429. The same
	// call may succeed later.
	KindTransient Kind = iota

	// KindRejected covers every other 4xx. Replaying the call unchanged will
	// fail again.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind Kind

	// Status is the HTTP status code, zero when no response was received.
	Status int

	Table ir.Table

	// Op is one of "list", "insert", "update", "delete", "ping".
	Op string

	Err error
}

func (e *Error) Error() string {
	prefix := "remote " + e.Op
	if e.Table != "" {
		prefix += " " + string(e.Table)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (%d): %v", prefix, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a remote failure worth retrying.
// Errors that are not *Error are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	return true
}

// IsRejected reports whether the remote refused the call.
func IsRejected(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRejected
}

// classify maps an HTTP status to a Kind.
func classify(status int) Kind {
	switch {
	case status == 429:
		return KindTransient
	case status >= 400 && status < 500:
		return KindRejected
	default:
		return KindTransient
	}
}

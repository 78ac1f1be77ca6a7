package engine

import (
	"errors"
	"fmt"
)

// SyncErrorCode categorizes sync failures.
type SyncErrorCode string

const (
	// ErrCodeSyncInProgress indicates another cycle holds the sync lock.
	ErrCodeSyncInProgress SyncErrorCode = "SYNC_IN_PROGRESS"

	// ErrCodePushIncomplete indicates the push stopped on a transient
	// failure. The unsent mutations are still queued.
	ErrCodePushIncomplete SyncErrorCode = "PUSH_INCOMPLETE"

	// ErrCodePullIncomplete indicates at least one table failed to pull.
	ErrCodePullIncomplete SyncErrorCode = "PULL_INCOMPLETE"
)

// SyncError is returned when a cycle does not fully complete.
type SyncError struct {
	Code SyncErrorCode

	// Cycle is the token of the affected cycle, empty outside a cycle.
	Cycle string

	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := string(e.Code)
	if e.Cycle != "" {
		msg += fmt.Sprintf(" (cycle=%s)", e.Cycle)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches any *SyncError with the same code, so errors.Is finds a code
// anywhere in a joined or wrapped chain.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && t.Code == e.Code
}

// IsSyncInProgress reports whether err says a cycle was already running.
func IsSyncInProgress(err error) bool {
	return errors.Is(err, &SyncError{Code: ErrCodeSyncInProgress})
}

// IsPushIncomplete reports whether err says the push stopped early.
func IsPushIncomplete(err error) bool {
	return errors.Is(err, &SyncError{Code: ErrCodePushIncomplete})
}

// IsPullIncomplete reports whether err says a table failed to pull.
func IsPullIncomplete(err error) bool {
	return errors.Is(err, &SyncError{Code: ErrCodePullIncomplete})
}

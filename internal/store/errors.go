package store

import "fmt"

// ErrInvariantViolation is returned when the store detects a state that
// should be structurally impossible, such as an interval merge unable to
// source a timestamp for its merged endpoint. Callers must treat this as
// fatal rather than retry.
type ErrInvariantViolation struct {
	Reason string
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("store invariant violation: %s", e.Reason)
}

func newInvariantViolation(format string, args ...interface{}) error {
	return &ErrInvariantViolation{Reason: fmt.Sprintf(format, args...)}
}

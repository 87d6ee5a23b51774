package matching

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a session is missing or does not belong to the worker.
var ErrNotFound = errors.New("match session not found")

// ValidationError wraps a user-facing validation message.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// InvalidStateError reports a response to a session that is no longer PENDING.
type InvalidStateError struct {
	SessionID string
	Status    SessionStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("match session %s is %s", e.SessionID, e.Status)
}

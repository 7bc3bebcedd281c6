package checkpoint

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAwaiting is returned when a response targets a checkpoint that
	// is unknown or no longer awaiting a decision.
	ErrNotAwaiting = errors.New("checkpoint is not awaiting a response")

	// ErrAlreadyResolved is returned for a second response to the same
	// checkpoint id.
	ErrAlreadyResolved = errors.New("checkpoint already resolved")

	// ErrCheckpointPending is returned when a second checkpoint would be
	// registered for a mission that already has one awaiting.
	ErrCheckpointPending = errors.New("mission already has an awaiting checkpoint")
)

// ValidationError reports a field-specific problem with a checkpoint
// response before anything is sent upstream.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

package services

import (
	"errors"
	"fmt"

	"github.com/planor-ai/planor/pkg/persistence"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrTeamNotFound is returned when a plan references an unknown team
	ErrTeamNotFound = errors.New("team not found")

	// ErrConcurrentModification is returned when optimistic locking fails
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrIllegalTransition is returned when a mutation would violate the
	// plan lifecycle (including any write to a terminal plan)
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrPlanActive is returned when a session already has a non-terminal plan
	ErrPlanActive = errors.New("session already has an active plan")

	// ErrNotClaimable is returned when a claim, takeover, or heartbeat loses
	// to another worker or the plan left the claimable state
	ErrNotClaimable = errors.New("plan not claimable")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// mapStoreError translates persistence port errors into service sentinels.
// Unrecognized errors pass through wrapped so transient/fatal classification
// survives for callers that care.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrAlreadyExists):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	default:
		return err
	}
}

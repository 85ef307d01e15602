package flow

import (
	"errors"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

// Sentinel errors shared by the flow handlers. The dispatcher maps them to
// user-facing messages; handlers wrap backend failures with %w so the
// classification survives.
var (
	// ErrValidation marks rejected user input; ValidationError carries the
	// prompt text.
	ErrValidation = errors.New("validation failed")

	// ErrUniquenessConflict marks a duplicate identifier at save time.
	ErrUniquenessConflict = errors.New("uniqueness conflict")

	// ErrStoreUnavailable marks a backing store failure after retries.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStaleState marks flow state referencing a context that no longer
	// exists, such as an edit target that was never set.
	ErrStaleState = errors.New("stale flow state")

	// ErrAttemptLimit marks an exhausted PIN attempt budget.
	ErrAttemptLimit = errors.New("attempt limit reached")

	// ErrSessionExpired marks an operation against an evicted session.
	ErrSessionExpired = errors.New("session expired")
)

// ValidationError carries the user-facing rejection for one field input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError identifies the identifier field already taken by another
// lead. The dispatcher renders it and the flow is already ended.
type ConflictError struct {
	Field models.DataKey
}

func (e *ConflictError) Error() string {
	return "identifier already taken: " + string(e.Field)
}

func (e *ConflictError) Unwrap() error { return ErrUniquenessConflict }

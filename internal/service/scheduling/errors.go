package scheduling

import (
	"fmt"

	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// NotFoundError reports a missing appointment or an unknown or inactive
// person. Kind is "appointment", "student" or "instructor".
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ConflictError reports a calendar overlap for one participant, or an
// idempotency key reused for a different booking (Role is empty then).
type ConflictError struct {
	Role          domain.Role
	Reason        string
	ConflictingID uuid.UUID
}

func (e *ConflictError) Error() string {
	if e.ConflictingID == uuid.Nil {
		return "conflict: " + e.Reason
	}
	return fmt.Sprintf("conflict: %s (appointment %s)", e.Reason, e.ConflictingID)
}

type PolicyError struct {
	Reason    string
	StudentID string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("student %s may not book: %s", e.StudentID, e.Reason)
}

// StoreError wraps a persistence failure that survived the engine's retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: store: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

const (
	ReasonDelinquent       = "delinquent"
	ReasonIdempotencyReuse = "idempotency key reused"
)

func busyReason(role domain.Role) string {
	return string(role) + " busy"
}

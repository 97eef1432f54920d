package store

import (
	"errors"
	"fmt"

	"trainingcenter/backend/internal/domain"
)

var (
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrVersionConflict     = errors.New("version conflict")
	ErrSerialization       = errors.New("serialization failure")
)

// OverlapError is returned when a write would give a participant two active
// appointments with overlapping windows.
type OverlapError struct {
	Role domain.Role
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s calendar overlap", e.Role)
}

func (e *OverlapError) Unwrap() error {
	return ErrConflict
}

// IsRetryable reports whether err is a concurrency failure after which the
// whole operation may be re-read and re-validated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrSerialization)
}

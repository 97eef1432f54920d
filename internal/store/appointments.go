package store

import (
	"context"

	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
)

// AppointmentRepository owns appointment records. It holds no business rules.
type AppointmentRepository interface {
	// InPersonsTransaction runs fn in a unit of work that is serialized against
	// every other unit of work sharing one of personIDs. The work commits when
	// fn returns nil and rolls back otherwise.
	InPersonsTransaction(ctx context.Context, personIDs []string, fn func(ctx context.Context, tx AppointmentTx) error) error

	GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListByStudent(ctx context.Context, studentID string) ([]domain.Appointment, error)
	ListByInstructor(ctx context.Context, instructorID string) ([]domain.Appointment, error)
	ListAll(ctx context.Context) ([]domain.Appointment, error)
}

type AppointmentTx interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	// FindOverlapping returns the active appointments of personID, acting as
	// role, whose windows overlap w. excludeID is skipped when not uuid.Nil.
	FindOverlapping(ctx context.Context, personID string, role domain.Role, w domain.Window, excludeID uuid.UUID) ([]domain.Appointment, error)
	Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	// Update persists appt if the stored version still equals appt.Version and
	// returns the record with its new version.
	Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	RecordEvent(ctx context.Context, ev domain.AppointmentEvent) error
}

// EventOutbox hands out unpublished appointment events.
type EventOutbox interface {
	// ClaimBatch passes up to limit unpublished events, oldest first, to fn and
	// marks them published when fn returns nil.
	ClaimBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.AppointmentEvent) error) error
}

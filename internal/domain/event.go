package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type EventType string

const (
	EventBooked      EventType = "appointment.booked"
	EventRescheduled EventType = "appointment.rescheduled"
	EventApproved    EventType = "appointment.approved"
	EventRefused     EventType = "appointment.refused"
	EventCancelled   EventType = "appointment.cancelled"
	EventCompleted   EventType = "appointment.completed"
)

// AppointmentEvent is an outbox row written in the same transaction as the
// appointment change it describes.
type AppointmentEvent struct {
	bun.BaseModel `bun:"table:appointment_events"`

	ID            uuid.UUID       `bun:"id,pk,type:uuid"`
	AppointmentID uuid.UUID       `bun:"appointment_id,notnull,type:uuid"`
	Type          EventType       `bun:"type,notnull"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	OccurredAt    time.Time       `bun:"occurred_at,notnull"`
	PublishedAt   *time.Time      `bun:"published_at"`
}

type eventPayload struct {
	AppointmentID string    `json:"appointment_id"`
	StudentID     string    `json:"student_id"`
	InstructorID  string    `json:"instructor_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        Status    `json:"status"`
	Description   string    `json:"description,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

func NewAppointmentEvent(t EventType, a Appointment, reason string, at time.Time) (AppointmentEvent, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return AppointmentEvent{}, err
	}
	payload, err := json.Marshal(eventPayload{
		AppointmentID: a.ID.String(),
		StudentID:     a.StudentID,
		InstructorID:  a.InstructorID,
		StartTime:     a.StartTime.UTC(),
		EndTime:       a.EndTime.UTC(),
		Status:        a.Status,
		Description:   a.Description,
		Reason:        reason,
	})
	if err != nil {
		return AppointmentEvent{}, err
	}
	return AppointmentEvent{
		ID:            id,
		AppointmentID: a.ID,
		Type:          t,
		Payload:       payload,
		OccurredAt:    at.UTC(),
	}, nil
}

func (e *AppointmentEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}
	}
	return nil
}

package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusApproved    Status = "approved"
	StatusRefused     Status = "refused"
	StatusCancelled   Status = "cancelled"
	StatusCompleted   Status = "completed"
	StatusRescheduled Status = "rescheduled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRefused, StatusCancelled, StatusCompleted, StatusRescheduled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRefused, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// OccupiesCalendar reports whether an appointment in status s blocks its
// window for both the student and the instructor.
func (s Status) OccupiesCalendar() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRescheduled:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses taken into account by conflict checks.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRescheduled}
}

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func NewWindow(start time.Time, d time.Duration) Window {
	start = start.UTC()
	return Window{Start: start, End: start.Add(d)}
}

func (w Window) Valid() bool {
	return w.Start.Before(w.End)
}

func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

func (w Window) Equal(o Window) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

func (w Window) UTC() Window {
	return Window{Start: w.Start.UTC(), End: w.End.UTC()}
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	StudentID    string    `bun:"student_id,notnull"`
	InstructorID string    `bun:"instructor_id,notnull"`
	StartTime    time.Time `bun:"start_time,notnull"`
	EndTime      time.Time `bun:"end_time,notnull"`
	Status       Status    `bun:"status,notnull"`
	Description  string    `bun:"description"`
	CancelReason string    `bun:"cancel_reason"`
	Version      int64     `bun:"version,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`

	// RequestFingerprint identifies the booking request that created the
	// appointment. It never changes after insert.
	RequestFingerprint string `bun:"request_fingerprint,notnull"`
}

func (a Appointment) Window() Window {
	return Window{Start: a.StartTime, End: a.EndTime}
}

// PersonID returns the id of the participant holding role r.
func (a Appointment) PersonID(r Role) string {
	if r == RoleInstructor {
		return a.InstructorID
	}
	return a.StudentID
}

// Participants returns the person ids whose calendars the appointment touches.
func (a Appointment) Participants() []string {
	return []string{a.StudentID, a.InstructorID}
}

// Fingerprint hashes the fields of a booking request. Later reschedules do not
// affect the RequestFingerprint stored at insert.
func (a Appointment) Fingerprint() string {
	canonical := strings.Join([]string{
		a.StudentID,
		a.InstructorID,
		a.StartTime.UTC().Format(time.RFC3339Nano),
		a.EndTime.UTC().Format(time.RFC3339Nano),
		a.Description,
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(canonical)).String()
}

// SameBooking reports whether b carries the same booking request as a. Used to
// recognise idempotent replays. Stored fingerprints are compared when both
// sides have one, so a replay still matches after the appointment moved.
func (a Appointment) SameBooking(b Appointment) bool {
	if a.RequestFingerprint != "" && b.RequestFingerprint != "" {
		return a.RequestFingerprint == b.RequestFingerprint
	}
	return a.StudentID == b.StudentID &&
		a.InstructorID == b.InstructorID &&
		a.Description == b.Description &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime)
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = a.CreatedAt
		}
	case *bun.UpdateQuery:
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	}
	return nil
}

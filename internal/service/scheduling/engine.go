// Package scheduling books and moves training sessions between students and
// instructors. Every check-then-write runs inside a repository transaction
// that serializes callers touching the same person, so two active
// appointments of one participant never overlap.
package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/store"
)

const (
	DefaultDuration             = time.Hour
	DefaultMaxDescriptionLength = 500

	maxIdempotencyKeyLength = 256
	maxSessionDuration      = 24 * time.Hour
)

type PersonLookup interface {
	// Exists reports whether the person is known and may take part in sessions.
	Exists(ctx context.Context, personID string) (bool, error)
	DisplayName(ctx context.Context, personID string) (string, error)
}

type DelinquencyOracle interface {
	IsDelinquent(ctx context.Context, studentID string) (bool, error)
}

type Engine struct {
	repo     store.AppointmentRepository
	people   PersonLookup
	payments DelinquencyOracle

	now                  func() time.Time
	defaultDuration      time.Duration
	maxDescriptionLength int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithDefaultDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultDuration = d
		}
	}
}

func WithMaxDescriptionLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDescriptionLength = n
		}
	}
}

func NewEngine(repo store.AppointmentRepository, people PersonLookup, payments DelinquencyOracle, opts ...Option) *Engine {
	e := &Engine{
		repo:                 repo,
		people:               people,
		payments:             payments,
		now:                  time.Now,
		defaultDuration:      DefaultDuration,
		maxDescriptionLength: DefaultMaxDescriptionLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type AppointmentView struct {
	domain.Appointment
	StudentName    string
	InstructorName string
}

type BookInput struct {
	StudentID      string
	InstructorID   string
	StartTime      time.Time
	Description    string
	IdempotencyKey string
}

func (e *Engine) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	studentID, instructorID, err := e.validateParticipants(in.StudentID, in.InstructorID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, validationError("start_time is required")
	}
	if err := e.validateDescription(in.Description); err != nil {
		return domain.Appointment{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		return domain.Appointment{}, validationError("idempotency_key too long")
	}

	w := domain.NewWindow(in.StartTime, e.defaultDuration)
	appt := domain.Appointment{
		StudentID:    studentID,
		InstructorID: instructorID,
		StartTime:    w.Start,
		EndTime:      w.End,
		Status:       domain.StatusPending,
		Description:  in.Description,
	}
	appt.RequestFingerprint = appt.Fingerprint()
	if key != "" {
		appt.ID = idempotentID(studentID, key)
	}

	var out domain.Appointment
	err = e.inTransaction(ctx, "book", appt.Participants(), func(ctx context.Context, tx store.AppointmentTx) error {
		if err := e.checkBookable(ctx, studentID, instructorID); err != nil {
			return err
		}
		if appt.ID != uuid.Nil {
			existing, err := tx.GetByID(ctx, appt.ID)
			switch {
			case err == nil:
				if !existing.SameBooking(appt) {
					return &ConflictError{Reason: ReasonIdempotencyReuse, ConflictingID: existing.ID}
				}
				out = existing
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if err := checkConflicts(ctx, tx, appt, uuid.Nil); err != nil {
			return err
		}
		stored, err := e.insert(ctx, tx, appt)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

type BookWeeklyInput struct {
	StudentID    string
	InstructorID string
	StartTime    time.Time
	// Duration of every session; the engine default applies when zero.
	Duration    time.Duration
	Weekdays    []int16
	Interval    int
	Count       int
	Until       *time.Time
	TimeZone    string
	Description string
}

// BookWeekly books every session of a weekly plan in one transaction. Either
// all sessions are stored or none are.
func (e *Engine) BookWeekly(ctx context.Context, in BookWeeklyInput) ([]domain.Appointment, error) {
	studentID, instructorID, err := e.validateParticipants(in.StudentID, in.InstructorID)
	if err != nil {
		return nil, err
	}
	if in.StartTime.IsZero() {
		return nil, validationError("start_time is required")
	}
	if err := e.validateDescription(in.Description); err != nil {
		return nil, err
	}
	tz := strings.TrimSpace(in.TimeZone)
	if tz == "" {
		return nil, validationError("time_zone is required")
	}
	if in.Interval < 0 {
		return nil, validationError("interval must be at least 1")
	}
	d := in.Duration
	if d == 0 {
		d = e.defaultDuration
	}
	if d > maxSessionDuration {
		return nil, validationError("duration too long")
	}

	plan := domain.WeeklyPlan{
		Start:    in.StartTime,
		Duration: d,
		Weekdays: in.Weekdays,
		Interval: in.Interval,
		Count:    in.Count,
		Until:    in.Until,
		TimeZone: tz,
	}
	windows, err := plan.Occurrences()
	if err != nil {
		return nil, validationError(err.Error())
	}

	var out []domain.Appointment
	err = e.inTransaction(ctx, "book weekly", []string{studentID, instructorID}, func(ctx context.Context, tx store.AppointmentTx) error {
		if err := e.checkBookable(ctx, studentID, instructorID); err != nil {
			return err
		}
		out = make([]domain.Appointment, 0, len(windows))
		for _, w := range windows {
			appt := domain.Appointment{
				StudentID:    studentID,
				InstructorID: instructorID,
				StartTime:    w.Start,
				EndTime:      w.End,
				Status:       domain.StatusPending,
				Description:  in.Description,
			}
			if err := checkConflicts(ctx, tx, appt, uuid.Nil); err != nil {
				return err
			}
			stored, err := e.insert(ctx, tx, appt)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type RescheduleInput struct {
	ID          uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Description *string
	Status      *domain.Status
}

func (e *Engine) Reschedule(ctx context.Context, in RescheduleInput) (domain.Appointment, error) {
	if in.ID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment id is required")
	}
	w := domain.Window{Start: in.StartTime, End: in.EndTime}.UTC()
	if in.StartTime.IsZero() || in.EndTime.IsZero() || !w.Valid() {
		return domain.Appointment{}, validationError("end_time must be after start_time")
	}
	if w.End.Sub(w.Start) > maxSessionDuration {
		return domain.Appointment{}, validationError("duration too long")
	}
	if in.Description != nil {
		if err := e.validateDescription(*in.Description); err != nil {
			return domain.Appointment{}, err
		}
	}
	if in.Status != nil && !in.Status.IsValid() {
		return domain.Appointment{}, validationError("invalid status")
	}

	return e.mutate(ctx, "reschedule", in.ID, func(ctx context.Context, tx store.AppointmentTx, current domain.Appointment) (domain.Appointment, domain.AppointmentEvent, error) {
		next, err := domain.Reschedule(current, w, in.Description, in.Status, e.now())
		if err != nil {
			return domain.Appointment{}, domain.AppointmentEvent{}, err
		}
		if !current.Window().Equal(w) {
			if err := checkConflicts(ctx, tx, next, current.ID); err != nil {
				return domain.Appointment{}, domain.AppointmentEvent{}, err
			}
		}
		ev, err := domain.NewAppointmentEvent(domain.EventRescheduled, next, "", e.now())
		return next, ev, err
	})
}

func (e *Engine) Approve(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return e.transition(ctx, "approve", id, domain.EventApproved, "", func(a domain.Appointment, at time.Time) (domain.Appointment, error) {
		return domain.Approve(a, at)
	})
}

func (e *Engine) Refuse(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error) {
	reason = strings.TrimSpace(reason)
	return e.transition(ctx, "refuse", id, domain.EventRefused, reason, func(a domain.Appointment, at time.Time) (domain.Appointment, error) {
		return domain.Refuse(a, reason, at)
	})
}

func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, reason string) (domain.Appointment, error) {
	reason = strings.TrimSpace(reason)
	return e.transition(ctx, "cancel", id, domain.EventCancelled, reason, func(a domain.Appointment, at time.Time) (domain.Appointment, error) {
		return domain.Cancel(a, reason, at)
	})
}

func (e *Engine) Complete(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return e.transition(ctx, "complete", id, domain.EventCompleted, "", func(a domain.Appointment, at time.Time) (domain.Appointment, error) {
		return domain.Complete(a, at)
	})
}

func (e *Engine) GetByID(ctx context.Context, id uuid.UUID) (AppointmentView, error) {
	if id == uuid.Nil {
		return AppointmentView{}, validationError("appointment id is required")
	}
	appt, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AppointmentView{}, &NotFoundError{Kind: "appointment", ID: id.String()}
		}
		return AppointmentView{}, &StoreError{Op: "get appointment", Err: err}
	}
	return e.views(ctx, []domain.Appointment{appt})[0], nil
}

func (e *Engine) ListByStudent(ctx context.Context, studentID string) ([]AppointmentView, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, validationError("student_id is required")
	}
	appts, err := e.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, &StoreError{Op: "list by student", Err: err}
	}
	return e.views(ctx, appts), nil
}

func (e *Engine) ListByInstructor(ctx context.Context, instructorID string) ([]AppointmentView, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return nil, validationError("instructor_id is required")
	}
	appts, err := e.repo.ListByInstructor(ctx, instructorID)
	if err != nil {
		return nil, &StoreError{Op: "list by instructor", Err: err}
	}
	return e.views(ctx, appts), nil
}

func (e *Engine) ListAll(ctx context.Context) ([]AppointmentView, error) {
	appts, err := e.repo.ListAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list appointments", Err: err}
	}
	return e.views(ctx, appts), nil
}

// views attaches display names. A failed lookup leaves the name empty.
func (e *Engine) views(ctx context.Context, appts []domain.Appointment) []AppointmentView {
	names := make(map[string]string)
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		n, err := e.people.DisplayName(ctx, id)
		if err != nil {
			n = ""
		}
		names[id] = n
		return n
	}

	out := make([]AppointmentView, 0, len(appts))
	for _, a := range appts {
		out = append(out, AppointmentView{
			Appointment:    a,
			StudentName:    name(a.StudentID),
			InstructorName: name(a.InstructorID),
		})
	}
	return out
}

func (e *Engine) transition(ctx context.Context, op string, id uuid.UUID, evType domain.EventType, reason string, apply func(domain.Appointment, time.Time) (domain.Appointment, error)) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment id is required")
	}
	return e.mutate(ctx, op, id, func(ctx context.Context, tx store.AppointmentTx, current domain.Appointment) (domain.Appointment, domain.AppointmentEvent, error) {
		at := e.now()
		next, err := apply(current, at)
		if err != nil {
			return domain.Appointment{}, domain.AppointmentEvent{}, err
		}
		ev, err := domain.NewAppointmentEvent(evType, next, reason, at)
		return next, ev, err
	})
}

type mutation func(ctx context.Context, tx store.AppointmentTx, current domain.Appointment) (domain.Appointment, domain.AppointmentEvent, error)

// mutate loads the appointment, locks both participants and re-reads it inside
// the transaction before applying fn. Participants never change, so the
// unlocked first read only decides which locks to take.
func (e *Engine) mutate(ctx context.Context, op string, id uuid.UUID, fn mutation) (domain.Appointment, error) {
	notFound := &NotFoundError{Kind: "appointment", ID: id.String()}

	current, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, notFound
		}
		return domain.Appointment{}, &StoreError{Op: op, Err: err}
	}

	var out domain.Appointment
	err = e.inTransaction(ctx, op, current.Participants(), func(ctx context.Context, tx store.AppointmentTx) error {
		current, err := tx.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound
			}
			return err
		}
		next, ev, err := fn(ctx, tx, current)
		if err != nil {
			return err
		}
		stored, err := tx.Update(ctx, next)
		if err != nil {
			return err
		}
		if err := tx.RecordEvent(ctx, ev); err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (e *Engine) insert(ctx context.Context, tx store.AppointmentTx, appt domain.Appointment) (domain.Appointment, error) {
	at := e.now().UTC()
	appt.CreatedAt = at
	appt.UpdatedAt = at
	stored, err := tx.Insert(ctx, appt)
	if err != nil {
		return domain.Appointment{}, err
	}
	ev, err := domain.NewAppointmentEvent(domain.EventBooked, stored, "", at)
	if err != nil {
		return domain.Appointment{}, err
	}
	if err := tx.RecordEvent(ctx, ev); err != nil {
		return domain.Appointment{}, err
	}
	return stored, nil
}

// inTransaction runs fn under the locks of personIDs and retries the whole
// unit once after a version conflict or serialization failure.
func (e *Engine) inTransaction(ctx context.Context, op string, personIDs []string, fn func(ctx context.Context, tx store.AppointmentTx) error) error {
	err := e.repo.InPersonsTransaction(ctx, personIDs, fn)
	if store.IsRetryable(err) {
		err = e.repo.InPersonsTransaction(ctx, personIDs, fn)
	}
	return translate(op, err)
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		vErr       *ValidationError
		nfErr      *NotFoundError
		cErr       *ConflictError
		pErr       *PolicyError
		tErr       *domain.TransitionError
		sErr       *StoreError
		overlapErr *store.OverlapError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &nfErr), errors.As(err, &cErr),
		errors.As(err, &pErr), errors.As(err, &tErr), errors.As(err, &sErr):
		return err
	case errors.As(err, &overlapErr):
		return &ConflictError{Role: overlapErr.Role, Reason: busyReason(overlapErr.Role)}
	case errors.Is(err, store.ErrIdempotencyConflict):
		return &ConflictError{Reason: ReasonIdempotencyReuse}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// checkConflicts looks for an active appointment of either participant that
// overlaps appt. The student is checked first.
func checkConflicts(ctx context.Context, tx store.AppointmentTx, appt domain.Appointment, excludeID uuid.UUID) error {
	for _, role := range []domain.Role{domain.RoleStudent, domain.RoleInstructor} {
		overlapping, err := tx.FindOverlapping(ctx, appt.PersonID(role), role, appt.Window(), excludeID)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return &ConflictError{Role: role, Reason: busyReason(role), ConflictingID: overlapping[0].ID}
		}
	}
	return nil
}

func (e *Engine) validateParticipants(studentID, instructorID string) (string, string, error) {
	studentID = strings.TrimSpace(studentID)
	instructorID = strings.TrimSpace(instructorID)
	if studentID == "" {
		return "", "", validationError("student_id is required")
	}
	if instructorID == "" {
		return "", "", validationError("instructor_id is required")
	}
	if studentID == instructorID {
		return "", "", validationError("student and instructor must differ")
	}
	return studentID, instructorID, nil
}

func (e *Engine) validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > e.maxDescriptionLength {
		return validationError("description too long")
	}
	return nil
}

// checkBookable must be called inside InPersonsTransaction. Payment writers
// take the same per-student lock.
func (e *Engine) checkBookable(ctx context.Context, studentID, instructorID string) error {
	for _, p := range []struct{ kind, id string }{{"student", studentID}, {"instructor", instructorID}} {
		ok, err := e.people.Exists(ctx, p.id)
		if err != nil {
			return &StoreError{Op: "lookup " + p.kind, Err: err}
		}
		if !ok {
			return &NotFoundError{Kind: p.kind, ID: p.id}
		}
	}

	delinquent, err := e.payments.IsDelinquent(ctx, studentID)
	if err != nil {
		return &StoreError{Op: "check delinquency", Err: err}
	}
	if delinquent {
		return &PolicyError{Reason: ReasonDelinquent, StudentID: studentID}
	}
	return nil
}

func idempotentID(studentID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("trainingcenter:book:"+studentID+":"+key))
}

// Package memory keeps scheduling data in process memory. It backs local runs
// with store.driver=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/lock"
	"trainingcenter/backend/internal/store"
)

type AppointmentRepo struct {
	locks *lock.Keyed

	mu     sync.RWMutex
	appts  map[uuid.UUID]domain.Appointment
	events []domain.AppointmentEvent

	claimMu       sync.Mutex
	discardEvents bool
}

type Option func(*AppointmentRepo)

// DiscardEvents drops lifecycle events at commit. Use it when no relay drains
// the outbox.
func DiscardEvents() Option {
	return func(r *AppointmentRepo) { r.discardEvents = true }
}

func NewAppointmentRepo(opts ...Option) *AppointmentRepo {
	r := &AppointmentRepo{
		locks: lock.NewKeyed(),
		appts: make(map[uuid.UUID]domain.Appointment),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type stagedWrite struct {
	appt        domain.Appointment
	baseVersion int64
}

type appointmentTx struct {
	repo   *AppointmentRepo
	writes map[uuid.UUID]stagedWrite
	events []domain.AppointmentEvent
}

func (r *AppointmentRepo) InPersonsTransaction(ctx context.Context, personIDs []string, fn func(ctx context.Context, tx store.AppointmentTx) error) error {
	unlock, err := r.locks.Lock(ctx, personIDs...)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &appointmentTx{repo: r, writes: make(map[uuid.UUID]stagedWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.commit(tx)
}

func (r *AppointmentRepo) commit(tx *appointmentTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range tx.writes {
		current, ok := r.appts[id]
		switch {
		case w.baseVersion == 0 && ok:
			return store.ErrIdempotencyConflict
		case w.baseVersion > 0 && (!ok || current.Version != w.baseVersion):
			return store.ErrVersionConflict
		}
	}
	for id, w := range tx.writes {
		r.appts[id] = w.appt
	}
	if !r.discardEvents {
		r.events = append(r.events, tx.events...)
	}
	return nil
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appts[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (r *AppointmentRepo) ListByStudent(ctx context.Context, studentID string) ([]domain.Appointment, error) {
	return r.list(func(a domain.Appointment) bool { return a.StudentID == studentID }), nil
}

func (r *AppointmentRepo) ListByInstructor(ctx context.Context, instructorID string) ([]domain.Appointment, error) {
	return r.list(func(a domain.Appointment) bool { return a.InstructorID == instructorID }), nil
}

func (r *AppointmentRepo) ListAll(ctx context.Context) ([]domain.Appointment, error) {
	return r.list(func(domain.Appointment) bool { return true }), nil
}

func (r *AppointmentRepo) list(keep func(domain.Appointment) bool) []domain.Appointment {
	r.mu.RLock()
	out := make([]domain.Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()
	sortByStart(out)
	return out
}

// Events returns a copy of the recorded events that are not yet published.
func (r *AppointmentRepo) Events() []domain.AppointmentEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AppointmentEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *AppointmentRepo) ClaimBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.AppointmentEvent) error) error {
	if limit <= 0 {
		limit = 50
	}

	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	r.mu.RLock()
	batch := make([]domain.AppointmentEvent, 0, limit)
	idx := make([]int, 0, limit)
	for i, ev := range r.events {
		batch = append(batch, ev)
		idx = append(idx, i)
		if len(batch) == limit {
			break
		}
	}
	r.mu.RUnlock()

	if len(batch) == 0 {
		return nil
	}
	if err := fn(ctx, batch); err != nil {
		return err
	}

	// Commits only append, so the claimed indices are still valid here.
	claimed := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		claimed[i] = struct{}{}
	}
	r.mu.Lock()
	kept := r.events[:0]
	for i, ev := range r.events {
		if _, ok := claimed[i]; !ok {
			kept = append(kept, ev)
		}
	}
	clear(r.events[len(kept):])
	r.events = kept
	r.mu.Unlock()
	return nil
}

func (tx *appointmentTx) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	if w, ok := tx.writes[id]; ok {
		return w.appt, nil
	}
	return tx.repo.GetByID(ctx, id)
}

func (tx *appointmentTx) FindOverlapping(ctx context.Context, personID string, role domain.Role, w domain.Window, excludeID uuid.UUID) ([]domain.Appointment, error) {
	var out []domain.Appointment
	for _, a := range tx.snapshot() {
		if a.ID == excludeID && excludeID != uuid.Nil {
			continue
		}
		if a.PersonID(role) != personID || !a.Status.OccupiesCalendar() {
			continue
		}
		if a.Window().Overlaps(w) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (tx *appointmentTx) Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}

	if existing, err := tx.GetByID(ctx, appt.ID); err == nil {
		if existing.SameBooking(appt) {
			return existing, nil
		}
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}

	if err := tx.checkOverlap(appt); err != nil {
		return domain.Appointment{}, err
	}

	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = appt.CreatedAt
	}
	appt.Version = 1
	tx.writes[appt.ID] = stagedWrite{appt: appt}
	return appt, nil
}

func (tx *appointmentTx) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	current, err := tx.GetByID(ctx, appt.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if current.Version != appt.Version {
		return domain.Appointment{}, store.ErrVersionConflict
	}
	if err := tx.checkOverlap(appt); err != nil {
		return domain.Appointment{}, err
	}

	base := appt.Version
	if w, ok := tx.writes[appt.ID]; ok {
		base = w.baseVersion
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = time.Now().UTC()
	}
	appt.Version++
	tx.writes[appt.ID] = stagedWrite{appt: appt, baseVersion: base}
	return appt, nil
}

func (tx *appointmentTx) RecordEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	if ev.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		ev.ID = id
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	tx.events = append(tx.events, ev)
	return nil
}

// checkOverlap mirrors the database exclusion constraints.
func (tx *appointmentTx) checkOverlap(appt domain.Appointment) error {
	if !appt.Status.OccupiesCalendar() {
		return nil
	}
	for _, role := range []domain.Role{domain.RoleStudent, domain.RoleInstructor} {
		for _, other := range tx.snapshot() {
			if other.ID == appt.ID || !other.Status.OccupiesCalendar() {
				continue
			}
			if other.PersonID(role) == appt.PersonID(role) && other.Window().Overlaps(appt.Window()) {
				return &store.OverlapError{Role: role}
			}
		}
	}
	return nil
}

func (tx *appointmentTx) snapshot() []domain.Appointment {
	tx.repo.mu.RLock()
	out := make([]domain.Appointment, 0, len(tx.repo.appts)+len(tx.writes))
	for id, a := range tx.repo.appts {
		if _, staged := tx.writes[id]; staged {
			continue
		}
		out = append(out, a)
	}
	tx.repo.mu.RUnlock()
	for _, w := range tx.writes {
		out = append(out, w.appt)
	}
	return out
}

func sortByStart(appts []domain.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}

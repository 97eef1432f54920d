package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/store"
)

const (
	studentOverlapConstraint    = "appointments_student_no_overlap"
	instructorOverlapConstraint = "appointments_instructor_no_overlap"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type appointmentTx struct {
	tx bun.Tx
}

// InPersonsTransaction takes a transaction-scoped advisory lock per person,
// in sorted order, before running fn. People and payment lookups made with the
// ctx passed to fn run inside the same transaction.
func (r *AppointmentRepo) InPersonsTransaction(ctx context.Context, personIDs []string, fn func(ctx context.Context, tx store.AppointmentTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockPersons(ctx, tx, personIDs); err != nil {
			return err
		}
		return fn(withTx(ctx, tx), appointmentTx{tx: tx})
	})
	return translateError(err)
}

func (r *AppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, r.db, id, false)
}

func (r *AppointmentRepo) ListByStudent(ctx context.Context, studentID string) ([]domain.Appointment, error) {
	return r.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("student_id = ?", studentID)
	})
}

func (r *AppointmentRepo) ListByInstructor(ctx context.Context, instructorID string) ([]domain.Appointment, error) {
	return r.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("instructor_id = ?", instructorID)
	})
}

func (r *AppointmentRepo) ListAll(ctx context.Context) ([]domain.Appointment, error) {
	return r.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery { return q })
}

func (r *AppointmentRepo) list(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := filter(r.db.NewSelect().Model(&rows)).
		OrderExpr("start_time ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t appointmentTx) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, t.tx, id, true)
}

func (t appointmentTx) FindOverlapping(ctx context.Context, personID string, role domain.Role, w domain.Window, excludeID uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := t.tx.NewSelect().
		Model(&rows).
		Where("? = ?", bun.Ident(personColumn(role)), personID).
		Where("status IN (?)", bun.In(domain.ActiveStatuses())).
		Where("start_time < ?", w.End).
		Where("end_time > ?", w.Start).
		OrderExpr("start_time ASC")
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t appointmentTx) Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	m.Version = 1

	res, err := t.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 1 {
		return m, nil
	}

	existing, err := getAppointment(ctx, t.tx, m.ID, false)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !existing.SameBooking(appt) {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func (t appointmentTx) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	next := appt
	next.Version = appt.Version + 1

	res, err := t.tx.NewUpdate().
		Model(&next).
		Column("start_time", "end_time", "status", "description", "cancel_reason", "version", "updated_at").
		Where("id = ?", appt.ID).
		Where("version = ?", appt.Version).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, translateError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		exists, err := t.tx.NewSelect().
			Model((*domain.Appointment)(nil)).
			Where("id = ?", appt.ID).
			Exists(ctx)
		if err != nil {
			return domain.Appointment{}, err
		}
		if !exists {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, store.ErrVersionConflict
	}
	return next, nil
}

func (t appointmentTx) RecordEvent(ctx context.Context, ev domain.AppointmentEvent) error {
	_, err := t.tx.NewInsert().Model(&ev).Exec(ctx)
	return err
}

func getAppointment(ctx context.Context, db bun.IDB, id uuid.UUID, forUpdate bool) (domain.Appointment, error) {
	var a domain.Appointment
	q := db.NewSelect().Model(&a).Where("id = ?", id).Limit(1)
	if forUpdate {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return a, nil
}

func personColumn(role domain.Role) string {
	if role == domain.RoleInstructor {
		return "instructor_id"
	}
	return "student_id"
}

// lockKeys returns the distinct non-empty ids in a stable order so that
// concurrent transactions acquire advisory locks without deadlocking.
func lockKeys(personIDs []string) []string {
	seen := make(map[string]struct{}, len(personIDs))
	out := make([]string, 0, len(personIDs))
	for _, id := range personIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23P01":
		switch pgErr.ConstraintName {
		case studentOverlapConstraint:
			return &store.OverlapError{Role: domain.RoleStudent}
		case instructorOverlapConstraint:
			return &store.OverlapError{Role: domain.RoleInstructor}
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrSerialization, pgErr.Message)
	}
	return err
}

package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"trainingcenter/backend/internal/domain"
	"trainingcenter/backend/internal/store"
)

type PeopleRepo struct {
	db bun.IDB
}

func NewPeopleRepo(db bun.IDB) *PeopleRepo {
	return &PeopleRepo{db: db}
}

func (r *PeopleRepo) Exists(ctx context.Context, personID string) (bool, error) {
	return idb(ctx, r.db).NewSelect().
		Model((*domain.Person)(nil)).
		Where("id = ?", personID).
		Where("active").
		Exists(ctx)
}

func (r *PeopleRepo) DisplayName(ctx context.Context, personID string) (string, error) {
	var name string
	err := idb(ctx, r.db).NewSelect().
		Model((*domain.Person)(nil)).
		Column("display_name").
		Where("id = ?", personID).
		Limit(1).
		Scan(ctx, &name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// Upsert stores or replaces a person record.
func (r *PeopleRepo) Upsert(ctx context.Context, p domain.Person) error {
	_, err := r.db.NewInsert().
		Model(&p).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("role = EXCLUDED.role").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}

type PaymentsRepo struct {
	db bun.IDB
}

func NewPaymentsRepo(db bun.IDB) *PaymentsRepo {
	return &PaymentsRepo{db: db}
}

// IsDelinquent reports whether the student has at least one overdue payment.
func (r *PaymentsRepo) IsDelinquent(ctx context.Context, studentID string) (bool, error) {
	return idb(ctx, r.db).NewSelect().
		Model((*domain.Payment)(nil)).
		Where("student_id = ?", studentID).
		Where("status = ?", domain.PaymentOverdue).
		Exists(ctx)
}

// Insert records a payment while holding the student's advisory lock, the
// lock bookings hold while they check delinquency.
func (r *PaymentsRepo) Insert(ctx context.Context, p domain.Payment) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockPersons(ctx, tx, []string{p.StudentID}); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&p).Exec(ctx)
		return err
	})
}

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"trainingcenter/backend/internal/domain"
)

// ClaimBatch locks up to limit unpublished events with SKIP LOCKED, so several
// relays can drain the outbox without handing out the same event twice.
func (r *AppointmentRepo) ClaimBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []domain.AppointmentEvent) error) error {
	if limit <= 0 {
		limit = 50
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []domain.AppointmentEvent
		err := tx.NewSelect().
			Model(&rows).
			Where("published_at IS NULL").
			OrderExpr("occurred_at ASC, id ASC").
			Limit(limit).
			For("UPDATE SKIP LOCKED").
			Scan(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		if err := fn(ctx, rows); err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(rows))
		for _, ev := range rows {
			ids = append(ids, ev.ID)
		}
		_, err = tx.NewUpdate().
			Model((*domain.AppointmentEvent)(nil)).
			Set("published_at = ?", time.Now().UTC()).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		return err
	})
}

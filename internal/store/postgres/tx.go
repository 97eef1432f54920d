package postgres

import (
	"context"

	"github.com/uptrace/bun"
)

type txKey struct{}

// withTx makes tx visible to the repositories called from inside a person
// transaction, so their reads share its connection and its locks.
func withTx(ctx context.Context, tx bun.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// idb returns the transaction carried by ctx, or fallback outside one.
func idb(ctx context.Context, fallback bun.IDB) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return fallback
}

// lockPersons takes a transaction-scoped advisory lock per person in sorted
// order.
func lockPersons(ctx context.Context, tx bun.Tx, personIDs []string) error {
	for _, key := range lockKeys(personIDs) {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", key).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

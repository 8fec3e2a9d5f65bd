package runs

import (
	"context"

	"batchexports/internal/db"
)

// PostgresStore binds the run and backfill repositories to a transaction.
type PostgresStore struct {
	tx *db.TxManager
}

// NewPostgresStore creates a store over pool.
func NewPostgresStore(pool db.TxBeginner) *PostgresStore {
	return &PostgresStore{tx: db.NewTxManager(pool)}
}

// RunInTx runs fn with repositories bound to one transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, Repos{
			Runs:      db.NewRunRepository(tx),
			Backfills: db.NewBackfillRepository(tx),
		})
	})
}

package lifecycle

import (
	"context"
	"log/slog"

	"batchexports/internal/db"
)

// PostgresStore binds the PostgreSQL repositories to a pool, or to a
// transaction inside RunInTx.
type PostgresStore struct {
	pool   db.DBTX
	tx     *db.TxManager
	cipher db.FieldCipher
	logger *slog.Logger
}

// NewPostgresStore creates a store over pool. pool usually is a
// *pgxpool.Pool, which is both a DBTX and a TxBeginner.
func NewPostgresStore(pool interface {
	db.DBTX
	db.TxBeginner
}, cipher db.FieldCipher, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		tx:     db.NewTxManager(pool),
		cipher: cipher,
		logger: logger,
	}
}

// Repos returns repositories that run outside any transaction.
func (s *PostgresStore) Repos() Repos {
	return s.bind(s.pool)
}

// RunInTx runs fn with repositories bound to one transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		return fn(ctx, s.bind(tx))
	})
}

func (s *PostgresStore) bind(conn db.DBTX) Repos {
	return Repos{
		Teams:        db.NewTeamRepository(conn),
		Exports:      db.NewExportRepository(conn),
		Destinations: db.NewDestinationRepository(conn, s.cipher, s.logger),
		Backfills:    db.NewBackfillRepository(conn),
		Runs:         db.NewRunRepository(conn),
	}
}

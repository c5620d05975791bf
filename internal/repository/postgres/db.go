package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS payment_transactions (
			transaction_id TEXT PRIMARY KEY,
			provider       TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			plan           TEXT NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount > 0),
			currency       TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'PENDING'
			               CHECK (status IN ('PENDING', 'SUCCESS', 'FAILED')),
			metadata       JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_transactions_user_id ON payment_transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_payment_transactions_status_created ON payment_transactions(status, created_at);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                       TEXT PRIMARY KEY,
			user_id                  TEXT NOT NULL UNIQUE,
			plan                     TEXT NOT NULL,
			status                   TEXT NOT NULL,
			payment_provider         TEXT NOT NULL,
			provider_transaction_ref TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL DEFAULT '',
			current_period_start     TIMESTAMPTZ NOT NULL,
			current_period_end       TIMESTAMPTZ NOT NULL,
			created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_provider_sub ON subscriptions(provider_subscription_id)
			WHERE provider_subscription_id <> '';

		CREATE TABLE IF NOT EXISTS payment_callback_logs (
			id              TEXT PRIMARY KEY,
			provider        TEXT NOT NULL,
			channel         TEXT NOT NULL,
			transaction_ref TEXT NOT NULL DEFAULT '',
			signature_valid BOOLEAN NOT NULL,
			outcome         TEXT NOT NULL,
			error           TEXT NOT NULL DEFAULT '',
			payload         TEXT NOT NULL,
			received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payment_callback_logs_ref ON payment_callback_logs(transaction_ref);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

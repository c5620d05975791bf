package postgres

import (
	"context"

	"github.com/folioforge/backend/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the PostgreSQL implementation of repository.Store.
type Store struct {
	pool   *pgxpool.Pool
	ledger *LedgerRepository
	subs   *SubscriptionRepository
	logs   *CallbackLogRepository
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:   pool,
		ledger: NewLedgerRepository(pool),
		subs:   NewSubscriptionRepository(pool),
		logs:   NewCallbackLogRepository(pool),
	}
}

func (s *Store) Ledger() repository.Ledger { return s.ledger }
func (s *Store) Subscriptions() repository.SubscriptionStore { return s.subs }
func (s *Store) CallbackLogs() repository.CallbackLogStore { return s.logs }
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// InTx runs fn inside a database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(txStores{
			ledger: NewLedgerRepository(tx),
			subs:   NewSubscriptionRepository(tx),
		})
	})
}

type txStores struct {
	ledger *LedgerRepository
	subs   *SubscriptionRepository
}

func (t txStores) Ledger() repository.Ledger { return t.ledger }
func (t txStores) Subscriptions() repository.SubscriptionStore { return t.subs }

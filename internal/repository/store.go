package repository

import (
	"context"

	"github.com/folioforge/backend/internal/domain"
)

// Tx exposes the stores bound to one unit of work.
type Tx interface {
	Ledger() Ledger
	Subscriptions() SubscriptionStore
}

// Store is the settlement record store.
type Store interface {
	Tx
	CallbackLogs() CallbackLogStore

	// InTx runs fn in a single transaction. Any error returned by fn rolls
	// back every write made through the Tx it was given.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks the backing store is reachable.
	Ping(ctx context.Context) error
}

// CallbackLogStore is the append-only audit of inbound gateway deliveries.
type CallbackLogStore interface {
	Create(ctx context.Context, entry *domain.CallbackLog) error
	ListByRef(ctx context.Context, ref string) ([]*domain.CallbackLog, error)
}

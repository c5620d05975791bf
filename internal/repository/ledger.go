package repository

import (
	"context"
	"time"

	"github.com/folioforge/backend/internal/domain"
)

// Ledger records every payment attempt and settles each one at most once.
type Ledger interface {
	// RecordPending inserts a new PENDING row. It returns
	// domain.ErrDuplicateTransaction if the reference already exists.
	RecordPending(ctx context.Context, txn *domain.PaymentTransaction) error

	// Get retrieves a row by reference. It returns domain.ErrUnknownTransaction
	// when absent.
	Get(ctx context.Context, ref string) (*domain.PaymentTransaction, error)

	// TransitionIfPending atomically moves a PENDING row to a terminal status
	// and merges patch into its metadata. When the row is already terminal it
	// returns applied=false and the stored row unchanged.
	TransitionIfPending(ctx context.Context, ref string, status domain.TransactionStatus, patch domain.Metadata) (bool, *domain.PaymentTransaction, error)

	// List returns rows matching filter, newest first.
	List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.PaymentTransaction, error)

	// ListPendingBefore returns PENDING rows created before cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentTransaction, error)

	// Stats counts rows by status and by provider.
	Stats(ctx context.Context) (*domain.BillingStats, error)
}

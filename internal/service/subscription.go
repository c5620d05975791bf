package service

import (
	"context"
	"errors"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/repository"
)

const defaultListLimit = 50

// BillingService answers read-only billing queries for users and operators.
type BillingService struct {
	store repository.Store
}

func NewBillingService(store repository.Store) *BillingService {
	return &BillingService{store: store}
}

// GetSubscription returns the user's subscription, or nil if they never paid.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.store.Subscriptions().FindByUserID(ctx, userID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	return sub, nil
}

// ListTransactions returns the user's ledger rows, newest first.
func (s *BillingService) ListTransactions(ctx context.Context, userID string, limit int) ([]*domain.PaymentTransaction, error) {
	return s.List(ctx, domain.TransactionFilter{UserID: userID, Limit: limit})
}

// GetTransaction returns one row owned by userID. Rows of other users are
// reported as not found.
func (s *BillingService) GetTransaction(ctx context.Context, userID, ref string) (*domain.PaymentTransaction, error) {
	txn, err := s.Transaction(ctx, ref)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, domain.ErrNotFound("transaction not found")
	}
	return txn, nil
}

// Transaction returns any row by reference.
func (s *BillingService) Transaction(ctx context.Context, ref string) (*domain.PaymentTransaction, error) {
	txn, err := s.store.Ledger().Get(ctx, ref)
	if err != nil {
		if isUnknown(err) {
			return nil, domain.ErrNotFound("transaction not found")
		}
		return nil, domain.ErrInternal("failed to load transaction", err)
	}
	return txn, nil
}

// List returns ledger rows matching filter.
func (s *BillingService) List(ctx context.Context, filter domain.TransactionFilter) ([]*domain.PaymentTransaction, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = defaultListLimit
	}
	rows, err := s.store.Ledger().List(ctx, filter)
	if err != nil {
		return nil, domain.ErrInternal("failed to list transactions", err)
	}
	if rows == nil {
		rows = []*domain.PaymentTransaction{}
	}
	return rows, nil
}

// Stats summarises the ledger and active subscriptions.
func (s *BillingService) Stats(ctx context.Context) (*domain.BillingStats, error) {
	stats, err := s.store.Ledger().Stats(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to compute stats", err)
	}
	active, err := s.store.Subscriptions().CountActive(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to count subscriptions", err)
	}
	stats.ActiveSubscriptions = active
	return stats, nil
}

// CallbackLogs returns the audit trail of one transaction.
func (s *BillingService) CallbackLogs(ctx context.Context, ref string) ([]*domain.CallbackLog, error) {
	logs, err := s.store.CallbackLogs().ListByRef(ctx, ref)
	if err != nil {
		return nil, domain.ErrInternal("failed to load callback logs", err)
	}
	return logs, nil
}

func isUnknown(err error) bool {
	return errors.Is(err, domain.ErrUnknownTransaction)
}

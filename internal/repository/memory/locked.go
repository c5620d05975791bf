package memory

import (
	"context"
	"time"

	"github.com/folioforge/backend/internal/domain"
)

// The locked* types take the store lock around each call of the unlocked view.

type lockedLedger struct{ s *Store }

func (l lockedLedger) RecordPending(ctx context.Context, txn *domain.PaymentTransaction) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.RecordPending(ctx, txn)
}

func (l lockedLedger) Get(ctx context.Context, ref string) (*domain.PaymentTransaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.Get(ctx, ref)
}

func (l lockedLedger) TransitionIfPending(ctx context.Context, ref string, status domain.TransactionStatus, patch domain.Metadata) (bool, *domain.PaymentTransaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.TransitionIfPending(ctx, ref, status, patch)
}

func (l lockedLedger) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.PaymentTransaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.List(ctx, f)
}

func (l lockedLedger) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.ListPendingBefore(ctx, cutoff, limit)
}

func (l lockedLedger) Stats(ctx context.Context) (*domain.BillingStats, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return ledger{l.s}.Stats(ctx)
}

type lockedSubs struct{ s *Store }

func (r lockedSubs) Upsert(ctx context.Context, sub *domain.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return subs{r.s}.Upsert(ctx, sub)
}

func (r lockedSubs) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return subs{r.s}.FindByUserID(ctx, userID)
}

func (r lockedSubs) UpdateByProviderSubscriptionID(ctx context.Context, providerSubID string, status domain.SubscriptionStatus, periodEnd *time.Time) (*domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return subs{r.s}.UpdateByProviderSubscriptionID(ctx, providerSubID, status, periodEnd)
}

func (r lockedSubs) CountActive(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return subs{r.s}.CountActive(ctx)
}

type lockedLogs struct{ s *Store }

func (r lockedLogs) Create(ctx context.Context, entry *domain.CallbackLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return logs{r.s}.Create(ctx, entry)
}

func (r lockedLogs) ListByRef(ctx context.Context, ref string) ([]*domain.CallbackLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return logs{r.s}.ListByRef(ctx, ref)
}

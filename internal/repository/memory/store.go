// Package memory is an in-process repository.Store used by tests and the
// STORE=memory development mode. One mutex serialises every operation, which
// makes TransitionIfPending a compare-and-swap.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/repository"
)

// Store holds ledger rows, subscriptions and callback logs in maps.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

type state struct {
	txns map[string]*domain.PaymentTransaction
	subs map[string]*domain.Subscription
	logs []*domain.CallbackLog
}

// New creates an empty store.
func New() *Store {
	return &Store{
		state: state{
			txns: make(map[string]*domain.PaymentTransaction),
			subs: make(map[string]*domain.Subscription),
		},
		now: time.Now,
	}
}

// WithClock replaces the clock used for updated_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ledger() repository.Ledger { return lockedLedger{s} }
func (s *Store) Subscriptions() repository.SubscriptionStore { return lockedSubs{s} }
func (s *Store) CallbackLogs() repository.CallbackLogStore { return lockedLogs{s} }
func (s *Store) Ping(context.Context) error { return nil }

// InTx runs fn holding the store lock. Writes are discarded if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(view{s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (st state) clone() state {
	c := state{
		txns: make(map[string]*domain.PaymentTransaction, len(st.txns)),
		subs: make(map[string]*domain.Subscription, len(st.subs)),
		logs: append([]*domain.CallbackLog(nil), st.logs...),
	}
	for k, v := range st.txns {
		c.txns[k] = v.Clone()
	}
	for k, v := range st.subs {
		sub := *v
		c.subs[k] = &sub
	}
	return c
}

// view operates on the state without locking; the caller holds s.mu.
type view struct{ s *Store }

func (v view) Ledger() repository.Ledger { return ledger{v.s} }
func (v view) Subscriptions() repository.SubscriptionStore { return subs{v.s} }

type ledger struct{ s *Store }

func (l ledger) RecordPending(_ context.Context, txn *domain.PaymentTransaction) error {
	if _, ok := l.s.state.txns[txn.TransactionID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, txn.TransactionID)
	}
	row := txn.Clone()
	row.Status = domain.StatusPending
	if row.Metadata == nil {
		row.Metadata = domain.Metadata{}
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = l.s.now()
	}
	row.UpdatedAt = row.CreatedAt
	l.s.state.txns[row.TransactionID] = row

	txn.Status = row.Status
	txn.CreatedAt = row.CreatedAt
	txn.UpdatedAt = row.UpdatedAt
	return nil
}

func (l ledger) Get(_ context.Context, ref string) (*domain.PaymentTransaction, error) {
	row, ok := l.s.state.txns[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTransaction, ref)
	}
	return row.Clone(), nil
}

func (l ledger) TransitionIfPending(_ context.Context, ref string, status domain.TransactionStatus, patch domain.Metadata) (bool, *domain.PaymentTransaction, error) {
	if !status.Terminal() {
		return false, nil, fmt.Errorf("%w: %s is not terminal", domain.ErrInvalidTransition, status)
	}
	row, ok := l.s.state.txns[ref]
	if !ok {
		return false, nil, fmt.Errorf("%w: %s", domain.ErrUnknownTransaction, ref)
	}
	if row.Status != domain.StatusPending {
		return false, row.Clone(), nil
	}
	row.Status = status
	row.Metadata = row.Metadata.Merge(patch)
	row.UpdatedAt = l.s.now()
	return true, row.Clone(), nil
}

func (l ledger) List(_ context.Context, f domain.TransactionFilter) ([]*domain.PaymentTransaction, error) {
	var out []*domain.PaymentTransaction
	for _, row := range l.s.state.txns {
		if f.UserID != "" && row.UserID != f.UserID {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		if f.Provider != "" && row.Provider != f.Provider {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (l ledger) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentTransaction, error) {
	var out []*domain.PaymentTransaction
	for _, row := range l.s.state.txns {
		if row.Status == domain.StatusPending && row.CreatedAt.Before(cutoff) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l ledger) Stats(context.Context) (*domain.BillingStats, error) {
	stats := &domain.BillingStats{
		ByStatus:   make(map[domain.TransactionStatus]int),
		ByProvider: make(map[domain.Provider]int),
	}
	for _, row := range l.s.state.txns {
		stats.ByStatus[row.Status]++
		stats.ByProvider[row.Provider]++
	}
	return stats, nil
}

type subs struct{ s *Store }

func (r subs) Upsert(_ context.Context, sub *domain.Subscription) error {
	if existing, ok := r.s.state.subs[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	}
	stored := *sub
	r.s.state.subs[sub.UserID] = &stored
	return nil
}

func (r subs) FindByUserID(_ context.Context, userID string) (*domain.Subscription, error) {
	sub, ok := r.s.state.subs[userID]
	if !ok {
		return nil, nil
	}
	c := *sub
	return &c, nil
}

func (r subs) UpdateByProviderSubscriptionID(_ context.Context, providerSubID string, status domain.SubscriptionStatus, periodEnd *time.Time) (*domain.Subscription, error) {
	if providerSubID == "" {
		return nil, nil
	}
	for _, sub := range r.s.state.subs {
		if sub.ProviderSubscriptionID != providerSubID {
			continue
		}
		sub.Status = status
		if periodEnd != nil {
			sub.CurrentPeriodEnd = *periodEnd
		}
		sub.UpdatedAt = r.s.now()
		c := *sub
		return &c, nil
	}
	return nil, nil
}

func (r subs) CountActive(context.Context) (int, error) {
	n := 0
	for _, sub := range r.s.state.subs {
		if sub.Status == domain.SubscriptionActive {
			n++
		}
	}
	return n, nil
}

type logs struct{ s *Store }

func (r logs) Create(_ context.Context, entry *domain.CallbackLog) error {
	c := *entry
	r.s.state.logs = append(r.s.state.logs, &c)
	return nil
}

func (r logs) ListByRef(_ context.Context, ref string) ([]*domain.CallbackLog, error) {
	var out []*domain.CallbackLog
	for _, entry := range r.s.state.logs {
		if entry.TransactionRef == ref {
			c := *entry
			out = append(out, &c)
		}
	}
	return out, nil
}

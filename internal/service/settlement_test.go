package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func newTestStore() *memory.Store {
	return memory.New().WithClock(clock)
}

func seedPending(t *testing.T, store *memory.Store, ref string, provider domain.Provider, plan domain.Plan, amount int64, currency string) {
	t.Helper()
	require.NoError(t, store.Ledger().RecordPending(context.Background(), &domain.PaymentTransaction{
		TransactionID: ref,
		Provider:      provider,
		UserID:        "u1",
		Plan:          plan,
		Amount:        amount,
		Currency:      currency,
		Metadata:      domain.Metadata{domain.MetaBillingCycle: "monthly", domain.MetaEmail: "u1@example.com"},
	}))
}

func vnpayEvent(ref string, amount int64, success bool, channel domain.Channel) *domain.ConfirmationEvent {
	ev := &domain.ConfirmationEvent{
		Provider:         domain.ProviderVNPay,
		Ref:              ref,
		VerifiedAmount:   amount,
		VerifiedCurrency: "VND",
		Success:          success,
		ProviderTxnID:    "14012345",
		Channel:          channel,
	}
	if !success {
		ev.FailureReason = "cancelled by customer"
	}
	return ev
}

// countingStore counts subscription upserts made through the store or any
// transaction it opens.
type countingStore struct {
	repository.Store
	upserts atomic.Int32
}

type countingTx struct {
	repository.Tx
	store *countingStore
}

type countingSubscriptions struct {
	repository.SubscriptionStore
	store *countingStore
}

func (s *countingStore) Subscriptions() repository.SubscriptionStore {
	return &countingSubscriptions{SubscriptionStore: s.Store.Subscriptions(), store: s}
}

func (s *countingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&countingTx{Tx: tx, store: s})
	})
}

func (t *countingTx) Subscriptions() repository.SubscriptionStore {
	return &countingSubscriptions{SubscriptionStore: t.Tx.Subscriptions(), store: t.store}
}

func (s *countingSubscriptions) Upsert(ctx context.Context, sub *domain.Subscription) error {
	s.store.upserts.Add(1)
	return s.SubscriptionStore.Upsert(ctx, sub)
}

func TestApplyReturnThenIPN(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store).WithClock(clock)

	res, err := r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelReturn))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)
	assert.Equal(t, domain.StatusSuccess, res.Transaction.Status)
	assert.Equal(t, "14012345", res.Transaction.Metadata[domain.MetaGatewayTransactionID])
	assert.Equal(t, "return", res.Transaction.Metadata[domain.MetaChannel])
	assert.Equal(t, "u1@example.com", res.Transaction.Metadata[domain.MetaEmail])

	sub, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.PlanPro, sub.Plan)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Equal(t, domain.ProviderVNPay, sub.PaymentProvider)
	assert.Equal(t, "u1_PRO_1000", sub.ProviderTransactionRef)
	assert.Equal(t, testNow.AddDate(0, 0, 30), sub.CurrentPeriodEnd)

	res, err = r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadySettled, res.Outcome)
	assert.Equal(t, "return", res.Transaction.Metadata[domain.MetaChannel])

	again, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, sub, again)
}

func TestApplyConcurrentConfirmationsActivateOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	counting := &countingStore{Store: store}
	r := NewReconciler(counting).WithClock(clock)

	const n = 50
	outcomes := make(chan domain.Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			channel := domain.ChannelReturn
			if i%2 == 0 {
				channel = domain.ChannelIPN
			}
			res, err := r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, channel))
			if assert.NoError(t, err) {
				outcomes <- res.Outcome
			}
		}(i)
	}
	wg.Wait()
	close(outcomes)

	counts := map[domain.Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[domain.OutcomeSettled])
	assert.Equal(t, n-1, counts[domain.OutcomeAlreadySettled])
	assert.Equal(t, int32(1), counting.upserts.Load())

	sub, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "u1_PRO_1000", sub.ProviderTransactionRef)
}

func TestApplyFailureIsFinal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store).WithClock(clock)

	res, err := r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, false, domain.ChannelReturn))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, "cancelled by customer", res.Transaction.Metadata[domain.MetaFailureReason])

	res, err = r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeAlreadySettled, res.Outcome)
	assert.Equal(t, domain.StatusFailed, res.Transaction.Status)

	sub, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestApplyFailureDoesNotDowngrade(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	seedPending(t, store, "u1_PRO_2000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store).WithClock(clock)

	_, err := r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN))
	require.NoError(t, err)
	before, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, before)

	res, err := r.Apply(ctx, vnpayEvent("u1_PRO_2000", 200000, false, domain.ChannelIPN))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)

	after, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyAmountMismatchLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store)

	_, err := r.Apply(ctx, vnpayEvent("u1_PRO_1000", 1000, true, domain.ChannelIPN))
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	ev := vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN)
	ev.VerifiedCurrency = "USD"
	_, err = r.Apply(ctx, ev)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	txn, err := store.Ledger().Get(ctx, "u1_PRO_1000")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, txn.Status)
}

func TestApplyRejectsBadReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store)

	_, err := r.Apply(ctx, vnpayEvent("garbage", 200000, true, domain.ChannelIPN))
	assert.ErrorIs(t, err, domain.ErrInvalidReference)

	_, err = r.Apply(ctx, vnpayEvent("u9_PRO_1000", 200000, true, domain.ChannelIPN))
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)

	ev := vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN)
	ev.Provider = domain.ProviderMoMo
	_, err = r.Apply(ctx, ev)
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)

	txn, err := store.Ledger().Get(ctx, "u1_PRO_1000")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, txn.Status)
}

func TestApplyKeepsLifetimeOverPro(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_LIFETIME_1000", domain.ProviderVNPay, domain.PlanLifetime, 4990000, "VND")
	seedPending(t, store, "u1_PRO_2000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store).WithClock(clock)

	res, err := r.Apply(ctx, vnpayEvent("u1_LIFETIME_1000", 4990000, true, domain.ChannelIPN))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)

	res, err = r.Apply(ctx, vnpayEvent("u1_PRO_2000", 200000, true, domain.ChannelIPN))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSettled, res.Outcome)

	sub, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanLifetime, sub.Plan)
	assert.Equal(t, domain.LifetimePeriodEnd, sub.CurrentPeriodEnd)
}

func TestApplyUsesProviderPeriodEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderStripe, domain.PlanPro, 999, "USD")
	r := NewReconciler(store).WithClock(clock)

	end := testNow.Add(31 * 24 * time.Hour)
	_, err := r.Apply(ctx, &domain.ConfirmationEvent{
		Provider: domain.ProviderStripe, Ref: "u1_PRO_1000", VerifiedAmount: 999, VerifiedCurrency: "USD",
		Success: true, ProviderTxnID: "cs_1", ProviderSubscriptionID: "sub_123", PeriodEnd: &end,
		Channel: domain.ChannelWebhook,
	})
	require.NoError(t, err)

	sub, err := store.Subscriptions().FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, end, sub.CurrentPeriodEnd)
	assert.Equal(t, "sub_123", sub.ProviderSubscriptionID)
}

func TestApplyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderStripe, domain.PlanPro, 999, "USD")
	r := NewReconciler(store).WithClock(clock)

	_, err := r.Apply(ctx, &domain.ConfirmationEvent{
		Provider: domain.ProviderStripe, Ref: "u1_PRO_1000", VerifiedAmount: 999, VerifiedCurrency: "USD",
		Success: true, ProviderSubscriptionID: "sub_123", Channel: domain.ChannelWebhook,
	})
	require.NoError(t, err)

	sub, err := r.ApplyLifecycle(ctx, &domain.LifecycleEvent{
		Provider: domain.ProviderStripe, ProviderSubscriptionID: "sub_123",
		Status: domain.SubscriptionPastDue, Kind: "invoice.payment_failed",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionPastDue, sub.Status)

	renewed := testNow.AddDate(0, 2, 0)
	sub, err = r.ApplyLifecycle(ctx, &domain.LifecycleEvent{
		Provider: domain.ProviderStripe, ProviderSubscriptionID: "sub_123",
		Status: domain.SubscriptionActive, PeriodEnd: &renewed, Kind: "invoice.paid",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Equal(t, renewed, sub.CurrentPeriodEnd)

	_, err = r.ApplyLifecycle(ctx, &domain.LifecycleEvent{ProviderSubscriptionID: "sub_unknown", Status: domain.SubscriptionCanceled})
	assert.ErrorIs(t, err, domain.ErrIgnoredEvent)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	seedPending(t, store, "u1_PRO_1000", domain.ProviderVNPay, domain.PlanPro, 200000, "VND")
	r := NewReconciler(store).WithClock(clock)

	_, err := r.Rebuild(ctx, "u1")
	assert.Error(t, err)

	_, err = r.Apply(ctx, vnpayEvent("u1_PRO_1000", 200000, true, domain.ChannelIPN))
	require.NoError(t, err)

	// Drift the projection, then rebuild it from the ledger.
	require.NoError(t, store.Subscriptions().Upsert(ctx, &domain.Subscription{UserID: "u1", Plan: domain.PlanPro, Status: domain.SubscriptionCanceled}))
	sub, err := r.Rebuild(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)
	assert.Equal(t, "u1_PRO_1000", sub.ProviderTransactionRef)
	assert.Equal(t, testNow.AddDate(0, 0, 30), sub.CurrentPeriodEnd)
}

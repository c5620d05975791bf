package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real database when TEST_DATABASE_URL is set.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewDB(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool))
	return NewStore(pool)
}

// pendingRow returns a row whose user id is unique to the test run.
func pendingRow() *domain.PaymentTransaction {
	user := uuid.NewString()[:8]
	return &domain.PaymentTransaction{
		TransactionID: user + "_PRO_" + time.Now().Format("150405.000000000")[7:],
		Provider:      domain.ProviderVNPay,
		UserID:        user,
		Plan:          domain.PlanPro,
		Amount:        200000,
		Currency:      "VND",
		Metadata:      domain.Metadata{domain.MetaBillingCycle: "monthly"},
	}
}

func TestLedgerRecordAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	txn := pendingRow()

	require.NoError(t, store.Ledger().RecordPending(ctx, txn))
	assert.False(t, txn.CreatedAt.IsZero())

	err := store.Ledger().RecordPending(ctx, pendingRowWithRef(txn.TransactionID))
	assert.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	got, err := store.Ledger().Get(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, "monthly", got.Metadata[domain.MetaBillingCycle])

	_, err = store.Ledger().Get(ctx, "nobody_PRO_1")
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
}

func pendingRowWithRef(ref string) *domain.PaymentTransaction {
	row := pendingRow()
	row.TransactionID = ref
	return row
}

func TestLedgerTransitionIsCompareAndSwap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	txn := pendingRow()
	require.NoError(t, store.Ledger().RecordPending(ctx, txn))

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, row, err := store.Ledger().TransitionIfPending(ctx, txn.TransactionID, domain.StatusSuccess,
				domain.Metadata{domain.MetaGatewayTransactionID: "14012345"})
			if assert.NoError(t, err) && ok {
				applied.Add(1)
				assert.Equal(t, domain.StatusSuccess, row.Status)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), applied.Load())

	ok, row, err := store.Ledger().TransitionIfPending(ctx, txn.TransactionID, domain.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusSuccess, row.Status)
	assert.Equal(t, "monthly", row.Metadata[domain.MetaBillingCycle])
	assert.Equal(t, "14012345", row.Metadata[domain.MetaGatewayTransactionID])

	_, _, err = store.Ledger().TransitionIfPending(ctx, txn.TransactionID, domain.StatusPending, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestInTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	txn := pendingRow()
	require.NoError(t, store.Ledger().RecordPending(ctx, txn))

	boom := errors.New("boom")
	err := store.InTx(ctx, func(tx repository.Tx) error {
		ok, _, err := tx.Ledger().TransitionIfPending(ctx, txn.TransactionID, domain.StatusSuccess, nil)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Ledger().Get(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
}

func TestSubscriptionUpsertKeepsIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	user := uuid.NewString()[:8]

	first := &domain.Subscription{
		ID:                     uuid.NewString(),
		UserID:                 user,
		Plan:                   domain.PlanPro,
		Status:                 domain.SubscriptionActive,
		PaymentProvider:        domain.ProviderStripe,
		ProviderTransactionRef: user + "_PRO_1",
		ProviderSubscriptionID: "sub_" + user,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	require.NoError(t, store.Subscriptions().Upsert(ctx, first))

	second := *first
	second.ID = uuid.NewString()
	second.Plan = domain.PlanLifetime
	second.CreatedAt = now.Add(time.Hour)
	require.NoError(t, store.Subscriptions().Upsert(ctx, &second))
	assert.Equal(t, first.ID, second.ID)

	got, err := store.Subscriptions().FindByUserID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanLifetime, got.Plan)

	end := now.AddDate(0, 2, 0)
	updated, err := store.Subscriptions().UpdateByProviderSubscriptionID(ctx, "sub_"+user, domain.SubscriptionCanceled, &end)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, domain.SubscriptionCanceled, updated.Status)

	none, err := store.Subscriptions().FindByUserID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCallbackLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ref := uuid.NewString()[:8] + "_PRO_1"

	for _, outcome := range []domain.Outcome{domain.OutcomeSettled, domain.OutcomeAlreadySettled} {
		require.NoError(t, store.CallbackLogs().Create(ctx, &domain.CallbackLog{
			ID:             uuid.NewString(),
			Provider:       domain.ProviderVNPay,
			Channel:        domain.ChannelIPN,
			TransactionRef: ref,
			SignatureValid: true,
			Outcome:        outcome,
			ReceivedAt:     time.Now(),
		}))
	}
	logs, err := store.CallbackLogs().ListByRef(ctx, ref)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OutcomeSettled, logs[0].Outcome)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/pkg/orderref"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Reconciler turns verified gateway confirmations into ledger transitions and
// subscription activations. A transaction is settled at most once no matter
// how many channels report it.
type Reconciler struct {
	store repository.Store
	now   func() time.Time
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store repository.Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// WithClock replaces the clock used for subscription periods.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Apply settles the transaction named by event.Ref.
func (r *Reconciler) Apply(ctx context.Context, event *domain.ConfirmationEvent) (*domain.SettlementResult, error) {
	log := logger.FromContext(ctx).With(
		zap.String("ref", event.Ref),
		zap.String("provider", string(event.Provider)),
		zap.String("channel", string(event.Channel)),
	)

	if _, err := orderref.Decode(event.Ref); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidReference, err)
	}

	txn, err := r.store.Ledger().Get(ctx, event.Ref)
	if err != nil {
		return nil, err
	}
	if txn.Provider != event.Provider {
		log.Warn("confirmation from a different provider than the transaction", zap.String("txn_provider", string(txn.Provider)))
		return nil, fmt.Errorf("%w: transaction %s belongs to %s", domain.ErrVerificationFailed, txn.TransactionID, txn.Provider)
	}
	if event.VerifiedAmount != txn.Amount || event.VerifiedCurrency != txn.Currency {
		log.Warn("confirmed amount does not match ledger",
			zap.Int64("expected", txn.Amount), zap.String("expected_currency", txn.Currency),
			zap.Int64("got", event.VerifiedAmount), zap.String("got_currency", event.VerifiedCurrency))
		return nil, fmt.Errorf("%w: expected %d %s, got %d %s", domain.ErrAmountMismatch,
			txn.Amount, txn.Currency, event.VerifiedAmount, event.VerifiedCurrency)
	}

	target := domain.StatusFailed
	if event.Success {
		target = domain.StatusSuccess
	}
	patch := confirmationPatch(event)

	var result *domain.SettlementResult
	err = r.store.InTx(ctx, func(tx repository.Tx) error {
		applied, row, err := tx.Ledger().TransitionIfPending(ctx, event.Ref, target, patch)
		if err != nil {
			return err
		}
		if !applied {
			result = &domain.SettlementResult{Outcome: domain.OutcomeAlreadySettled, Transaction: row}
			return nil
		}
		if !event.Success {
			result = &domain.SettlementResult{Outcome: domain.OutcomeFailed, Transaction: row}
			return nil
		}
		if err := r.activate(ctx, tx, row, event); err != nil {
			return err
		}
		result = &domain.SettlementResult{Outcome: domain.OutcomeSettled, Transaction: row}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case result.Outcome == domain.OutcomeAlreadySettled && event.Success && result.Transaction.Status == domain.StatusFailed:
		log.Warn("payment confirmed for a transaction already marked FAILED, needs manual reconciliation",
			zap.String("failure_reason", result.Transaction.Metadata[domain.MetaFailureReason]),
			zap.String("gateway_txn", event.ProviderTxnID))
	case result.Outcome == domain.OutcomeAlreadySettled:
		log.Debug("duplicate confirmation", zap.String("status", string(result.Transaction.Status)))
	default:
		log.Info("transaction settled", zap.String("outcome", string(result.Outcome)), zap.String("user_id", txn.UserID))
	}
	return result, nil
}

func confirmationPatch(event *domain.ConfirmationEvent) domain.Metadata {
	patch := domain.Metadata{domain.MetaChannel: string(event.Channel)}
	if event.ProviderTxnID != "" {
		patch[domain.MetaGatewayTransactionID] = event.ProviderTxnID
	}
	if event.ProviderSubscriptionID != "" {
		patch[domain.MetaGatewaySubscriptionID] = event.ProviderSubscriptionID
	}
	if event.PeriodEnd != nil {
		patch[domain.MetaPeriodEnd] = event.PeriodEnd.UTC().Format(time.RFC3339)
	}
	if !event.Success {
		reason := event.FailureReason
		if reason == "" {
			reason = "declined"
		}
		patch[domain.MetaFailureReason] = reason
	}
	return patch
}

// activate upserts the user's subscription from a freshly settled row.
func (r *Reconciler) activate(ctx context.Context, tx repository.Tx, txn *domain.PaymentTransaction, event *domain.ConfirmationEvent) error {
	current, err := tx.Subscriptions().FindByUserID(ctx, txn.UserID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	if current.IsLifetimeActive() && txn.Plan != domain.PlanLifetime {
		logger.FromContext(ctx).Warn("settled PRO payment for a LIFETIME user, keeping LIFETIME",
			zap.String("user_id", txn.UserID), zap.String("ref", txn.TransactionID))
		return nil
	}

	sub := subscriptionFor(txn, event.PeriodEnd, r.now().UTC())
	if err := tx.Subscriptions().Upsert(ctx, sub); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	return nil
}

func subscriptionFor(txn *domain.PaymentTransaction, providerEnd *time.Time, now time.Time) *domain.Subscription {
	if providerEnd == nil {
		if raw := txn.Metadata[domain.MetaPeriodEnd]; raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				providerEnd = &t
			}
		}
	}
	cycle := domain.BillingCycle(txn.Metadata[domain.MetaBillingCycle])
	return &domain.Subscription{
		ID:                     uuid.NewString(),
		UserID:                 txn.UserID,
		Plan:                   txn.Plan,
		Status:                 domain.SubscriptionActive,
		PaymentProvider:        txn.Provider,
		ProviderTransactionRef: txn.TransactionID,
		ProviderSubscriptionID: txn.Metadata[domain.MetaGatewaySubscriptionID],
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       domain.PeriodEnd(txn.Plan, cycle, now, providerEnd),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

// ApplyLifecycle applies a renewal, payment failure or cancellation reported
// by a card gateway after the first payment. Unknown subscriptions are ignored.
func (r *Reconciler) ApplyLifecycle(ctx context.Context, event *domain.LifecycleEvent) (*domain.Subscription, error) {
	log := logger.FromContext(ctx).With(
		zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		zap.String("kind", event.Kind),
	)
	sub, err := r.store.Subscriptions().UpdateByProviderSubscriptionID(ctx, event.ProviderSubscriptionID, event.Status, event.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if sub == nil {
		log.Info("lifecycle event for unknown subscription")
		return nil, domain.ErrIgnoredEvent
	}
	log.Info("subscription updated", zap.String("user_id", sub.UserID), zap.String("status", string(sub.Status)))
	return sub, nil
}

// Rebuild recomputes a user's subscription by replaying their SUCCESS rows
// oldest first. Lifecycle changes are not in the ledger, so a rebuilt PRO
// subscription is ACTIVE with the period of its latest payment.
func (r *Reconciler) Rebuild(ctx context.Context, userID string) (*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrBadRequest("user id is required")
	}

	var rebuilt *domain.Subscription
	err := r.store.InTx(ctx, func(tx repository.Tx) error {
		rows, err := tx.Ledger().List(ctx, domain.TransactionFilter{UserID: userID, Status: domain.StatusSuccess})
		if err != nil {
			return err
		}
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

		for _, txn := range rows {
			if rebuilt.IsLifetimeActive() && txn.Plan != domain.PlanLifetime {
				continue
			}
			rebuilt = subscriptionFor(txn, nil, txn.UpdatedAt.UTC())
		}
		if rebuilt == nil {
			return domain.ErrNotFound("user has no settled payments")
		}
		return tx.Subscriptions().Upsert(ctx, rebuilt)
	})
	if err != nil {
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("failed to rebuild subscription: %w", err)
	}
	logger.FromContext(ctx).Info("subscription rebuilt from ledger",
		zap.String("user_id", userID), zap.String("plan", string(rebuilt.Plan)))
	return rebuilt, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, user_id, plan, status, payment_provider, provider_transaction_ref, provider_subscription_id, current_period_start, current_period_end, created_at, updated_at`

// SubscriptionRepository is the PostgreSQL implementation of repository.SubscriptionStore.
type SubscriptionRepository struct {
	q Querier
}

func NewSubscriptionRepository(q Querier) *SubscriptionRepository {
	return &SubscriptionRepository{q: q}
}

// Upsert creates or replaces the subscription of sub.UserID. The row id and
// creation time of an existing subscription are kept.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			payment_provider = EXCLUDED.payment_provider,
			provider_transaction_ref = EXCLUDED.provider_transaction_ref,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := r.q.QueryRow(ctx, query,
		sub.ID, sub.UserID, string(sub.Plan), string(sub.Status), string(sub.PaymentProvider),
		sub.ProviderTransactionRef, sub.ProviderSubscriptionID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(r.q.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No subscription
		}
		return nil, fmt.Errorf("failed to find subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) UpdateByProviderSubscriptionID(ctx context.Context, providerSubID string, status domain.SubscriptionStatus, periodEnd *time.Time) (*domain.Subscription, error) {
	if providerSubID == "" {
		return nil, nil
	}
	query := `
		UPDATE subscriptions
		SET status = $2, current_period_end = COALESCE($3, current_period_end), updated_at = NOW()
		WHERE provider_subscription_id = $1
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.q.QueryRow(ctx, query, providerSubID, string(status), periodEnd))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

func (r *SubscriptionRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE status = 'ACTIVE'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	return n, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                    domain.Subscription
		plan, status, provider string
	)
	err := row.Scan(
		&sub.ID, &sub.UserID, &plan, &status, &provider,
		&sub.ProviderTransactionRef, &sub.ProviderSubscriptionID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Plan = domain.Plan(plan)
	sub.Status = domain.SubscriptionStatus(status)
	sub.PaymentProvider = domain.Provider(provider)
	return &sub, nil
}

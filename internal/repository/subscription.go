package repository

import (
	"context"
	"time"

	"github.com/folioforge/backend/internal/domain"
)

// SubscriptionStore persists the per-user subscription projection.
type SubscriptionStore interface {
	// Upsert creates or replaces the subscription of sub.UserID.
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// FindByUserID returns nil when the user has no subscription.
	FindByUserID(ctx context.Context, userID string) (*domain.Subscription, error)

	// UpdateByProviderSubscriptionID sets status, and period end when given,
	// on the subscription carrying the gateway's subscription id. It returns
	// nil when no subscription matches.
	UpdateByProviderSubscriptionID(ctx context.Context, providerSubID string, status domain.SubscriptionStatus, periodEnd *time.Time) (*domain.Subscription, error)

	// CountActive counts ACTIVE subscriptions.
	CountActive(ctx context.Context) (int, error)
}

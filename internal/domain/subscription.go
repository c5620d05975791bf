package domain

import "time"

// Plan is a purchasable tier.
type Plan string

const (
	PlanPro      Plan = "PRO"
	PlanLifetime Plan = "LIFETIME"
)

// Recurring reports whether the plan renews.
func (p Plan) Recurring() bool {
	return p == PlanPro
}

// BillingCycle applies to recurring plans.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// SubscriptionStatus is the account-level state of a plan.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
)

// LifetimePeriodEnd marks a subscription that never expires.
var LifetimePeriodEnd = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Subscription is the per-user projection of settled ledger rows.
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	Plan                   Plan               `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	PaymentProvider        Provider           `json:"paymentProvider"`
	ProviderTransactionRef string             `json:"providerTransactionRef"`
	ProviderSubscriptionID string             `json:"providerSubscriptionId,omitempty"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

// IsLifetimeActive reports whether s is a LIFETIME plan still in force.
func (s *Subscription) IsLifetimeActive() bool {
	return s != nil && s.Plan == PlanLifetime && s.Status == SubscriptionActive
}

// PeriodEnd computes when a newly settled plan lapses. A provider-supplied
// end wins for recurring plans.
func PeriodEnd(plan Plan, cycle BillingCycle, now time.Time, providerEnd *time.Time) time.Time {
	if plan == PlanLifetime {
		return LifetimePeriodEnd
	}
	if providerEnd != nil && !providerEnd.IsZero() {
		return providerEnd.UTC()
	}
	if cycle == CycleYearly {
		return now.AddDate(0, 0, 365)
	}
	return now.AddDate(0, 0, 30)
}

// CheckoutRequest is the body of a create-checkout call.
type CheckoutRequest struct {
	Plan         Plan         `json:"plan" validate:"required,oneof=PRO LIFETIME"`
	BillingCycle BillingCycle `json:"billingCycle" validate:"omitempty,oneof=monthly yearly"`
}

// CheckoutResponse tells the client where to send the user.
type CheckoutResponse struct {
	RedirectURL   string `json:"redirectUrl"`
	TransactionID string `json:"transactionId"`
}

package domain

import "time"

// Channel is the path a confirmation arrived on.
type Channel string

const (
	ChannelReturn  Channel = "return"
	ChannelIPN     Channel = "ipn"
	ChannelWebhook Channel = "webhook"
)

// ConfirmationEvent is a verified gateway confirmation for one transaction.
type ConfirmationEvent struct {
	Provider               Provider
	Ref                    string
	VerifiedAmount         int64
	VerifiedCurrency       string
	Success                bool
	ProviderTxnID          string
	ProviderSubscriptionID string
	FailureReason          string
	PeriodEnd              *time.Time
	Channel                Channel
}

// LifecycleEvent changes a card-gateway subscription after its first payment.
type LifecycleEvent struct {
	Provider               Provider
	ProviderSubscriptionID string
	Status                 SubscriptionStatus
	PeriodEnd              *time.Time
	Kind                   string
}

// Outcome is the effect a confirmation had.
type Outcome string

const (
	OutcomeSettled        Outcome = "SETTLED"
	OutcomeFailed         Outcome = "FAILED"
	OutcomeAlreadySettled Outcome = "ALREADY_SETTLED"
	OutcomeRejected       Outcome = "REJECTED"
	OutcomeIgnored        Outcome = "IGNORED"
)

// SettlementResult reports what Apply did and the row it ended with.
type SettlementResult struct {
	Outcome     Outcome
	Transaction *PaymentTransaction
}

// CallbackLog records one inbound gateway delivery.
type CallbackLog struct {
	ID             string    `json:"id"`
	Provider       Provider  `json:"provider"`
	Channel        Channel   `json:"channel"`
	TransactionRef string    `json:"transactionRef"`
	SignatureValid bool      `json:"signatureValid"`
	Outcome        Outcome   `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	Payload        string    `json:"-"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// BillingStats summarises the ledger for operators.
type BillingStats struct {
	ByStatus            map[TransactionStatus]int `json:"byStatus"`
	ByProvider          map[Provider]int          `json:"byProvider"`
	ActiveSubscriptions int                       `json:"activeSubscriptions"`
}

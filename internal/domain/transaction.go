package domain

import "time"

// Provider identifies a payment gateway.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderVNPay  Provider = "vnpay"
	ProviderMoMo   Provider = "momo"
)

// Providers lists every supported gateway.
func Providers() []Provider {
	return []Provider{ProviderStripe, ProviderVNPay, ProviderMoMo}
}

// Valid reports whether p is a supported gateway.
func (p Provider) Valid() bool {
	switch p {
	case ProviderStripe, ProviderVNPay, ProviderMoMo:
		return true
	}
	return false
}

// TransactionStatus is the ledger state of a payment attempt.
// PENDING is initial; SUCCESS and FAILED are terminal.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "PENDING"
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Well-known metadata keys.
const (
	MetaGatewayTransactionID  = "gatewayTransactionId"
	MetaGatewaySubscriptionID = "gatewaySubscriptionId"
	MetaFailureReason         = "failureReason"
	MetaChannel               = "channel"
	MetaBillingCycle          = "billingCycle"
	MetaEmail                 = "email"
	MetaPeriodEnd             = "periodEnd"
)

// Metadata is an additive string map attached to a ledger row.
type Metadata map[string]string

// Merge returns a new map holding m overlaid with patch. Keys in patch win;
// keys only in m are kept. Neither input is modified.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Clone returns a copy of m.
func (m Metadata) Clone() Metadata {
	return Metadata(nil).Merge(m)
}

// PaymentTransaction is a ledger row. Amount is in the smallest unit of
// Currency (cents for USD, dong for VND).
type PaymentTransaction struct {
	TransactionID string            `json:"transactionId"`
	Provider      Provider          `json:"provider"`
	UserID        string            `json:"userId"`
	Plan          Plan              `json:"plan"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	Metadata      Metadata          `json:"metadata"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t *PaymentTransaction) Clone() *PaymentTransaction {
	c := *t
	c.Metadata = t.Metadata.Clone()
	return &c
}

// TransactionFilter narrows ledger listings. Zero values match everything.
type TransactionFilter struct {
	UserID   string
	Status   TransactionStatus
	Provider Provider
	Limit    int
}

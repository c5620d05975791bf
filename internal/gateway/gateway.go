// Package gateway translates between the settlement core and each payment
// provider's wire format.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/folioforge/backend/internal/domain"
)

// CheckoutRequest is the provider-agnostic input to CreateCheckout.
type CheckoutRequest struct {
	Ref      string
	UserID   string
	Email    string
	Plan     domain.Plan
	Cycle    domain.BillingCycle
	Amount   int64
	Currency string
	ClientIP string
}

// CheckoutSession is where the user must be sent to pay.
type CheckoutSession struct {
	RedirectURL string
	SessionID   string
}

// Callback is an inbound gateway delivery as received over HTTP.
type Callback struct {
	Channel domain.Channel
	Query   url.Values
	Body    []byte
	Header  http.Header
}

// Ack is the response a gateway expects for a server-to-server callback.
type Ack struct {
	Status int
	Body   any
}

// Adapter is implemented once per provider.
type Adapter interface {
	Provider() domain.Provider
	// Currency is the currency checkouts on this provider are priced in.
	Currency() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// ParseConfirmation verifies the callback signature and extracts the
	// confirmation. Verification failures wrap domain.ErrVerificationFailed.
	ParseConfirmation(cb Callback) (*domain.ConfirmationEvent, error)
	// Acknowledge renders the provider's response for an IPN or webhook.
	Acknowledge(res *domain.SettlementResult, err error) Ack
}

// WebhookEvent is a verified card-gateway webhook. At most one field is set.
type WebhookEvent struct {
	ID           string
	Type         string
	Confirmation *domain.ConfirmationEvent
	Lifecycle    *domain.LifecycleEvent
}

// WebhookParser is implemented by providers whose webhooks carry subscription
// lifecycle changes as well as confirmations.
type WebhookParser interface {
	ParseWebhook(cb Callback) (*WebhookEvent, error)
}

// Registry looks adapters up by provider.
type Registry map[domain.Provider]Adapter

// NewRegistry indexes adapters by their provider.
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for p.
func (r Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r[p]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("payment provider %q is not available", p))
	}
	return a, nil
}

func unavailable(provider domain.Provider, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrGatewayUnavailable, provider, fmt.Sprintf(format, args...))
}

func verificationFailed(provider domain.Provider, reason string) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrVerificationFailed, provider, reason)
}

func malformed(provider domain.Provider, reason string) error {
	return fmt.Errorf("%w: %s: %s", domain.ErrMalformedPayload, provider, reason)
}

// flatten keeps the first value of each query parameter.
func flatten(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func planLabel(plan domain.Plan) string {
	return "FolioForge " + strings.ToUpper(string(plan)[:1]) + strings.ToLower(string(plan)[1:])
}

// isRejection reports whether err means the callback itself was bad rather
// than the server failing to process it.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrVerificationFailed) ||
		errors.Is(err, domain.ErrMalformedPayload) ||
		errors.Is(err, domain.ErrInvalidReference) ||
		errors.Is(err, domain.ErrUnknownTransaction) ||
		errors.Is(err, domain.ErrAmountMismatch)
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/go-resty/resty/v2"
)

const stripeSessionsPath = "/v1/checkout/sessions"

// StripeConfig configures the card gateway adapter.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	APIBase       string
	Timeout       time.Duration

	// SuccessURL and CancelURL are page URLs; the adapter adds the ref.
	SuccessURL string
	CancelURL  string
}

// Stripe is the card gateway. Its confirmations arrive only by webhook.
type Stripe struct {
	cfg      StripeConfig
	client   *resty.Client
	verifier payment.Verifier
}

func NewStripe(cfg StripeConfig) *Stripe {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.stripe.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.APIBase).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.SecretKey, "")
	return &Stripe{
		cfg:      cfg,
		client:   client,
		verifier: payment.StripeVerifier{Tolerance: payment.DefaultStripeTolerance},
	}
}

// WithClock overrides the clock used for the signature timestamp tolerance.
func (g *Stripe) WithClock(now func() time.Time) *Stripe {
	g.verifier = payment.StripeVerifier{Tolerance: payment.DefaultStripeTolerance, Now: now}
	return g
}

func (g *Stripe) Provider() domain.Provider { return domain.ProviderStripe }
func (g *Stripe) Currency() string { return g.cfg.Currency }

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCheckout opens a hosted Checkout Session. PRO uses subscription mode
// so renewals arrive as invoice webhooks; LIFETIME is a one-off payment.
func (g *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("client_reference_id", req.Ref)
	// The success page only learns the ref; the final status comes from the
	// webhook, which the page follows over the transaction status socket.
	form.Set("success_url", withQuery(g.cfg.SuccessURL, url.Values{"pending": {"true"}, "ref": {req.Ref}}))
	form.Set("cancel_url", withQuery(g.cfg.CancelURL, url.Values{"error": {"payment_cancelled"}, "ref": {req.Ref}}))
	if req.Email != "" {
		form.Set("customer_email", req.Email)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", planLabel(req.Plan))
	form.Set("metadata[transaction_id]", req.Ref)
	form.Set("metadata[user_id]", req.UserID)
	form.Set("metadata[plan]", string(req.Plan))

	if req.Plan.Recurring() {
		interval := "month"
		if req.Cycle == domain.CycleYearly {
			interval = "year"
		}
		form.Set("mode", "subscription")
		form.Set("line_items[0][price_data][recurring][interval]", interval)
		form.Set("subscription_data[metadata][transaction_id]", req.Ref)
		form.Set("subscription_data[metadata][user_id]", req.UserID)
	} else {
		form.Set("mode", "payment")
	}

	var (
		session stripeSession
		apiErr  stripeError
	)
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Ref).
		SetFormDataFromValues(form).
		SetResult(&session).
		SetError(&apiErr).
		Post(stripeSessionsPath)
	if err != nil {
		return nil, unavailable(domain.ProviderStripe, "create session: %v", err)
	}
	if resp.IsError() {
		return nil, unavailable(domain.ProviderStripe, "create session returned HTTP %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	if session.URL == "" {
		return nil, unavailable(domain.ProviderStripe, "create session returned no url")
	}
	return &CheckoutSession{RedirectURL: session.URL, SessionID: session.ID}, nil
}

// ParseConfirmation returns the settlement carried by a webhook, or
// domain.ErrIgnoredEvent for events that do not settle a transaction.
func (g *Stripe) ParseConfirmation(cb Callback) (*domain.ConfirmationEvent, error) {
	ev, err := g.ParseWebhook(cb)
	if err != nil {
		return nil, err
	}
	if ev.Confirmation == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrIgnoredEvent, ev.Type)
	}
	return ev.Confirmation, nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	BillingReason string `json:"billing_reason"`
	Subscription  string `json:"subscription"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *Stripe) ParseWebhook(cb Callback) (*WebhookEvent, error) {
	sig := cb.Header.Get(payment.StripeSignatureHeader)
	if !g.verifier.Verify(payment.Payload{Body: cb.Body, Signature: sig}, g.cfg.WebhookSecret) {
		return nil, verificationFailed(domain.ProviderStripe, "webhook signature mismatch")
	}

	var ev stripeEvent
	if err := json.Unmarshal(cb.Body, &ev); err != nil {
		return nil, malformed(domain.ProviderStripe, "invalid event JSON")
	}
	out := &WebhookEvent{ID: ev.ID, Type: ev.Type}

	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed", "checkout.session.expired":
		var s stripeCheckoutSession
		if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
			return nil, malformed(domain.ProviderStripe, "invalid checkout session")
		}
		// Delayed payment methods complete unpaid and settle later.
		if ev.Type == "checkout.session.completed" && s.PaymentStatus == "unpaid" {
			return out, nil
		}
		out.Confirmation = g.sessionConfirmation(ev.Type, &s, cb.Channel)
		if out.Confirmation.Ref == "" {
			return nil, malformed(domain.ProviderStripe, "session has no client_reference_id")
		}

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
			return nil, malformed(domain.ProviderStripe, "invalid invoice")
		}
		if inv.BillingReason == "subscription_create" {
			return out, nil
		}
		subID := inv.Subscription
		if subID == "" {
			subID = inv.Parent.SubscriptionDetails.Subscription
		}
		if subID == "" {
			return out, nil
		}
		lc := &domain.LifecycleEvent{
			Provider:               domain.ProviderStripe,
			ProviderSubscriptionID: subID,
			Status:                 domain.SubscriptionActive,
			Kind:                   ev.Type,
		}
		if ev.Type == "invoice.payment_failed" {
			lc.Status = domain.SubscriptionPastDue
		} else if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
			end := time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
			lc.PeriodEnd = &end
		}
		out.Lifecycle = lc

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeSubscription
		if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
			return nil, malformed(domain.ProviderStripe, "invalid subscription")
		}
		status := stripeSubscriptionStatus(sub.Status)
		if ev.Type == "customer.subscription.deleted" {
			status = domain.SubscriptionCanceled
		}
		if status == "" {
			return out, nil
		}
		lc := &domain.LifecycleEvent{
			Provider:               domain.ProviderStripe,
			ProviderSubscriptionID: sub.ID,
			Status:                 status,
			Kind:                   ev.Type,
		}
		periodEnd := sub.CurrentPeriodEnd
		if periodEnd == 0 && len(sub.Items.Data) > 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
		if periodEnd > 0 {
			end := time.Unix(periodEnd, 0).UTC()
			lc.PeriodEnd = &end
		}
		out.Lifecycle = lc
	}
	return out, nil
}

func (g *Stripe) sessionConfirmation(eventType string, s *stripeCheckoutSession, channel domain.Channel) *domain.ConfirmationEvent {
	ref := s.ClientReferenceID
	if ref == "" {
		ref = s.Metadata["transaction_id"]
	}
	txnID := s.PaymentIntent
	if txnID == "" {
		txnID = s.ID
	}
	event := &domain.ConfirmationEvent{
		Provider:               domain.ProviderStripe,
		Ref:                    ref,
		VerifiedAmount:         s.AmountTotal,
		VerifiedCurrency:       strings.ToUpper(s.Currency),
		Success:                true,
		ProviderTxnID:          txnID,
		ProviderSubscriptionID: s.Subscription,
		Channel:                channel,
	}
	switch eventType {
	case "checkout.session.async_payment_failed":
		event.Success = false
		event.FailureReason = "async payment failed"
	case "checkout.session.expired":
		event.Success = false
		event.FailureReason = "checkout session expired"
	}
	return event
}

func stripeSubscriptionStatus(s string) domain.SubscriptionStatus {
	switch s {
	case "active", "trialing":
		return domain.SubscriptionActive
	case "past_due", "unpaid":
		return domain.SubscriptionPastDue
	case "canceled", "incomplete_expired":
		return domain.SubscriptionCanceled
	}
	return ""
}

// Acknowledge answers 2xx for anything Stripe should not redeliver.
func (g *Stripe) Acknowledge(res *domain.SettlementResult, err error) Ack {
	switch {
	case err == nil, errors.Is(err, domain.ErrIgnoredEvent):
		return Ack{Status: http.StatusOK, Body: map[string]bool{"received": true}}
	case errors.Is(err, domain.ErrVerificationFailed), errors.Is(err, domain.ErrMalformedPayload):
		return Ack{Status: http.StatusBadRequest, Body: map[string]string{"error": "invalid webhook"}}
	case errors.Is(err, domain.ErrUnknownTransaction), errors.Is(err, domain.ErrInvalidReference):
		return Ack{Status: http.StatusNotFound, Body: map[string]string{"error": "unknown transaction"}}
	case errors.Is(err, domain.ErrAmountMismatch):
		return Ack{Status: http.StatusUnprocessableEntity, Body: map[string]string{"error": "amount mismatch"}}
	}
	return Ack{Status: http.StatusInternalServerError, Body: map[string]string{"error": "internal error"}}
}

// withQuery merges extra into the query string of base.
func withQuery(base string, extra url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + extra.Encode()
	}
	q := u.Query()
	for k, vs := range extra {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

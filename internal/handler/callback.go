package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/gateway"
	"github.com/folioforge/backend/internal/service"
)

const maxCallbackBody = 64 << 10

// CallbackHandler receives gateway redirects, IPNs and webhooks.
type CallbackHandler struct {
	svc            *service.CallbackService
	billingPageURL string
}

// NewCallbackHandler creates a handler that sends returning users to
// billingPageURL with the outcome in its query string.
func NewCallbackHandler(svc *service.CallbackService, billingPageURL string) *CallbackHandler {
	return &CallbackHandler{svc: svc, billingPageURL: billingPageURL}
}

// VNPayReturn handles GET /api/billing/vnpay/return.
func (h *CallbackHandler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	h.userReturn(w, r, domain.ProviderVNPay)
}

// MoMoReturn handles GET /api/billing/momo/return.
func (h *CallbackHandler) MoMoReturn(w http.ResponseWriter, r *http.Request) {
	h.userReturn(w, r, domain.ProviderMoMo)
}

// VNPayIPN handles GET /api/billing/vnpay/ipn.
func (h *CallbackHandler) VNPayIPN(w http.ResponseWriter, r *http.Request) {
	h.serverToServer(w, r, domain.ProviderVNPay, domain.ChannelIPN)
}

// MoMoIPN handles POST /api/billing/momo/ipn.
func (h *CallbackHandler) MoMoIPN(w http.ResponseWriter, r *http.Request) {
	h.serverToServer(w, r, domain.ProviderMoMo, domain.ChannelIPN)
}

// StripeWebhook handles POST /api/billing/stripe/webhook.
func (h *CallbackHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	h.serverToServer(w, r, domain.ProviderStripe, domain.ChannelWebhook)
}

func (h *CallbackHandler) serverToServer(w http.ResponseWriter, r *http.Request, provider domain.Provider, channel domain.Channel) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	out, err := h.svc.Handle(r.Context(), provider, gateway.Callback{
		Channel: channel,
		Query:   r.URL.Query(),
		Body:    body,
		Header:  r.Header,
	})
	if out == nil {
		Error(w, r, err)
		return
	}
	JSON(w, out.Ack.Status, out.Ack.Body)
}

func (h *CallbackHandler) userReturn(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	out, err := h.svc.Handle(r.Context(), provider, gateway.Callback{
		Channel: domain.ChannelReturn,
		Query:   r.URL.Query(),
		Header:  r.Header,
	})
	if out == nil {
		Error(w, r, err)
		return
	}
	http.Redirect(w, r, h.returnURL(out, err), http.StatusFound)
}

// returnURL reports the settled row's state, so a Return arriving after the
// IPN still shows the right result.
func (h *CallbackHandler) returnURL(out *service.CallbackOutcome, err error) string {
	q := url.Values{}
	switch {
	case err == nil && out.Result != nil && out.Result.Transaction.Status == domain.StatusSuccess:
		q.Set("success", "true")
		q.Set("ref", out.Result.Transaction.TransactionID)
	case err == nil && out.Result != nil:
		q.Set("error", "payment_failed")
		q.Set("message", failureMessage(out.Result.Transaction))
		q.Set("ref", out.Result.Transaction.TransactionID)
	case errors.Is(err, domain.ErrVerificationFailed), errors.Is(err, domain.ErrMalformedPayload):
		q.Set("error", "verification_failed")
		q.Set("message", "We could not verify the payment response.")
	case errors.Is(err, domain.ErrInvalidReference):
		q.Set("error", "invalid_reference")
		q.Set("message", "The payment reference is not valid.")
	case errors.Is(err, domain.ErrUnknownTransaction):
		q.Set("error", "unknown_transaction")
		q.Set("message", "We could not find this payment.")
	case errors.Is(err, domain.ErrAmountMismatch):
		q.Set("error", "amount_mismatch")
		q.Set("message", "The paid amount does not match the order.")
	default:
		q.Set("error", "internal_error")
		q.Set("message", "Something went wrong, please contact support.")
	}

	target, perr := url.Parse(h.billingPageURL)
	if perr != nil {
		return h.billingPageURL + "?" + q.Encode()
	}
	merged := target.Query()
	for k, v := range q {
		merged[k] = v
	}
	target.RawQuery = merged.Encode()
	return target.String()
}

func failureMessage(txn *domain.PaymentTransaction) string {
	if reason := txn.Metadata[domain.MetaFailureReason]; reason != "" {
		return "Payment failed: " + reason
	}
	return "Payment failed."
}

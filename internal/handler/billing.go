package handler

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/service"
	"github.com/go-chi/chi/v5"
)

// BillingHandler serves the authenticated user's billing endpoints.
type BillingHandler struct {
	checkout *service.CheckoutService
	billing  *service.BillingService
}

func NewBillingHandler(checkout *service.CheckoutService, billing *service.BillingService) *BillingHandler {
	return &BillingHandler{checkout: checkout, billing: billing}
}

// Checkout handles POST /api/billing/{provider}/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, email, ok := currentUser(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	provider := domain.Provider(chi.URLParam(r, "provider"))
	if !provider.Valid() {
		Error(w, r, domain.ErrNotFound("unknown payment provider"))
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, r, err)
		return
	}

	resp, err := h.checkout.Checkout(r.Context(), service.Buyer{
		UserID:   userID,
		Email:    email,
		ClientIP: clientIP(r),
	}, provider, req)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// GetSubscription handles GET /api/billing/subscription.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	sub, err := h.billing.GetSubscription(r.Context(), userID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if sub == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"plan": "FREE", "status": "none"})
		return
	}
	JSON(w, http.StatusOK, sub)
}

// ListTransactions handles GET /api/billing/transactions.
func (h *BillingHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.billing.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, rows)
}

// GetTransaction handles GET /api/billing/transactions/{ref}.
func (h *BillingHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := currentUser(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	txn, err := h.billing.GetTransaction(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, txn)
}

// clientIP prefers proxy headers, like the rate limiter.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/service"
	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	billing    *service.BillingService
	reconciler *service.Reconciler
}

func NewAdminHandler(billing *service.BillingService, reconciler *service.Reconciler) *AdminHandler {
	return &AdminHandler{billing: billing, reconciler: reconciler}
}

// GetStats handles GET /api/admin/billing/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.billing.Stats(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// ListTransactions handles GET /api/admin/billing/transactions.
func (h *AdminHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TransactionFilter{
		UserID:   q.Get("userId"),
		Status:   domain.TransactionStatus(q.Get("status")),
		Provider: domain.Provider(q.Get("provider")),
	}
	if filter.Provider != "" && !filter.Provider.Valid() {
		Error(w, r, domain.ErrBadRequest("unknown provider"))
		return
	}
	switch filter.Status {
	case "", domain.StatusPending, domain.StatusSuccess, domain.StatusFailed:
	default:
		Error(w, r, domain.ErrBadRequest("unknown status"))
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	rows, err := h.billing.List(r.Context(), filter)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, rows)
}

// GetTransaction handles GET /api/admin/billing/transactions/{ref}, including
// the callback audit trail.
func (h *AdminHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	txn, err := h.billing.Transaction(r.Context(), ref)
	if err != nil {
		Error(w, r, err)
		return
	}
	logs, err := h.billing.CallbackLogs(r.Context(), ref)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"transaction": txn,
		"callbacks":   logs,
	})
}

// RebuildSubscription handles POST /api/admin/billing/subscriptions/{userId}/rebuild.
func (h *AdminHandler) RebuildSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.reconciler.Rebuild(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sub)
}

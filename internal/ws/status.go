// Package ws streams payment status to the billing page while the user is
// away at a gateway.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/handler"
	"github.com/folioforge/backend/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

const (
	writeWait  = 10 * time.Second
	maxSession = 30 * time.Minute
)

// TransactionReader loads a transaction owned by a user.
type TransactionReader interface {
	GetTransaction(ctx context.Context, userID, ref string) (*domain.PaymentTransaction, error)
}

// TokenVerifier validates the token passed as a query parameter.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// StatusMessage is pushed whenever the transaction status changes.
type StatusMessage struct {
	TransactionID string                   `json:"transactionId"`
	Status        domain.TransactionStatus `json:"status"`
	Plan          domain.Plan              `json:"plan"`
	FailureReason string                   `json:"failureReason,omitempty"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// StatusHandler serves /ws/billing/transactions/{ref}?token=JWT.
type StatusHandler struct {
	txns     TransactionReader
	auth     TokenVerifier
	interval time.Duration
}

// NewStatusHandler creates a handler polling the ledger every interval.
func NewStatusHandler(txns TransactionReader, auth TokenVerifier, interval time.Duration) *StatusHandler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusHandler{txns: txns, auth: auth, interval: interval}
}

// Handle upgrades to WebSocket and pushes the status until it is terminal.
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	// Browsers cannot set headers on a websocket handshake.
	token := r.URL.Query().Get("token")
	if token == "" {
		handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "token required"})
		return
	}
	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return
	}

	txn, err := h.txns.GetTransaction(r.Context(), claims.Sub, ref)
	if err != nil {
		handler.Error(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromContext(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := logger.FromContext(r.Context()).With(zap.String("ref", ref), zap.String("user_id", claims.Sub))
	ctx, cancel := context.WithTimeout(context.Background(), maxSession)
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.stream(ctx, conn, claims.Sub, txn); err != nil {
		log.Debug("status stream ended", zap.Error(err))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(txn.Status)),
		time.Now().Add(writeWait))
}

func (h *StatusHandler) stream(ctx context.Context, conn *websocket.Conn, userID string, txn *domain.PaymentTransaction) error {
	if err := send(conn, txn); err != nil {
		return err
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for !txn.Status.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		latest, err := h.txns.GetTransaction(ctx, userID, txn.TransactionID)
		if err != nil {
			return err
		}
		if latest.Status != txn.Status {
			if err := send(conn, latest); err != nil {
				return err
			}
		}
		*txn = *latest
	}
	return nil
}

func send(conn *websocket.Conn, txn *domain.PaymentTransaction) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(StatusMessage{
		TransactionID: txn.TransactionID,
		Status:        txn.Status,
		Plan:          txn.Plan,
		FailureReason: txn.Metadata[domain.MetaFailureReason],
		UpdatedAt:     txn.UpdatedAt,
	})
}

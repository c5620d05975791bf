package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/repository/memory"
	"github.com/folioforge/backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatusServer(t *testing.T) (*httptest.Server, *memory.Store, *service.AuthService) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Ledger().RecordPending(context.Background(), &domain.PaymentTransaction{
		TransactionID: "u1_PRO_1000", Provider: domain.ProviderMoMo, UserID: "u1",
		Plan: domain.PlanPro, Amount: 200000, Currency: "VND",
	}))
	auth := service.NewAuthService("secret")
	h := NewStatusHandler(service.NewBillingService(store), auth, 10*time.Millisecond)

	r := chi.NewRouter()
	r.Get("/ws/billing/transactions/{ref}", h.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, auth
}

func wsURL(srv *httptest.Server, ref, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/billing/transactions/" + ref + "?token=" + token
}

func TestStatusStreamUntilSettled(t *testing.T) {
	srv, store, auth := newStatusServer(t)
	token, err := auth.IssueToken("u1", "", "", time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "u1_PRO_1000", token), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg StatusMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, domain.StatusPending, msg.Status)

	_, _, err = store.Ledger().TransitionIfPending(context.Background(), "u1_PRO_1000", domain.StatusSuccess, nil)
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, domain.StatusSuccess, msg.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStatusStreamRejects(t *testing.T) {
	srv, _, auth := newStatusServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "u1_PRO_1000", ""), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := auth.IssueToken("u2", "", "", time.Hour)
	require.NoError(t, err)
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "u1_PRO_1000", other), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

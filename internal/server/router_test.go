package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/folioforge/backend/internal/config"
	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hashSecret = "VNPAYSECRET"

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		JWTSecret:      "test-secret",
		Store:          "memory",
		EncryptionKey:  "0123456789abcdef0123456789abcdef",
		CORSOrigins:    []string{"http://localhost:3000"},
		AdminEmails:    []string{"ops@folioforge.app"},
		BillingPageURL: "http://localhost:3000/dashboard/billing",
		PublicURL:      "http://localhost:8080",
		GatewayTimeout: time.Second,
		VNPay: config.VNPayConfig{
			TmnCode:    "DEMO1234",
			HashSecret: hashSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ExpireIn:   15 * time.Minute,
		},
		Sweeper: config.SweeperConfig{Interval: time.Minute, PendingTTL: time.Hour},
	}
}

type testServer struct {
	app     *App
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	app, err := New(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return &testServer{app: app, handler: app.Router(ctx)}
}

func (s *testServer) token(t *testing.T, userID, email string) string {
	t.Helper()
	tok, err := s.app.Auth.IssueToken(userID, email, "user", time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) checkout(t *testing.T, token string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/billing/vnpay/checkout", strings.NewReader(`{"plan":"PRO","billingCycle":"monthly"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.CheckoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.RedirectURL, "vnp_TxnRef="+resp.TransactionID)
	return resp.TransactionID
}

func signedQuery(ref, amount, code string) string {
	fields := map[string]string{
		"vnp_TmnCode":           "DEMO1234",
		"vnp_TxnRef":            ref,
		"vnp_Amount":            amount,
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "14012345",
	}
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set(payment.VNPaySecureHashField, payment.SignVNPay(fields, hashSecret))
	return q.Encode()
}

func rspCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		RspCode string `json:"RspCode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.RspCode
}

func TestCheckoutThenIPNSettlesOnce(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1", "u1@example.com")
	ref := s.checkout(t, token)

	ipn := "/api/billing/vnpay/ipn?" + signedQuery(ref, "20000000", "00")
	rec := s.do(httptest.NewRequest(http.MethodGet, ipn, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "00", rspCode(t, rec))

	rec = s.do(httptest.NewRequest(http.MethodGet, ipn, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "02", rspCode(t, rec))

	// The user lands after the IPN and still sees success.
	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/billing/vnpay/return?"+signedQuery(ref, "20000000", "00"), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/dashboard/billing", loc.Path)
	assert.Equal(t, "true", loc.Query().Get("success"))
	assert.Equal(t, ref, loc.Query().Get("ref"))

	req := httptest.NewRequest(http.MethodGet, "/api/billing/subscription", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sub domain.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, domain.PlanPro, sub.Plan)
	assert.Equal(t, domain.SubscriptionActive, sub.Status)

	logs, err := s.app.Store.CallbackLogs().ListByRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestTamperedIPNIsRejected(t *testing.T) {
	s := newTestServer(t)
	ref := s.checkout(t, s.token(t, "u1", "u1@example.com"))

	// Amount rewritten after signing.
	q := strings.Replace(signedQuery(ref, "20000000", "00"), "vnp_Amount=20000000", "vnp_Amount=100", 1)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/billing/vnpay/ipn?"+q, nil))
	assert.Equal(t, "97", rspCode(t, rec))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/billing/vnpay/return?"+q, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "error=verification_failed")

	txn, err := s.app.Store.Ledger().Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, txn.Status)
}

func TestCheckoutRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/billing/vnpay/checkout", strings.NewReader(`{"plan":"PRO"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutUnconfiguredProvider(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/billing/momo/checkout", strings.NewReader(`{"plan":"PRO"}`))
	req.Header.Set("Authorization", "Bearer "+s.token(t, "u1", "u1@example.com"))
	rec := s.do(req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	ref := s.checkout(t, s.token(t, "u1", "u1@example.com"))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/billing/stats", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "u1", "u1@example.com"))
	assert.Equal(t, http.StatusForbidden, s.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/billing/transactions?status=PENDING", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "ops", "ops@folioforge.app"))
	rec := s.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ref)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGatewaysOnlyEnabled(t *testing.T) {
	cfg := testConfig()
	registry := Gateways(cfg)
	assert.Len(t, registry, 1)
	_, err := registry.Get(domain.ProviderVNPay)
	assert.NoError(t, err)

	cfg.Stripe = config.StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec", Currency: "USD"}
	assert.Len(t, Gateways(cfg), 2)
}

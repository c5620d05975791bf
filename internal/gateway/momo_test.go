package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	momoAccessKey = "F8BBA842ECF85"
	momoSecret    = "K951B6PE1waDMi640xX08PD3vg6EkVlz"
)

func newTestMoMo(endpoint string) *MoMo {
	return NewMoMo(MoMoConfig{
		PartnerCode: "MOMO",
		AccessKey:   momoAccessKey,
		SecretKey:   momoSecret,
		Endpoint:    endpoint,
		RedirectURL: "https://api.folioforge.app/api/billing/momo/return",
		IPNURL:      "https://api.folioforge.app/api/billing/momo/ipn",
	})
}

func momoIPNFields(ref string, amount int64, resultCode int) map[string]string {
	fields := map[string]string{
		"partnerCode":  "MOMO",
		"orderId":      ref,
		"requestId":    "req-1",
		"amount":       fmt.Sprint(amount),
		"orderInfo":    "Upgrade PRO plan",
		"orderType":    "momo_wallet",
		"transId":      "4088878653",
		"resultCode":   fmt.Sprint(resultCode),
		"message":      "Successful.",
		"payType":      "qr",
		"responseTime": "1700000000000",
		"extraData":    "",
	}
	signed := map[string]string{"accessKey": momoAccessKey}
	for k, v := range fields {
		signed[k] = v
	}
	fields["signature"] = payment.SignMoMo(payment.MoMoResultFields, signed, momoSecret)
	return fields
}

// momoIPNBody renders fields the way MoMo does, with numeric JSON values.
func momoIPNBody(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	body := map[string]any{}
	for k, v := range fields {
		switch k {
		case "amount", "transId", "resultCode", "responseTime":
			body[k] = json.Number(v)
		default:
			body[k] = v
		}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestMoMoCreateCheckout(t *testing.T) {
	var got momoCreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, momoCreatePath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"partnerCode":"MOMO","orderId":"u1_PRO_1000","requestId":"x","resultCode":0,"message":"ok","payUrl":"https://test-payment.momo.vn/pay/abc"}`))
	}))
	defer srv.Close()

	session, err := newTestMoMo(srv.URL).CreateCheckout(context.Background(), CheckoutRequest{
		Ref: "u1_PRO_1000", Plan: domain.PlanPro, Amount: 200000, Currency: "VND",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://test-payment.momo.vn/pay/abc", session.RedirectURL)

	assert.Equal(t, "u1_PRO_1000", got.OrderID)
	assert.Equal(t, int64(200000), got.Amount)
	expected := payment.SignMoMo(payment.MoMoCreateFields, map[string]string{
		"accessKey": momoAccessKey, "amount": "200000", "extraData": "", "ipnUrl": got.IPNURL,
		"orderId": got.OrderID, "orderInfo": got.OrderInfo, "partnerCode": "MOMO",
		"redirectUrl": got.RedirectURL, "requestId": got.RequestID, "requestType": "captureWallet",
	}, momoSecret)
	assert.Equal(t, expected, got.Signature)
}

func TestMoMoCreateCheckoutGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resultCode":41,"message":"Duplicated orderId"}`))
	}))
	defer srv.Close()

	_, err := newTestMoMo(srv.URL).CreateCheckout(context.Background(), CheckoutRequest{Ref: "u1_PRO_1", Amount: 1000, Currency: "VND"})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	srv.Close()
	_, err = newTestMoMo(srv.URL).CreateCheckout(context.Background(), CheckoutRequest{Ref: "u1_PRO_2", Amount: 1000, Currency: "VND"})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestMoMoParseIPN(t *testing.T) {
	g := newTestMoMo("http://unused")
	body := momoIPNBody(t, momoIPNFields("u1_PRO_1000", 200000, 0))

	ev, err := g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Body: body})
	require.NoError(t, err)
	assert.Equal(t, "u1_PRO_1000", ev.Ref)
	assert.Equal(t, int64(200000), ev.VerifiedAmount)
	assert.True(t, ev.Success)
	assert.Equal(t, "4088878653", ev.ProviderTxnID)
}

func TestMoMoParseReturn(t *testing.T) {
	g := newTestMoMo("http://unused")
	q := url.Values{}
	for k, v := range momoIPNFields("u1_PRO_1000", 200000, 1006) {
		q.Set(k, v)
	}

	ev, err := g.ParseConfirmation(Callback{Channel: domain.ChannelReturn, Query: q})
	require.NoError(t, err)
	assert.False(t, ev.Success)
	assert.Contains(t, ev.FailureReason, "1006")
}

func TestMoMoParseRejects(t *testing.T) {
	g := newTestMoMo("http://unused")

	fields := momoIPNFields("u1_PRO_1000", 200000, 0)
	fields["amount"] = "1"
	_, err := g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Body: momoIPNBody(t, fields)})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)

	_, err = g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Body: []byte("{not json")})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)

	other := NewMoMo(MoMoConfig{PartnerCode: "OTHER", AccessKey: momoAccessKey, SecretKey: momoSecret})
	_, err = other.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Body: momoIPNBody(t, momoIPNFields("u1_PRO_1000", 200000, 0))})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestMoMoAcknowledge(t *testing.T) {
	g := newTestMoMo("http://unused")

	ack := g.Acknowledge(&domain.SettlementResult{Outcome: domain.OutcomeSettled}, nil)
	assert.Equal(t, http.StatusOK, ack.Status)
	assert.Equal(t, 0, ack.Body.(momoIPNResponse).ResultCode)

	ack = g.Acknowledge(nil, fmt.Errorf("wrapped: %w", domain.ErrAmountMismatch))
	assert.Equal(t, http.StatusBadRequest, ack.Status)
	assert.Equal(t, 21, ack.Body.(momoIPNResponse).ResultCode)

	ack = g.Acknowledge(nil, domain.ErrVerificationFailed)
	assert.Equal(t, 13, ack.Body.(momoIPNResponse).ResultCode)

	ack = g.Acknowledge(nil, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, ack.Status)
}

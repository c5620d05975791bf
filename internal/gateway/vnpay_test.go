package gateway

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vnpaySecret = "VNPAYSECRET"

func newTestVNPay() *VNPay {
	g := NewVNPay(VNPayConfig{
		TmnCode:    "DEMO1234",
		HashSecret: vnpaySecret,
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://api.folioforge.app/api/billing/vnpay/return",
	})
	g.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g
}

// signedVNPayQuery builds a callback query string as VNPay would send it.
func signedVNPayQuery(ref, amount, code string) url.Values {
	fields := map[string]string{
		"vnp_TmnCode":           "DEMO1234",
		"vnp_TxnRef":            ref,
		"vnp_Amount":            amount,
		"vnp_ResponseCode":      code,
		"vnp_TransactionStatus": code,
		"vnp_TransactionNo":     "14012345",
		"vnp_BankCode":          "NCB",
		"vnp_OrderInfo":         "Upgrade PRO plan " + ref,
		"vnp_PayDate":           "20260102101500",
	}
	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set(payment.VNPaySecureHashField, payment.SignVNPay(fields, vnpaySecret))
	return q
}

func TestVNPayCreateCheckoutSignsURL(t *testing.T) {
	g := newTestVNPay()

	session, err := g.CreateCheckout(context.Background(), CheckoutRequest{
		Ref: "u1_PRO_1000", Plan: domain.PlanPro, Amount: 200000, Currency: "VND", ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)

	u, err := url.Parse(session.RedirectURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "20000000", q.Get("vnp_Amount"))
	assert.Equal(t, "u1_PRO_1000", q.Get("vnp_TxnRef"))
	assert.Equal(t, "20260102100405", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20260102101905", q.Get("vnp_ExpireDate"))
	assert.True(t, payment.VNPayVerifier{}.Verify(payment.Payload{Fields: flatten(q)}, vnpaySecret))
}

func TestVNPayCreateCheckoutRejectsOtherCurrency(t *testing.T) {
	_, err := newTestVNPay().CreateCheckout(context.Background(), CheckoutRequest{Ref: "u1_PRO_1", Amount: 999, Currency: "USD"})
	assert.Error(t, err)
}

func TestVNPayParseConfirmation(t *testing.T) {
	g := newTestVNPay()

	ev, err := g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Query: signedVNPayQuery("u1_PRO_1000", "20000000", "00")})
	require.NoError(t, err)
	assert.Equal(t, "u1_PRO_1000", ev.Ref)
	assert.Equal(t, int64(200000), ev.VerifiedAmount)
	assert.Equal(t, "VND", ev.VerifiedCurrency)
	assert.True(t, ev.Success)
	assert.Equal(t, "14012345", ev.ProviderTxnID)
	assert.Equal(t, domain.ChannelIPN, ev.Channel)

	ev, err = g.ParseConfirmation(Callback{Channel: domain.ChannelReturn, Query: signedVNPayQuery("u1_PRO_1000", "20000000", "24")})
	require.NoError(t, err)
	assert.False(t, ev.Success)
	assert.Equal(t, "cancelled by customer", ev.FailureReason)
}

func TestVNPayParseConfirmationRejectsTampering(t *testing.T) {
	g := newTestVNPay()
	q := signedVNPayQuery("u1_PRO_1000", "20000000", "00")
	q.Set("vnp_Amount", "100")

	_, err := g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Query: q})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)

	q = signedVNPayQuery("u1_PRO_1000", "20000000", "00")
	q.Del(payment.VNPaySecureHashField)
	_, err = g.ParseConfirmation(Callback{Channel: domain.ChannelIPN, Query: q})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestVNPayParseConfirmationFractionalAmount(t *testing.T) {
	_, err := newTestVNPay().ParseConfirmation(Callback{Query: signedVNPayQuery("u1_PRO_1000", "20000050", "00")})
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestVNPayAcknowledge(t *testing.T) {
	g := newTestVNPay()
	cases := []struct {
		name string
		res  *domain.SettlementResult
		err  error
		code string
	}{
		{"settled", &domain.SettlementResult{Outcome: domain.OutcomeSettled}, nil, "00"},
		{"failed payment still confirmed", &domain.SettlementResult{Outcome: domain.OutcomeFailed}, nil, "00"},
		{"already settled", &domain.SettlementResult{Outcome: domain.OutcomeAlreadySettled}, nil, "02"},
		{"bad signature", nil, domain.ErrVerificationFailed, "97"},
		{"unknown order", nil, domain.ErrUnknownTransaction, "01"},
		{"amount", nil, domain.ErrAmountMismatch, "04"},
		{"other", nil, assert.AnError, "99"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := g.Acknowledge(tc.res, tc.err)
			assert.Equal(t, http.StatusOK, ack.Status)
			assert.Equal(t, tc.code, ack.Body.(vnpayIPNResponse).RspCode)
		})
	}
}

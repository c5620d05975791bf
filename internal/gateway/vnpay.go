package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/shopspring/decimal"
)

// VNPay sends amounts multiplied by 100 and timestamps in GMT+7.
const (
	vnpayVersion    = "2.1.0"
	vnpayTimeLayout = "20060102150405"
	vnpaySuccess    = "00"
)

var vnpayZone = time.FixedZone("ICT", 7*60*60)

// VNPayConfig configures the VNPay adapter.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	ExpireIn   time.Duration
}

// VNPay is the redirect-based bank gateway. Checkout needs no network call:
// the signed pay URL is the session.
type VNPay struct {
	cfg      VNPayConfig
	verifier payment.Verifier
	now      func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	if cfg.ExpireIn <= 0 {
		cfg.ExpireIn = 15 * time.Minute
	}
	return &VNPay{cfg: cfg, verifier: payment.VNPayVerifier{}, now: time.Now}
}

func (g *VNPay) Provider() domain.Provider { return domain.ProviderVNPay }
func (g *VNPay) Currency() string { return "VND" }

func (g *VNPay) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Currency != g.Currency() {
		return nil, fmt.Errorf("vnpay only accepts VND, got %s", req.Currency)
	}
	now := g.now().In(vnpayZone)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	fields := map[string]string{
		"vnp_Version":    vnpayVersion,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     decimal.NewFromInt(req.Amount).Shift(2).String(),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.Ref,
		"vnp_OrderInfo":  fmt.Sprintf("Upgrade %s plan %s", req.Plan, req.Ref),
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": now.Format(vnpayTimeLayout),
		"vnp_ExpireDate": now.Add(g.cfg.ExpireIn).Format(vnpayTimeLayout),
	}
	query := payment.VNPayCanonical(fields)
	hash := payment.SignVNPay(fields, g.cfg.HashSecret)

	return &CheckoutSession{
		RedirectURL: g.cfg.PayURL + "?" + query + "&" + payment.VNPaySecureHashField + "=" + hash,
		SessionID:   req.Ref,
	}, nil
}

// ParseConfirmation handles both the Return redirect and the IPN, which carry
// the same signed query string.
func (g *VNPay) ParseConfirmation(cb Callback) (*domain.ConfirmationEvent, error) {
	fields := flatten(cb.Query)
	if !g.verifier.Verify(payment.Payload{Fields: fields}, g.cfg.HashSecret) {
		return nil, verificationFailed(domain.ProviderVNPay, "secure hash mismatch")
	}
	if tmn := fields["vnp_TmnCode"]; tmn != "" && tmn != g.cfg.TmnCode {
		return nil, verificationFailed(domain.ProviderVNPay, "terminal code mismatch")
	}

	ref := fields["vnp_TxnRef"]
	if ref == "" {
		return nil, malformed(domain.ProviderVNPay, "missing vnp_TxnRef")
	}
	raw, err := decimal.NewFromString(fields["vnp_Amount"])
	if err != nil {
		return nil, malformed(domain.ProviderVNPay, "invalid vnp_Amount")
	}
	amount := raw.Shift(-2)
	if !amount.Equal(amount.Truncate(0)) {
		return nil, malformed(domain.ProviderVNPay, "fractional vnp_Amount")
	}

	code := fields["vnp_ResponseCode"]
	success := code == vnpaySuccess
	if status, ok := fields["vnp_TransactionStatus"]; ok {
		success = success && status == vnpaySuccess
	}

	event := &domain.ConfirmationEvent{
		Provider:         domain.ProviderVNPay,
		Ref:              ref,
		VerifiedAmount:   amount.IntPart(),
		VerifiedCurrency: "VND",
		Success:          success,
		ProviderTxnID:    fields["vnp_TransactionNo"],
		Channel:          cb.Channel,
	}
	if !success {
		event.FailureReason = vnpayResponseMessage(code)
	}
	return event, nil
}

// VNPay IPN acknowledgement codes.
const (
	vnpayRspConfirmed        = "00"
	vnpayRspOrderNotFound    = "01"
	vnpayRspAlreadyConfirmed = "02"
	vnpayRspInvalidAmount    = "04"
	vnpayRspInvalidChecksum  = "97"
	vnpayRspUnknown          = "99"
)

type vnpayIPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Acknowledge always answers 200; VNPay reads RspCode.
func (g *VNPay) Acknowledge(res *domain.SettlementResult, err error) Ack {
	body := vnpayIPNResponse{RspCode: vnpayRspUnknown, Message: "Unknown error"}
	switch {
	case err == nil && res != nil && res.Outcome == domain.OutcomeAlreadySettled:
		body = vnpayIPNResponse{RspCode: vnpayRspAlreadyConfirmed, Message: "Order already confirmed"}
	case err == nil:
		body = vnpayIPNResponse{RspCode: vnpayRspConfirmed, Message: "Confirm Success"}
	case errors.Is(err, domain.ErrVerificationFailed):
		body = vnpayIPNResponse{RspCode: vnpayRspInvalidChecksum, Message: "Invalid signature"}
	case errors.Is(err, domain.ErrUnknownTransaction), errors.Is(err, domain.ErrInvalidReference):
		body = vnpayIPNResponse{RspCode: vnpayRspOrderNotFound, Message: "Order not found"}
	case errors.Is(err, domain.ErrAmountMismatch):
		body = vnpayIPNResponse{RspCode: vnpayRspInvalidAmount, Message: "Invalid amount"}
	case errors.Is(err, domain.ErrMalformedPayload):
		body = vnpayIPNResponse{RspCode: vnpayRspUnknown, Message: "Invalid request"}
	}
	return Ack{Status: http.StatusOK, Body: body}
}

func vnpayResponseMessage(code string) string {
	switch code {
	case "07":
		return "suspected fraud"
	case "09":
		return "card not registered for internet banking"
	case "10":
		return "card authentication failed"
	case "11":
		return "payment window expired"
	case "12":
		return "card locked"
	case "13":
		return "wrong one-time password"
	case "24":
		return "cancelled by customer"
	case "51":
		return "insufficient funds"
	case "65":
		return "daily limit exceeded"
	case "75":
		return "bank under maintenance"
	case "79":
		return "too many wrong password attempts"
	case "":
		return "missing response code"
	default:
		return "vnpay response code " + code
	}
}

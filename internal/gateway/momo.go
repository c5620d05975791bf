package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/pkg/payment"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const momoCreatePath = "/v2/gateway/api/create"

// MoMoConfig configures the MoMo adapter.
type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RequestType string
	RedirectURL string
	IPNURL      string
	Timeout     time.Duration
}

// MoMo is the e-wallet gateway.
type MoMo struct {
	cfg      MoMoConfig
	client   *resty.Client
	verifier payment.Verifier
}

func NewMoMo(cfg MoMoConfig) *MoMo {
	if cfg.RequestType == "" {
		cfg.RequestType = "captureWallet"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &MoMo{
		cfg:      cfg,
		client:   client,
		verifier: payment.MoMoVerifier{AccessKey: cfg.AccessKey},
	}
}

func (g *MoMo) Provider() domain.Provider { return domain.ProviderMoMo }
func (g *MoMo) Currency() string { return "VND" }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
}

func (g *MoMo) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.Currency != g.Currency() {
		return nil, fmt.Errorf("momo only accepts VND, got %s", req.Currency)
	}
	body := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount,
		OrderID:     req.Ref,
		OrderInfo:   fmt.Sprintf("Upgrade %s plan", req.Plan),
		RedirectURL: g.cfg.RedirectURL,
		IPNURL:      g.cfg.IPNURL,
		RequestType: g.cfg.RequestType,
		Lang:        "vi",
	}
	body.Signature = payment.SignMoMo(payment.MoMoCreateFields, map[string]string{
		"accessKey":   g.cfg.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"extraData":   body.ExtraData,
		"ipnUrl":      body.IPNURL,
		"orderId":     body.OrderID,
		"orderInfo":   body.OrderInfo,
		"partnerCode": body.PartnerCode,
		"redirectUrl": body.RedirectURL,
		"requestId":   body.RequestID,
		"requestType": body.RequestType,
	}, g.cfg.SecretKey)

	var out momoCreateResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(momoCreatePath)
	if err != nil {
		return nil, unavailable(domain.ProviderMoMo, "create request: %v", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, unavailable(domain.ProviderMoMo, "create returned HTTP %d: %s", resp.StatusCode(), out.Message)
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return nil, unavailable(domain.ProviderMoMo, "create rejected with resultCode %d: %s", out.ResultCode, out.Message)
	}
	return &CheckoutSession{RedirectURL: out.PayURL, SessionID: out.RequestID}, nil
}

// ParseConfirmation reads the Return query string or the IPN JSON body.
func (g *MoMo) ParseConfirmation(cb Callback) (*domain.ConfirmationEvent, error) {
	var fields map[string]string
	if cb.Channel == domain.ChannelReturn || len(cb.Body) == 0 {
		fields = flatten(cb.Query)
	} else {
		var err error
		if fields, err = momoFieldsFromJSON(cb.Body); err != nil {
			return nil, malformed(domain.ProviderMoMo, err.Error())
		}
	}

	if !g.verifier.Verify(payment.Payload{Fields: fields}, g.cfg.SecretKey) {
		return nil, verificationFailed(domain.ProviderMoMo, "signature mismatch")
	}
	if fields["partnerCode"] != g.cfg.PartnerCode {
		return nil, verificationFailed(domain.ProviderMoMo, "partner code mismatch")
	}

	ref := fields["orderId"]
	if ref == "" {
		return nil, malformed(domain.ProviderMoMo, "missing orderId")
	}
	amount, err := strconv.ParseInt(fields["amount"], 10, 64)
	if err != nil {
		return nil, malformed(domain.ProviderMoMo, "invalid amount")
	}

	success := fields["resultCode"] == "0"
	event := &domain.ConfirmationEvent{
		Provider:         domain.ProviderMoMo,
		Ref:              ref,
		VerifiedAmount:   amount,
		VerifiedCurrency: "VND",
		Success:          success,
		ProviderTxnID:    fields["transId"],
		Channel:          cb.Channel,
	}
	if !success {
		event.FailureReason = fmt.Sprintf("momo resultCode %s: %s", fields["resultCode"], fields["message"])
	}
	return event, nil
}

// momoFieldsFromJSON flattens an IPN body into strings. Numbers keep their
// exact textual form so the signature input matches what MoMo signed.
func momoFieldsFromJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			encoded, err := json.Marshal(val)
			if err != nil {
				return nil, err
			}
			fields[k] = string(encoded)
		}
	}
	return fields, nil
}

// MoMo result codes used in IPN acknowledgements.
const (
	momoAckSuccess       = 0
	momoAckAuthFailed    = 13
	momoAckBadFormat     = 20
	momoAckInvalidAmount = 21
	momoAckOrderNotFound = 42
	momoAckUnknown       = 99
)

type momoIPNResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

func (g *MoMo) Acknowledge(res *domain.SettlementResult, err error) Ack {
	switch {
	case err == nil && res != nil && res.Outcome == domain.OutcomeAlreadySettled:
		return Ack{Status: http.StatusOK, Body: momoIPNResponse{ResultCode: momoAckSuccess, Message: "Already confirmed"}}
	case err == nil:
		return Ack{Status: http.StatusOK, Body: momoIPNResponse{ResultCode: momoAckSuccess, Message: "Success"}}
	}

	body := momoIPNResponse{ResultCode: momoAckUnknown, Message: "Unknown error"}
	switch {
	case errors.Is(err, domain.ErrVerificationFailed):
		body = momoIPNResponse{ResultCode: momoAckAuthFailed, Message: "Invalid signature"}
	case errors.Is(err, domain.ErrMalformedPayload):
		body = momoIPNResponse{ResultCode: momoAckBadFormat, Message: "Bad format request"}
	case errors.Is(err, domain.ErrAmountMismatch):
		body = momoIPNResponse{ResultCode: momoAckInvalidAmount, Message: "Invalid amount"}
	case errors.Is(err, domain.ErrUnknownTransaction), errors.Is(err, domain.ErrInvalidReference):
		body = momoIPNResponse{ResultCode: momoAckOrderNotFound, Message: "Order not found"}
	}
	status := http.StatusInternalServerError
	if isRejection(err) {
		status = http.StatusBadRequest
	}
	return Ack{Status: status, Body: body}
}

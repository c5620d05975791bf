package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/gateway"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/pkg/crypto"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"go.uber.org/zap"
)

// CallbackOutcome is what the HTTP layer needs to answer a gateway.
type CallbackOutcome struct {
	Event  *domain.ConfirmationEvent
	Result *domain.SettlementResult
	Ack    gateway.Ack
}

// CallbackService verifies inbound gateway deliveries, settles them through
// the reconciler and keeps an encrypted audit trail.
type CallbackService struct {
	gateways   gateway.Registry
	reconciler *Reconciler
	logs       repository.CallbackLogStore
	sealer     *crypto.Sealer
	now        func() time.Time
}

// NewCallbackService creates a callback service. A nil sealer disables payload
// capture in the audit log.
func NewCallbackService(gateways gateway.Registry, reconciler *Reconciler, logs repository.CallbackLogStore, sealer *crypto.Sealer) *CallbackService {
	return &CallbackService{
		gateways:   gateways,
		reconciler: reconciler,
		logs:       logs,
		sealer:     sealer,
		now:        time.Now,
	}
}

// Handle processes one Return, IPN or webhook delivery. The returned error is
// the settlement error, if any; Ack is always set when the provider is known.
func (s *CallbackService) Handle(ctx context.Context, provider domain.Provider, cb gateway.Callback) (*CallbackOutcome, error) {
	adapter, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).With(zap.String("provider", string(provider)), zap.String("channel", string(cb.Channel)))

	var (
		event    *domain.ConfirmationEvent
		result   *domain.SettlementResult
		parsed   bool
		applyErr error
	)
	if wp, ok := adapter.(gateway.WebhookParser); ok && cb.Channel == domain.ChannelWebhook {
		var wh *gateway.WebhookEvent
		wh, applyErr = wp.ParseWebhook(cb)
		if applyErr == nil {
			parsed = true
			log = log.With(zap.String("event_id", wh.ID), zap.String("event_type", wh.Type))
			switch {
			case wh.Confirmation != nil:
				event = wh.Confirmation
				result, applyErr = s.reconciler.Apply(ctx, event)
			case wh.Lifecycle != nil:
				_, applyErr = s.reconciler.ApplyLifecycle(ctx, wh.Lifecycle)
			default:
				applyErr = domain.ErrIgnoredEvent
			}
		}
	} else {
		event, applyErr = adapter.ParseConfirmation(cb)
		if applyErr == nil {
			parsed = true
			result, applyErr = s.reconciler.Apply(ctx, event)
		}
	}

	switch {
	case applyErr == nil:
	case errors.Is(applyErr, domain.ErrIgnoredEvent):
		log.Debug("gateway event ignored", zap.Error(applyErr))
	case rejected(applyErr):
		log.Warn("gateway callback rejected", zap.Error(applyErr))
		newrelic.FromContext(ctx).NoticeExpectedError(applyErr)
	default:
		log.Error("gateway callback failed", zap.Error(applyErr))
		newrelic.FromContext(ctx).NoticeError(applyErr)
	}

	s.audit(ctx, provider, cb, event, result, parsed, applyErr)
	return &CallbackOutcome{
		Event:  event,
		Result: result,
		Ack:    adapter.Acknowledge(result, applyErr),
	}, applyErr
}

func rejected(err error) bool {
	return errors.Is(err, domain.ErrVerificationFailed) ||
		errors.Is(err, domain.ErrMalformedPayload) ||
		errors.Is(err, domain.ErrAmountMismatch) ||
		errors.Is(err, domain.ErrUnknownTransaction) ||
		errors.Is(err, domain.ErrInvalidReference)
}

// audit writes the callback log entry. Failures are logged, never returned:
// the settlement already happened.
func (s *CallbackService) audit(ctx context.Context, provider domain.Provider, cb gateway.Callback, event *domain.ConfirmationEvent, result *domain.SettlementResult, parsed bool, applyErr error) {
	entry := &domain.CallbackLog{
		ID:             uuid.NewString(),
		Provider:       provider,
		Channel:        cb.Channel,
		TransactionRef: refHint(cb, event),
		SignatureValid: parsed,
		ReceivedAt:     s.now().UTC(),
	}
	switch {
	case result != nil:
		entry.Outcome = result.Outcome
	case applyErr == nil, errors.Is(applyErr, domain.ErrIgnoredEvent):
		entry.Outcome = domain.OutcomeIgnored
	default:
		entry.Outcome = domain.OutcomeRejected
	}
	if applyErr != nil && !errors.Is(applyErr, domain.ErrIgnoredEvent) {
		entry.Error = applyErr.Error()
	}

	log := logger.FromContext(ctx)
	if s.sealer != nil {
		raw, err := json.Marshal(struct {
			Query map[string][]string `json:"query,omitempty"`
			Body  string              `json:"body,omitempty"`
		}{Query: cb.Query, Body: string(cb.Body)})
		if err == nil {
			entry.Payload, err = s.sealer.Seal(raw, entry.TransactionRef)
		}
		if err != nil {
			log.Warn("failed to seal callback payload", zap.Error(err))
		}
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		log.Error("failed to write callback log", zap.Error(err), zap.String("ref", entry.TransactionRef))
	}
}

// refHint names the transaction a delivery is about, even when it failed
// verification.
func refHint(cb gateway.Callback, event *domain.ConfirmationEvent) string {
	if event != nil {
		return event.Ref
	}
	for _, key := range []string{"vnp_TxnRef", "orderId"} {
		if v := cb.Query.Get(key); v != "" {
			return v
		}
	}
	if len(cb.Body) > 0 {
		var body struct {
			OrderID string `json:"orderId"`
		}
		if json.Unmarshal(cb.Body, &body) == nil {
			return body.OrderID
		}
	}
	return ""
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/gateway"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/pkg/orderref"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// FailureGatewayUnavailable is recorded on rows whose checkout never reached
// the gateway.
const FailureGatewayUnavailable = "gateway_unavailable"

// Buyer identifies the authenticated user starting a checkout.
type Buyer struct {
	UserID   string
	Email    string
	ClientIP string
}

// CheckoutService records pending payments and hands users to a gateway.
type CheckoutService struct {
	store    repository.Store
	gateways gateway.Registry
	refs     *orderref.Encoder
	validate *validator.Validate
}

// NewCheckoutService creates a new checkout service.
func NewCheckoutService(store repository.Store, gateways gateway.Registry) *CheckoutService {
	return &CheckoutService{
		store:    store,
		gateways: gateways,
		validate: validator.New(),
	}
}

// WithEncoder replaces the process-wide reference encoder.
func (s *CheckoutService) WithEncoder(enc *orderref.Encoder) *CheckoutService {
	s.refs = enc
	return s
}

// Checkout creates a PENDING ledger row and a gateway session for it.
func (s *CheckoutService) Checkout(ctx context.Context, buyer Buyer, provider domain.Provider, req domain.CheckoutRequest) (*domain.CheckoutResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(fmt.Sprintf("invalid checkout request: %v", err))
	}
	adapter, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	current, err := s.store.Subscriptions().FindByUserID(ctx, buyer.UserID)
	if err != nil {
		return nil, domain.ErrInternal("failed to load subscription", err)
	}
	if current.IsLifetimeActive() {
		return nil, domain.ErrConflict("you already own the lifetime plan")
	}

	cycle := req.BillingCycle
	if req.Plan.Recurring() && cycle == "" {
		cycle = domain.CycleMonthly
	}
	price, err := domain.PriceFor(req.Plan, cycle, adapter.Currency())
	if err != nil {
		return nil, domain.ErrBadRequest(err.Error())
	}
	amount, err := price.MinorUnits()
	if err != nil {
		return nil, domain.ErrInternal("invalid plan price", err)
	}

	encode := orderref.Encode
	if s.refs != nil {
		encode = s.refs.Encode
	}
	ref, err := encode(buyer.UserID, string(req.Plan))
	if err != nil {
		return nil, domain.ErrBadRequest("user id cannot be used in a payment reference")
	}

	meta := domain.Metadata{}
	if req.Plan.Recurring() {
		meta[domain.MetaBillingCycle] = string(cycle)
	}
	if buyer.Email != "" {
		meta[domain.MetaEmail] = buyer.Email
	}
	txn := &domain.PaymentTransaction{
		TransactionID: ref,
		Provider:      provider,
		UserID:        buyer.UserID,
		Plan:          req.Plan,
		Amount:        amount,
		Currency:      price.Currency,
		Metadata:      meta,
	}
	if err := s.store.Ledger().RecordPending(ctx, txn); err != nil {
		if errors.Is(err, domain.ErrDuplicateTransaction) {
			return nil, domain.ErrConflict("checkout already in progress, retry")
		}
		return nil, domain.ErrInternal("failed to record payment", err)
	}

	log := logger.FromContext(ctx).With(zap.String("ref", ref), zap.String("provider", string(provider)))
	session, err := adapter.CreateCheckout(ctx, gateway.CheckoutRequest{
		Ref:      ref,
		UserID:   buyer.UserID,
		Email:    buyer.Email,
		Plan:     req.Plan,
		Cycle:    cycle,
		Amount:   amount,
		Currency: price.Currency,
		ClientIP: buyer.ClientIP,
	})
	if err != nil {
		log.Error("gateway checkout failed", zap.Error(err))
		patch := domain.Metadata{domain.MetaFailureReason: FailureGatewayUnavailable}
		if _, _, markErr := s.store.Ledger().TransitionIfPending(ctx, ref, domain.StatusFailed, patch); markErr != nil {
			log.Error("failed to mark transaction failed", zap.Error(markErr))
		}
		return nil, domain.ErrBadGateway("failed to create payment", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err))
	}

	log.Info("checkout created", zap.String("user_id", buyer.UserID), zap.Int64("amount", amount), zap.String("currency", price.Currency))
	return &domain.CheckoutResponse{RedirectURL: session.RedirectURL, TransactionID: ref}, nil
}

package server

import (
	"context"
	"fmt"

	"github.com/folioforge/backend/internal/config"
	"github.com/folioforge/backend/internal/gateway"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/internal/repository/memory"
	"github.com/folioforge/backend/internal/repository/postgres"
	"github.com/folioforge/backend/internal/service"
	"github.com/folioforge/backend/pkg/crypto"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the wired services of the billing backend.
type App struct {
	Config   *config.Config
	Store    repository.Store
	Redis    *redis.Client
	NewRelic *newrelic.Application
	Gateways gateway.Registry

	Reconciler *service.Reconciler
	Checkout   *service.CheckoutService
	Callbacks  *service.CallbackService
	Billing    *service.BillingService
	Auth       *service.AuthService
	Sweeper    *service.Sweeper

	closers []func()
}

// OpenStore connects the configured record store. The returned func releases it.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Store == "memory" {
		logger.L().Warn("using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	logger.L().Info("database connected")
	return postgres.NewStore(pool), pool.Close, nil
}

// Gateways builds the registry from every gateway that has credentials.
func Gateways(cfg *config.Config) gateway.Registry {
	var adapters []gateway.Adapter
	if cfg.VNPay.Enabled() {
		adapters = append(adapters, gateway.NewVNPay(gateway.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.PublicURL + "/api/billing/vnpay/return",
			ExpireIn:   cfg.VNPay.ExpireIn,
		}))
	}
	if cfg.MoMo.Enabled() {
		adapters = append(adapters, gateway.NewMoMo(gateway.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			RequestType: cfg.MoMo.RequestType,
			RedirectURL: cfg.PublicURL + "/api/billing/momo/return",
			IPNURL:      cfg.PublicURL + "/api/billing/momo/ipn",
			Timeout:     cfg.GatewayTimeout,
		}))
	}
	if cfg.Stripe.Enabled() {
		adapters = append(adapters, gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
			APIBase:       cfg.Stripe.APIBase,
			SuccessURL:    cfg.BillingPageURL,
			CancelURL:     cfg.BillingPageURL,
			Timeout:       cfg.GatewayTimeout,
		}))
	}
	return gateway.NewRegistry(adapters...)
}

// New wires the application. Redis and New Relic are optional.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Store: store, closers: []func(){closeStore}}

	if cfg.Redis.Addr != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			logger.L().Warn("redis unavailable, idempotency keys disabled", zap.Error(err))
			_ = app.Redis.Close()
			app.Redis = nil
		} else {
			app.closers = append(app.closers, func() { _ = app.Redis.Close() })
		}
	}

	if cfg.NewRelic.Enabled {
		nr, err := newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.L().Warn("new relic disabled", zap.Error(err))
		} else {
			app.NewRelic = nr
		}
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("encryption: %w", err)
	}

	app.Gateways = Gateways(cfg)
	if len(app.Gateways) == 0 {
		logger.L().Warn("no payment gateway configured")
	}
	for p := range app.Gateways {
		logger.L().Info("payment gateway enabled", zap.String("provider", string(p)))
	}

	app.Reconciler = service.NewReconciler(store)
	app.Checkout = service.NewCheckoutService(store, app.Gateways)
	app.Callbacks = service.NewCallbackService(app.Gateways, app.Reconciler, store.CallbackLogs(), sealer)
	app.Billing = service.NewBillingService(store)
	app.Auth = service.NewAuthService(cfg.JWTSecret)
	app.Sweeper = service.NewSweeper(store.Ledger(), cfg.Sweeper.PendingTTL, cfg.Sweeper.Interval)
	return app, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	if a.NewRelic != nil {
		a.NewRelic.Shutdown(a.Config.GatewayTimeout)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

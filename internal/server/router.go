package server

import (
	"context"
	"net/http"
	"time"

	"github.com/folioforge/backend/internal/handler"
	appMiddleware "github.com/folioforge/backend/internal/middleware"
	"github.com/folioforge/backend/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Router builds the HTTP routes. Rate limiter cleanup stops with ctx.
func (a *App) Router(ctx context.Context) http.Handler {
	plansHandler := handler.NewPlansHandler()
	healthHandler := handler.NewHealthHandler(a.Store, a.Redis)
	billingHandler := handler.NewBillingHandler(a.Checkout, a.Billing)
	callbackHandler := handler.NewCallbackHandler(a.Callbacks, a.Config.BillingPageURL)
	adminHandler := handler.NewAdminHandler(a.Billing, a.Reconciler)
	statusHandler := ws.NewStatusHandler(a.Billing, a.Auth, 2*time.Second)

	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(appMiddleware.NewRelic(a.NewRelic))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Browser traffic: 20 req/sec per IP, burst of 40
	globalRL := appMiddleware.NewRateLimiter(ctx, "global", 20, 40)
	// Gateways retry in bursts from few IPs, so callbacks get their own budget.
	callbackRL := appMiddleware.NewRateLimiter(ctx, "callbacks", 50, 100)

	r.Group(func(r chi.Router) {
		r.Use(callbackRL.Middleware())

		r.Get("/api/billing/vnpay/return", callbackHandler.VNPayReturn)
		r.Get("/api/billing/vnpay/ipn", callbackHandler.VNPayIPN)
		r.Get("/api/billing/momo/return", callbackHandler.MoMoReturn)
		r.Post("/api/billing/momo/ipn", callbackHandler.MoMoIPN)
		r.Post("/api/billing/stripe/webhook", callbackHandler.StripeWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(globalRL.Middleware())

		r.Get("/health", healthHandler.Check)
		r.Get("/api/plans", plansHandler.List)

		// Protected API routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.Auth(a.Auth))

			r.With(appMiddleware.Idempotency(a.Redis)).Post("/api/billing/{provider}/checkout", billingHandler.Checkout)
			r.Get("/api/billing/subscription", billingHandler.GetSubscription)
			r.Get("/api/billing/transactions", billingHandler.ListTransactions)
			r.Get("/api/billing/transactions/{ref}", billingHandler.GetTransaction)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(appMiddleware.AdminOnly(a.Config.IsAdminEmail))
				r.Get("/api/admin/billing/stats", adminHandler.GetStats)
				r.Get("/api/admin/billing/transactions", adminHandler.ListTransactions)
				r.Get("/api/admin/billing/transactions/{ref}", adminHandler.GetTransaction)
				r.Post("/api/admin/billing/subscriptions/{userId}/rebuild", adminHandler.RebuildSubscription)
			})
		})

		// WebSocket (auth via query param token)
		r.HandleFunc("/ws/billing/transactions/{ref}", statusHandler.Handle)
	})

	return r
}

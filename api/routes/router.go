package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/ledgerd/api/controllers"
	webhookcontrollers "github.com/angelmondragon/ledgerd/api/controllers/webhooks"
	"github.com/angelmondragon/ledgerd/api/middleware"
	stripewebhook "github.com/angelmondragon/ledgerd/internal/webhooks/stripe"
	pkgauth "github.com/angelmondragon/ledgerd/pkg/auth"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	pkgredis "github.com/angelmondragon/ledgerd/pkg/redis"
	"github.com/angelmondragon/ledgerd/pkg/stripe"
)

// Params are the handlers' collaborators. Nil services answer with an
// internal error; a nil Stripe client leaves the webhook unmounted.
type Params struct {
	Config         *config.Config
	Logger         *logger.Logger
	Readiness      map[string]controllers.Pinger
	Metrics        *metrics.HTTPMetrics
	// MetricsHandler serves /metrics; nil leaves it unmounted.
	MetricsHandler http.Handler
	Idempotency    pkgredis.IdempotencyStore
	RateLimiter    middleware.RateLimiter
	Balances       controllers.BalanceReader
	Records        controllers.RecordFinder
	Withdrawals    controllers.Withdrawer
	Reversals      controllers.Reverser
	Charges        controllers.Charger
	Subscriptions  controllers.Subscriptions
	StripeClient   *stripe.Client
	StripeEvents   webhookcontrollers.StripeWebhookService
	StripeGuard    *stripewebhook.IdempotencyGuard
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.Metrics),
	)

	if p.MetricsHandler != nil {
		r.Handle("/metrics", p.MetricsHandler)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})

	if p.StripeClient != nil && p.StripeEvents != nil {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(p.StripeEvents, p.StripeClient, p.StripeGuard, logg))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgauth.ScopeRead, logg))
			r.Get("/balances/{userID}", controllers.Balances(p.Balances, logg))
			r.Get("/users/{userID}/transactions", controllers.Transactions(p.Records, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(pkgauth.ScopeWrite, logg))
			withdrawals := middleware.NewRateLimitPolicy("withdrawals", cfg.Payout.WithdrawalRateLimit, cfg.Payout.WithdrawalRateWindow)
			r.With(middleware.RateLimit(withdrawals, p.RateLimiter, logg)).
				Post("/withdrawals", controllers.Withdrawals(p.Withdrawals, logg))
			r.Post("/transactions/{id}/reverse", controllers.ReverseTransaction(p.Reversals, logg))
			r.Post("/invoices/{id}/charge", controllers.ChargeInvoice(p.Charges, logg))
			r.Post("/subscriptions", controllers.Subscribe(p.Subscriptions, logg))
			r.Post("/subscriptions/{id}/cancel", controllers.CancelSubscription(p.Subscriptions, logg))
		})
	})

	return r
}

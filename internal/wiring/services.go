// Package wiring assembles the ledger's services from configuration so every
// binary builds the same graph.
package wiring

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ledgerd/internal/billing"
	"github.com/angelmondragon/ledgerd/internal/deliverables"
	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/gateway/squaregw"
	"github.com/angelmondragon/ledgerd/internal/gateway/stripegw"
	"github.com/angelmondragon/ledgerd/internal/invoices"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/internal/payments"
	"github.com/angelmondragon/ledgerd/internal/payouts"
	"github.com/angelmondragon/ledgerd/internal/reversals"
	"github.com/angelmondragon/ledgerd/internal/webhooks"
	stripewebhook "github.com/angelmondragon/ledgerd/internal/webhooks/stripe"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/metrics"
	"github.com/angelmondragon/ledgerd/pkg/outbox"
	"github.com/angelmondragon/ledgerd/pkg/square"
	pkgstripe "github.com/angelmondragon/ledgerd/pkg/stripe"
)

// Params are the process-level handles the services share.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Registerer prometheus.Registerer
}

// Services is the assembled service graph.
type Services struct {
	Ledger        ledger.Service
	Invoices      *invoices.Service
	Payments      *payments.Service
	Reversals     *reversals.Service
	Payouts       *payouts.Service
	Billing       *billing.Service
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
	Webhooks      webhooks.Store
	StripeEvents  *stripewebhook.Service
	StripeClient  *pkgstripe.Client
	Gateways      *gateway.Registry
	LedgerMetrics *metrics.LedgerMetrics
}

// Build constructs every service. Gateways are registered only when their
// credentials are configured; an operation against a missing provider fails
// with a dependency error.
func Build(ctx context.Context, p Params) (*Services, error) {
	cfg := p.Config
	conn := p.DB.DB()
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	svc := &Services{LedgerMetrics: metrics.NewLedgerMetrics(reg)}

	var gateways []gateway.Gateway
	if strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, p.Logger)
		if err != nil {
			return nil, err
		}
		gw, err := stripegw.New(stripegw.NewAPI(client), p.Logger)
		if err != nil {
			return nil, err
		}
		svc.StripeClient = client
		gateways = append(gateways, gw)
	}
	if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		client, err := square.NewClient(ctx, cfg.Square, p.Logger)
		if err != nil {
			return nil, err
		}
		gw, err := squaregw.New(client)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	svc.Gateways = gateway.NewRegistry(gateways...)

	led, err := ledger.NewService(ledger.ServiceParams{
		Repo:            ledger.NewRepository(conn),
		Metrics:         svc.LedgerMetrics,
		Logger:          p.Logger,
		DefaultCurrency: enums.Currency(cfg.Ledger.DefaultCurrency),
	})
	if err != nil {
		return nil, err
	}
	svc.Ledger = led

	svc.OutboxRepo = outbox.NewRepository(conn)
	svc.Outbox = outbox.NewService(svc.OutboxRepo, p.Logger)

	svc.Invoices, err = invoices.NewService(invoices.ServiceParams{
		Repo:   invoices.NewRepository(conn),
		Tx:     p.DB,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, err
	}

	dels := deliverables.NewRepository(conn)
	svc.Payments, err = payments.NewService(payments.ServiceParams{
		Tx:           p.DB,
		Ledger:       led,
		Invoices:     svc.Invoices,
		Deliverables: dels,
		Outbox:       svc.Outbox,
		Gateways:     svc.Gateways,
		Retry:        cfg.Retry,
		Metrics:      svc.LedgerMetrics,
		Logger:       p.Logger,
	})
	if err != nil {
		return nil, err
	}

	svc.Reversals, err = reversals.NewService(reversals.ServiceParams{
		Tx:       p.DB,
		Ledger:   led,
		Outbox:   svc.Outbox,
		Gateways: svc.Gateways,
		Retry:    cfg.Retry,
		Metrics:  svc.LedgerMetrics,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, err
	}

	svc.Payouts, err = payouts.NewService(payouts.ServiceParams{
		Tx:           p.DB,
		Ledger:       led,
		Deliverables: dels,
		Preferences:  payouts.NewPreferenceRepository(conn),
		Outbox:       svc.Outbox,
		Gateways:     svc.Gateways,
		Config:       cfg.Payout,
		Retry:        cfg.Retry,
		Metrics:      svc.LedgerMetrics,
		Logger:       p.Logger,
	})
	if err != nil {
		return nil, err
	}

	svc.Billing, err = billing.NewService(billing.ServiceParams{
		Repo:     billing.NewRepository(conn),
		Tx:       p.DB,
		Invoices: svc.Invoices,
		Payments: svc.Payments,
		Outbox:   svc.Outbox,
		Config:   cfg.Billing,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, err
	}

	svc.Webhooks = webhooks.NewStore(conn)
	svc.StripeEvents, err = stripewebhook.NewService(stripewebhook.ServiceParams{
		Tx:       p.DB,
		Events:   svc.Webhooks,
		Payments: svc.Payments,
		Refunds:  svc.Reversals,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

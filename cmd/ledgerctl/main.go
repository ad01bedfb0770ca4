// Command ledgerctl runs one-off operator tasks against the ledger database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/ledgerd/internal/gateway"
	"github.com/angelmondragon/ledgerd/internal/reconcile"
	"github.com/angelmondragon/ledgerd/internal/wiring"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  reconcile-fees       append missing settlement ids to card records
  replay-webhook       re-apply stored webhook deliveries
  check-conservation   verify every pass-through account nets to zero
`

// command is one operator task. It receives the assembled services.
type command struct {
	flags *flag.FlagSet
	run   func(ctx context.Context, svc *wiring.Services, out io.Writer) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd, err := parse(args, out)
	if err != nil {
		return err
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "ledgerctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	svc, err := wiring.Build(ctx, wiring.Params{Config: cfg, Logger: logg, DB: dbClient})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	return cmd.run(ctx, svc, out)
}

// parse resolves the subcommand and its flags before any resource is opened.
func parse(args []string, out io.Writer) (*command, error) {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil, errors.New("missing command")
	}
	commands := map[string]func() *command{
		"reconcile-fees":     reconcileFeesCommand,
		"replay-webhook":     replayWebhookCommand,
		"check-conservation": checkConservationCommand,
	}
	build, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(out, usage)
		return nil, fmt.Errorf("unknown command %q", args[0])
	}
	cmd := build()
	cmd.flags.SetOutput(out)
	if err := cmd.flags.Parse(args[1:]); err != nil {
		return nil, err
	}
	return cmd, nil
}

func reconcileFeesCommand() *command {
	fs := flag.NewFlagSet("reconcile-fees", flag.ContinueOnError)
	provider := fs.String("provider", string(enums.GatewayStripe), "gateway whose settlements are looked up")
	since := fs.Duration("since", 7*24*time.Hour, "only records finalized within this window")
	limit := fs.Int("limit", 500, "maximum records scanned")
	dryRun := fs.Bool("dry-run", false, "report without writing")

	return &command{flags: fs, run: func(ctx context.Context, svc *wiring.Services, out io.Writer) error {
		gw, err := svc.Gateways.For(enums.GatewayProvider(*provider))
		if err != nil {
			return err
		}
		fees, ok := gw.(gateway.FeeLookup)
		if !ok {
			return fmt.Errorf("gateway %s does not expose settlement lookups", *provider)
		}
		rec, err := reconcile.NewFeeReconciler(svc.Ledger, fees, nil)
		if err != nil {
			return err
		}
		opts := reconcile.FeeOptions{Limit: *limit, DryRun: *dryRun}
		if *since > 0 {
			opts.Since = time.Now().UTC().Add(-*since)
		}
		report, err := rec.Run(ctx, opts)
		fmt.Fprintf(out, "scanned=%d updated=%d complete=%d missing=%d dry_run=%t\n",
			report.Scanned, report.Updated, report.Complete, report.Missing, *dryRun)
		return err
	}}
}

func replayWebhookCommand() *command {
	fs := flag.NewFlagSet("replay-webhook", flag.ContinueOnError)
	eventID := fs.String("event", "", "stored Stripe event id to replay")
	force := fs.Bool("force", false, "re-apply even if already processed")
	pending := fs.Bool("pending", false, "replay every unprocessed delivery instead of one event")
	olderThan := fs.Duration("older-than", 10*time.Minute, "with -pending, skip deliveries newer than this")
	limit := fs.Int("limit", 100, "with -pending, maximum deliveries replayed")

	return &command{flags: fs, run: func(ctx context.Context, svc *wiring.Services, out io.Writer) error {
		if svc.StripeEvents == nil {
			return errors.New("stripe webhook handling is not configured")
		}
		if !*pending {
			if strings.TrimSpace(*eventID) == "" {
				return errors.New("-event or -pending is required")
			}
			outcome, err := svc.StripeEvents.Replay(ctx, *eventID, *force)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", *eventID, outcome)
			return nil
		}

		rows, err := svc.Webhooks.ListUnprocessed(ctx, enums.GatewayStripe, time.Now().UTC().Add(-*olderThan), *limit)
		if err != nil {
			return err
		}
		failed := 0
		for _, row := range rows {
			outcome, err := svc.StripeEvents.Replay(ctx, row.EventID, false)
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s error: %v\n", row.EventID, err)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", row.EventID, outcome)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deliveries failed", failed, len(rows))
		}
		return nil
	}}
}

func checkConservationCommand() *command {
	fs := flag.NewFlagSet("check-conservation", flag.ContinueOnError)

	return &command{flags: fs, run: func(ctx context.Context, svc *wiring.Services, out io.Writer) error {
		imbalances, err := svc.Ledger.CheckConservation(ctx)
		if err != nil {
			return err
		}
		if len(imbalances) == 0 {
			fmt.Fprintln(out, "all pass-through accounts balance")
			return nil
		}
		sort.Slice(imbalances, func(i, j int) bool {
			if imbalances[i].Account != imbalances[j].Account {
				return imbalances[i].Account < imbalances[j].Account
			}
			return imbalances[i].Currency < imbalances[j].Currency
		})
		for _, im := range imbalances {
			fmt.Fprintf(out, "%s difference %s\n", im, im.Difference())
		}
		return fmt.Errorf("%d pass-through account(s) out of balance", len(imbalances))
	}}
}

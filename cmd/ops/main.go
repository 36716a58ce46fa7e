// Package main is the operational CLI for the StreamVault payments service.
//
// Subcommands:
//
//	expire-lapsed   mark subscriptions expired for customers whose plan
//	                expiry has passed (idempotent, safe to run on a cron)
//	ledger-show     print the ledger record for a payment id
//
// The CLI reuses the service configuration; it connects with the same
// DATABASE_URL the API uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamvault/internal/config"
	"streamvault/internal/db"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ops <expire-lapsed|ledger-show> [flags]")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	switch args[0] {
	case "expire-lapsed":
		return runExpireLapsed(ctx, pool, logger)
	case "ledger-show":
		return runLedgerShow(ctx, pool, args[1:])
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

// runExpireLapsed flips subscription_status to expired for every customer
// whose plan_expiry has passed. The webhook pipeline never does this on its
// own; it only extends.
func runExpireLapsed(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	repo := db.NewEntitlementRepo(pool, logger)

	expired, err := repo.ExpireLapsed(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	logger.Info("expired lapsed subscriptions", slog.Int64("count", expired))
	return nil
}

// runLedgerShow prints one idempotency ledger record as JSON, for support
// investigations ("was this payment credited?").
func runLedgerShow(ctx context.Context, pool *pgxpool.Pool, args []string) error {
	fs := flag.NewFlagSet("ledger-show", flag.ContinueOnError)
	paymentID := fs.String("payment-id", "", "gateway payment id to look up")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *paymentID == "" {
		return fmt.Errorf("ledger-show: -payment-id is required")
	}

	repo := db.NewPaymentLedgerRepo(pool, nil)
	rec, err := repo.GetByPaymentID(ctx, *paymentID)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

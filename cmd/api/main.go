// Package main is the entry point for the StreamVault payments API server.
//
// It loads configuration, connects the pgx pool, wires the verification and
// processing pipeline, builds the HTTP server with the core chassis
// (middleware, routing, health checks), and starts listening.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"streamvault/internal/alerts"
	"streamvault/internal/api/handlers"
	"streamvault/internal/config"
	"streamvault/internal/core"
	"streamvault/internal/db"
	"streamvault/internal/external"
	"streamvault/internal/payments"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("streamvault payments API starting",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.Server.Port),
		slog.Bool("stripe_enabled", cfg.StripeEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Closers = append(srv.Closers, pool.Close)
	srv.HealthProbes = append(srv.HealthProbes, &db.HealthProbe{Pool: pool})

	// Repositories, all backed by the shared pool.
	ledgerRepo := db.NewPaymentLedgerRepo(pool, logger)
	entitlementRepo := db.NewEntitlementRepo(pool, logger)
	planRepo := db.NewPlanRepo(pool)

	alertPublisher, err := newAlertPublisher(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating alert publisher: %w", err)
	}

	processor := payments.NewProcessor(pool, ledgerRepo, entitlementRepo, planRepo, alertPublisher, logger)

	// Gateway clients and verifiers.
	razorpayVerifier := &external.RazorpayVerifier{}
	razorpayClient := external.NewRazorpayClient(external.TimeoutHTTPClient(), cfg.Razorpay, logger)

	verification := payments.NewVerificationService(
		razorpayVerifier,
		razorpayClient,
		processor,
		cfg.Razorpay.KeySecret,
		logger,
	)
	checkout := payments.NewCheckoutService(razorpayClient, planRepo, entitlementRepo, logger)

	// Webhook ingress.
	razorpayWebhook := handlers.NewRazorpayWebhookHandler(
		func(payload []byte, signatureHeader string) error {
			return razorpayVerifier.Verify(payload, signatureHeader, cfg.Razorpay.WebhookSecret)
		},
		processor,
		logger,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, razorpayWebhook.Register)

	if cfg.StripeEnabled() {
		stripeVerifier := &external.StripeVerifier{}
		stripeWebhook := handlers.NewStripeWebhookHandler(
			func(payload []byte, signatureHeader string) error {
				return stripeVerifier.Verify(payload, signatureHeader, cfg.Stripe.WebhookSecret)
			},
			processor,
			logger,
		)
		srv.WebhookRegistrars = append(srv.WebhookRegistrars, stripeWebhook.Register)
	}

	// Client-facing routes.
	verifyHandler := handlers.NewVerifyHandler(verification, srv.Validator, logger)
	ordersHandler := handlers.NewOrdersHandler(checkout, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { verifyHandler.Register(r) },
		func(r chi.Router) { ordersHandler.Register(r) },
	)

	srv.MountRoutes()

	return serveHTTP(ctx, srv, logger)
}

// newAlertPublisher selects SQS when a queue is configured, otherwise the
// log fallback.
func newAlertPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (payments.AlertPublisher, error) {
	if cfg.Alerts.QueueURL == "" {
		logger.Info("no alert queue configured, operator alerts go to the log")
		return alerts.NewLogPublisher(logger), nil
	}
	return alerts.NewSQSPublisher(ctx, cfg.Alerts, logger)
}

// serveHTTP runs the listener until the context is cancelled, then drains
// in-flight requests and closes server resources.
func serveHTTP(ctx context.Context, srv *core.Server, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + srv.Config.Server.Port,
		Handler:           http.TimeoutHandler(srv.Handler(), srv.Config.Server.RequestTimeout, "request timed out"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	return srv.Shutdown(shutdownCtx)
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// compile-time check that the webhook processor satisfies the handler's
// expectation.
var _ handlers.EventProcessor = (*payments.Processor)(nil)

// Package config defines the global configuration structure for the
// StreamVault payments service. Configuration is loaded once at process
// initialization and is immutable thereafter, following 12-Factor principles.
//
// Any missing required value or invalid format causes startup to fail
// immediately. In particular, an absent gateway secret must never degrade
// into signature verification that silently passes.
package config

import (
	"time"

	"streamvault/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"streamvault-payments"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Razorpay RazorpayConfig
	Stripe   StripeConfig
	Alerts   AlertsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds connection and pool tuning parameters for the shared
// persistent store (users, plans, payments ledger).
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RazorpayConfig holds the Razorpay gateway credentials. KeySecret signs
// client checkout verification; WebhookSecret signs asynchronous webhooks.
// They are distinct secrets and must not be conflated.
type RazorpayConfig struct {
	KeyID         string       `envconfig:"RAZORPAY_KEY_ID" validate:"required"`
	KeySecret     SecretString `envconfig:"RAZORPAY_KEY_SECRET" validate:"required"`
	WebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET" validate:"required"`
	// BaseURL overrides the API endpoint, for tests. Empty means production.
	BaseURL string `envconfig:"RAZORPAY_BASE_URL"`
}

// StripeConfig holds the optional Stripe gateway credentials. When
// WebhookSecret is empty the Stripe webhook endpoint is not mounted.
type StripeConfig struct {
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// AlertsConfig holds the operator alert queue settings. When QueueURL is
// empty (local dev), alerts are logged instead of published.
type AlertsConfig struct {
	QueueURL string `envconfig:"ALERTS_QUEUE_URL" validate:"omitempty,url"`
	Region   string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// StripeEnabled reports whether the Stripe webhook endpoint should be mounted.
func (c *Config) StripeEnabled() bool {
	return c.Stripe.WebhookSecret.Unmask() != ""
}

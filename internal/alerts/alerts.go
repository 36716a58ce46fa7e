// Package alerts raises operator notifications for payments that were
// verified but could not be credited, via an SQS queue consumed by the
// on-call tooling.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"streamvault/internal/config"
	"streamvault/internal/types"
)

// AlertKind categorizes operator alerts.
type AlertKind string

const (
	// KindOrphanPayment means money was taken for a customer id that has no
	// account record. Requires manual reconciliation or a refund.
	KindOrphanPayment AlertKind = "orphan_payment"
	// KindCreditFailure means a verified payment could not be credited for
	// a reason other than a missing customer.
	KindCreditFailure AlertKind = "credit_failure"
)

// Alert is the message published for each uncreditable payment.
type Alert struct {
	ID         string        `json:"id"`
	Kind       AlertKind     `json:"kind"`
	Gateway    types.Gateway `json:"gateway"`
	PaymentID  string        `json:"payment_id"`
	CustomerID string        `json:"customer_id"`
	Detail     string        `json:"detail"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends alerts to the configured operator queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSPublisher creates an SQSPublisher from alerts configuration. The AWS
// client is loaded from the default credential chain.
func NewSQSPublisher(ctx context.Context, cfg config.AlertsConfig, logger *slog.Logger) (*SQSPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("alerts: failed to load AWS config: %w", err)
	}
	return NewSQSPublisherWithClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL, logger), nil
}

// NewSQSPublisherWithClient creates an SQSPublisher with an injected SQS
// client, for tests.
func NewSQSPublisherWithClient(client SQSSender, queueURL string, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish serializes the alert and dispatches it. The alert id is assigned
// here when empty. A publish failure is reported to the caller but must not
// abort payment processing; the ledger row is the durable record either way.
func (p *SQSPublisher) Publish(ctx context.Context, alert Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alerts: failed to marshal alert: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Kind)),
			},
			"gateway": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Gateway)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("alerts: failed to send alert %s: %w", alert.ID, err)
	}

	p.logger.Info("published operator alert",
		slog.String("alert_id", alert.ID),
		slog.String("kind", string(alert.Kind)),
		slog.String("payment_id", alert.PaymentID),
	)
	return nil
}

// LogPublisher is the fallback when no queue is configured: alerts land in
// the structured log stream instead of SQS, so local and dev environments
// still surface them.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish writes the alert to the log at Warn level.
func (p *LogPublisher) Publish(_ context.Context, alert Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	p.logger.Warn("operator alert",
		slog.String("alert_id", alert.ID),
		slog.String("kind", string(alert.Kind)),
		slog.String("gateway", string(alert.Gateway)),
		slog.String("payment_id", alert.PaymentID),
		slog.String("customer_id", alert.CustomerID),
		slog.String("detail", alert.Detail),
	)
	return nil
}

// Package handlers contains the HTTP handler implementations for the
// StreamVault payments API.
//
// The webhook handlers are NOT behind auth middleware -- they are called
// directly by the gateways. Security is the signature check over the raw,
// unparsed body.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamvault/internal/core"
	"streamvault/internal/payments"
	"streamvault/internal/types"
)

// maxWebhookBodySize caps webhook payloads (64 KB). Gateway notifications
// are small; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// webhookAck is the response body contract the gateways see. Only "ok" and
// "signature mismatch" are ever sent.
type webhookAck struct {
	Status string `json:"status"`
}

// PayloadVerifier validates a raw webhook body against its signature
// header. Implemented by the external package verifiers with the secret
// bound at wiring time.
type PayloadVerifier func(payload []byte, signatureHeader string) error

// EventProcessor is the slice of the payments processor the webhook
// handlers need.
type EventProcessor interface {
	Process(ctx context.Context, ev *types.PaymentEvent, rawPayload []byte) (*payments.Result, error)
}

// WebhookHandler serves one gateway's webhook endpoint. The verify /
// normalize / process pipeline is identical across gateways; the
// gateway-specific pieces are injected.
type WebhookHandler struct {
	gateway         types.Gateway
	signatureHeader string
	verify          PayloadVerifier
	normalize       func(raw []byte) (*types.PaymentEvent, error)
	processor       EventProcessor
	logger          *slog.Logger
}

// NewRazorpayWebhookHandler creates the handler for POST /webhooks/razorpay.
func NewRazorpayWebhookHandler(verify PayloadVerifier, processor EventProcessor, logger *slog.Logger) *WebhookHandler {
	return newWebhookHandler(types.GatewayRazorpay, "X-Razorpay-Signature", verify, payments.NormalizeRazorpay, processor, logger)
}

// NewStripeWebhookHandler creates the handler for POST /webhooks/stripe.
func NewStripeWebhookHandler(verify PayloadVerifier, processor EventProcessor, logger *slog.Logger) *WebhookHandler {
	return newWebhookHandler(types.GatewayStripe, "Stripe-Signature", verify, payments.NormalizeStripe, processor, logger)
}

func newWebhookHandler(
	gateway types.Gateway,
	signatureHeader string,
	verify PayloadVerifier,
	normalize func(raw []byte) (*types.PaymentEvent, error),
	processor EventProcessor,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		gateway:         gateway,
		signatureHeader: signatureHeader,
		verify:          verify,
		normalize:       normalize,
		processor:       processor,
		logger:          logger,
	}
}

// Register mounts the handler under /webhooks.
func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/"+string(h.gateway), h.handleWebhook)
}

// handleWebhook implements the gateway acknowledgment contract:
//
//   - 200 {"status":"ok"} on success AND on every benign non-success
//     (duplicate, ignored event type, malformed-but-authentic payload,
//     recorded failure). Anything acknowledged is never redelivered.
//   - 400 {"status":"signature mismatch"} on a failed signature check.
//   - 500 on store failure, deliberately unacknowledged so the gateway
//     retries with backoff.
func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With(slog.String("gateway", string(h.gateway)))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		log.Warn("failed to read webhook body", slog.String("error", err.Error()))
		core.Error(w, r, types.NewAppError(types.ErrCodeMalformedPayload, "unreadable request body", err))
		return
	}

	if err := h.verify(body, r.Header.Get(h.signatureHeader)); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeSignatureMismatch {
			log.Warn("webhook signature mismatch")
			core.JSON(w, r, http.StatusBadRequest, webhookAck{Status: "signature mismatch"})
			return
		}
		log.Error("webhook verification unavailable", slog.String("error", err.Error()))
		core.Error(w, r, err)
		return
	}

	ev, err := h.normalize(body)
	if err != nil {
		// Authentic but undecodable: acknowledge so the gateway stops
		// redelivering, and leave a trace for investigation.
		log.Warn("acknowledged malformed webhook payload", slog.String("error", err.Error()))
		core.JSON(w, r, http.StatusOK, webhookAck{Status: "ok"})
		return
	}

	res, err := h.processor.Process(r.Context(), ev, body)
	if err != nil {
		log.Error("webhook processing failed",
			slog.String("payment_id", ev.PaymentID),
			slog.String("error", err.Error()),
		)
		core.Error(w, r, err)
		return
	}

	log.Info("webhook acknowledged",
		slog.String("payment_id", ev.PaymentID),
		slog.String("outcome", string(res.Outcome)),
	)
	core.JSON(w, r, http.StatusOK, webhookAck{Status: "ok"})
}

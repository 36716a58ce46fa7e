// Package external provides the anti-corruption layer between the payments
// domain and the gateway vendor APIs. All outbound HTTP calls are routed
// through the BaseClient, which enforces consistent resilience patterns:
// circuit breaking, retries with exponential backoff, and error mapping.
package external

import (
	"context"

	"streamvault/internal/types"
)

// WebhookVerifier validates that a webhook payload was produced by the
// gateway. A nil return means the signature is authentic.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string, secret types.SecretString) error
}

// CheckoutVerifier validates client-submitted checkout proofs: the gateway
// hands the browser a signature over the order/payment (or payment/
// subscription) id pair, which the client forwards for server-side
// verification.
type CheckoutVerifier interface {
	VerifyOrder(orderID, paymentID, signature string, secret types.SecretString) error
	VerifySubscription(paymentID, subscriptionID, signature string, secret types.SecretString) error
}

// GatewayPayment is the authoritative payment object fetched from the
// gateway after a client asserts checkout completion.
type GatewayPayment struct {
	ID          string            `json:"id"`
	OrderID     string            `json:"order_id,omitempty"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency,omitempty"`
	Status      string            `json:"status"`
	Method      string            `json:"method,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"` // metadata contract embedded at order creation
}

// Captured reports whether the gateway has actually collected the money.
func (p *GatewayPayment) Captured() bool {
	return p.Status == "captured"
}

// GatewayOrder is a gateway order created for a one-time plan purchase.
type GatewayOrder struct {
	ID          string            `json:"id"`
	AmountMinor int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Receipt     string            `json:"receipt"`
	Status      string            `json:"status"`
	Notes       map[string]string `json:"notes"`
}

// GatewaySubscription is a gateway subscription created for a recurring plan.
type GatewaySubscription struct {
	ID         string            `json:"id"`
	PlanID     string            `json:"plan_id"`
	Status     string            `json:"status"`
	TotalCount int               `json:"total_count"`
	ShortURL   string            `json:"short_url"`
	Notes      map[string]string `json:"notes"`
}

// CreateOrderParams carries the inputs for gateway order creation. Notes are
// the opaque metadata contract with the webhook pipeline: customer_id and
// plan_name MUST be embedded here, because the asynchronous webhook has no
// other session context to recover them from.
type CreateOrderParams struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateSubscriptionParams carries the inputs for gateway subscription
// creation. The same notes contract applies.
type CreateSubscriptionParams struct {
	GatewayPlanID  string
	TotalCount     int
	CustomerNotify bool
	Notes          map[string]string
}

// GatewayClient is the outbound API surface this service needs from the
// payment gateway. Fetching a payment is the trust anchor for the client
// verification path; creation calls are the upstream half of the notes
// metadata contract.
type GatewayClient interface {
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
	CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*GatewaySubscription, error)
}

// Razorpay webhook event type constants prevent magic strings in handlers.
const (
	EventRazorpayOrderPaid    = "order.paid"
	EventRazorpaySubCharged   = "subscription.charged"
	EventRazorpaySubActivated = "subscription.activated"
)

// Stripe webhook event type constants.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeInvoicePaid       = "invoice.paid"
)

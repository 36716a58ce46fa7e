// Package payments implements the core pipeline: normalizing raw gateway
// notifications into canonical payment events and applying them to the
// idempotency ledger and user entitlements.
package payments

import (
	"bytes"
	"encoding/json"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"streamvault/internal/external"
	"streamvault/internal/types"
)

// razorpayNotes is the notes metadata bag on Razorpay entities. Razorpay
// serializes empty notes as a JSON array instead of an object, so a plain
// map type would fail to decode real traffic.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*n = razorpayNotes{}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// Local decode targets for the Razorpay webhook envelope. Only the fields
// this service consumes are declared.
type razorpayPaymentEntity struct {
	ID      string        `json:"id"`
	OrderID string        `json:"order_id"`
	Amount  int64         `json:"amount"`
	Status  string        `json:"status"`
	Notes   razorpayNotes `json:"notes"`
}

type razorpaySubscriptionEntity struct {
	ID     string        `json:"id"`
	PlanID string        `json:"plan_id"`
	Status string        `json:"status"`
	Notes  razorpayNotes `json:"notes"`
}

type razorpayWebhookEnvelope struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity *razorpayPaymentEntity `json:"entity"`
		} `json:"payment"`
		Subscription struct {
			Entity *razorpaySubscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// NormalizeRazorpay converts a verified Razorpay webhook body into a
// canonical PaymentEvent.
//
// Unrecognized event types yield Kind KindIgnored with no error: gateways
// expect a 200 acknowledgment for events a consumer does not handle.
// Subscription events that arrive without a payment entity fall back to the
// subscription id as the idempotency key, so a later redelivery of the same
// notification still deduplicates.
func NormalizeRazorpay(raw []byte) (*types.PaymentEvent, error) {
	var env razorpayWebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "undecodable webhook body", err)
	}

	var kind types.EventKind
	switch env.Event {
	case external.EventRazorpayOrderPaid:
		kind = types.KindOrderPaid
	case external.EventRazorpaySubCharged:
		kind = types.KindSubscriptionCharged
	case external.EventRazorpaySubActivated:
		kind = types.KindSubscriptionActivated
	default:
		return &types.PaymentEvent{Kind: types.KindIgnored, Gateway: types.GatewayRazorpay}, nil
	}

	ev := &types.PaymentEvent{
		Kind:       kind,
		Gateway:    types.GatewayRazorpay,
		OccurredAt: eventTime(env.CreatedAt),
	}

	payment := env.Payload.Payment.Entity
	sub := env.Payload.Subscription.Entity

	if payment != nil {
		ev.PaymentID = payment.ID
		ev.OrderID = payment.OrderID
		ev.AmountMinorUnits = payment.Amount
		applyNotes(ev, payment.Notes)
	}
	if sub != nil {
		ev.SubscriptionID = sub.ID
		if ev.PlanID == "" {
			ev.PlanID = sub.PlanID
		}
		applyNotes(ev, sub.Notes)
	}

	if kind.IsSubscription() && ev.SubscriptionID == "" {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "subscription event without subscription entity", nil)
	}
	if ev.PaymentID == "" {
		if !kind.IsSubscription() {
			return nil, types.NewAppError(types.ErrCodeMalformedPayload, "payment event without payment entity", nil)
		}
		ev.PaymentID = ev.SubscriptionID
	}
	if ev.CustomerID == "" {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "event carries no customer_id note", nil)
	}

	return ev, nil
}

// applyNotes copies the metadata contract fields out of a notes bag without
// overwriting values already populated from another entity.
func applyNotes(ev *types.PaymentEvent, notes razorpayNotes) {
	if ev.CustomerID == "" {
		ev.CustomerID = notes["customer_id"]
	}
	if ev.PlanName == "" {
		ev.PlanName = notes["plan_name"]
	}
	if ev.PlanID == "" {
		ev.PlanID = notes["plan_id"]
	}
}

// Local decode targets for the Stripe objects this service consumes.
// stripe.Event carries the outer envelope; these narrow the data payload.
type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID                  string `json:"id"`
	PaymentIntent       string `json:"payment_intent"`
	Subscription        string `json:"subscription"`
	AmountPaid          int64  `json:"amount_paid"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// NormalizeStripe converts a verified Stripe webhook body into a canonical
// PaymentEvent. checkout.session.completed covers both one-time purchases
// and the initial subscription activation, discriminated by session mode;
// invoice.paid covers recurring subscription charges.
func NormalizeStripe(raw []byte) (*types.PaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "undecodable webhook body", err)
	}

	switch string(event.Type) {
	case external.EventStripeCheckoutCompleted:
		return normalizeStripeCheckout(event)
	case external.EventStripeInvoicePaid:
		return normalizeStripeInvoice(event)
	default:
		return &types.PaymentEvent{Kind: types.KindIgnored, Gateway: types.GatewayStripe}, nil
	}
}

func normalizeStripeCheckout(event stripe.Event) (*types.PaymentEvent, error) {
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "undecodable checkout session", err)
	}

	// Sessions complete before async payment methods settle; only a paid
	// session grants an entitlement.
	if session.PaymentStatus != "paid" {
		return &types.PaymentEvent{Kind: types.KindIgnored, Gateway: types.GatewayStripe}, nil
	}

	ev := &types.PaymentEvent{
		Gateway:          types.GatewayStripe,
		PaymentID:        session.PaymentIntent,
		AmountMinorUnits: session.AmountTotal,
		CustomerID:       session.Metadata["customer_id"],
		PlanName:         session.Metadata["plan_name"],
		PlanID:           session.Metadata["plan_id"],
		OccurredAt:       eventTime(event.Created),
	}

	if session.Mode == "subscription" {
		ev.Kind = types.KindSubscriptionActivated
		ev.SubscriptionID = session.Subscription
		if ev.PaymentID == "" {
			ev.PaymentID = ev.SubscriptionID
		}
	} else {
		ev.Kind = types.KindOrderPaid
		ev.OrderID = session.ID
		if ev.PaymentID == "" {
			return nil, types.NewAppError(types.ErrCodeMalformedPayload, "checkout session without payment intent", nil)
		}
	}

	if ev.CustomerID == "" {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "event carries no customer_id metadata", nil)
	}
	return ev, nil
}

func normalizeStripeInvoice(event stripe.Event) (*types.PaymentEvent, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "undecodable invoice", err)
	}
	if inv.Subscription == "" {
		// One-off invoices carry no entitlement semantics here.
		return &types.PaymentEvent{Kind: types.KindIgnored, Gateway: types.GatewayStripe}, nil
	}

	ev := &types.PaymentEvent{
		Kind:             types.KindSubscriptionCharged,
		Gateway:          types.GatewayStripe,
		PaymentID:        inv.PaymentIntent,
		SubscriptionID:   inv.Subscription,
		AmountMinorUnits: inv.AmountPaid,
		CustomerID:       inv.SubscriptionDetails.Metadata["customer_id"],
		PlanName:         inv.SubscriptionDetails.Metadata["plan_name"],
		PlanID:           inv.SubscriptionDetails.Metadata["plan_id"],
		OccurredAt:       eventTime(event.Created),
	}
	if ev.PaymentID == "" {
		ev.PaymentID = inv.ID
	}
	if ev.CustomerID == "" {
		return nil, types.NewAppError(types.ErrCodeMalformedPayload, "event carries no customer_id metadata", nil)
	}
	return ev, nil
}

func eventTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}

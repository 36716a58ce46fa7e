// Package types defines the shared domain model for the StreamVault payments
// service: payment events, the idempotency ledger record, user entitlements,
// and the plan catalog read model.
package types

import (
	"encoding/json"
	"time"
)

// Gateway identifies the payment processor that produced an event.
type Gateway string

const (
	GatewayRazorpay Gateway = "razorpay"
	GatewayStripe   Gateway = "stripe"
)

// EventKind is the internal discriminant for normalized gateway events.
type EventKind string

const (
	// KindOrderPaid is a completed one-time purchase.
	KindOrderPaid EventKind = "order_paid"
	// KindSubscriptionCharged is a recurring subscription charge.
	KindSubscriptionCharged EventKind = "subscription_charged"
	// KindSubscriptionActivated is the first successful activation of a
	// subscription after checkout.
	KindSubscriptionActivated EventKind = "subscription_activated"
	// KindIgnored marks event types the service acknowledges but does not
	// process. Gateways expect a 200 for unknown events, not a rejection.
	KindIgnored EventKind = "ignored"
)

// IsSubscription reports whether the event mutates subscription state
// (id/status) in addition to the plan entitlement.
func (k EventKind) IsSubscription() bool {
	return k == KindSubscriptionCharged || k == KindSubscriptionActivated
}

// PaymentEvent is the canonical internal representation of a gateway payment
// notification, produced by the normalizer from a raw webhook payload or a
// client verification call.
//
// PaymentID is globally unique per real payment attempt and serves as the
// idempotency key: the same PaymentID must never produce two distinct
// entitlement mutations.
type PaymentEvent struct {
	Kind             EventKind
	Gateway          Gateway
	PaymentID        string
	OrderID          string // empty for subscription events
	SubscriptionID   string // empty for one-time orders
	CustomerID       string
	AmountMinorUnits int64
	PlanID           string // plan catalog id carried in event notes, may be empty
	PlanName         string // plan display name carried in event notes
	OccurredAt       time.Time
}

// PaymentStatus is the terminal state recorded in the idempotency ledger.
type PaymentStatus string

const (
	// PaymentVerified means the event passed verification and the
	// entitlement mutation committed alongside the ledger record.
	PaymentVerified PaymentStatus = "verified"
	// PaymentFailed means the event was authentic but could not be credited
	// (e.g. the customer record does not exist). The ledger record blocks
	// re-processing; an operator alert is raised instead.
	PaymentFailed PaymentStatus = "failed"
)

// PaymentRecord is a row in the idempotency ledger, keyed by PaymentID.
// Created exactly once per verified, previously-unseen payment id and never
// deleted by this service. Its existence is the dedup signal.
type PaymentRecord struct {
	PaymentID        string          `json:"payment_id"`
	CustomerID       string          `json:"customer_id"`
	OrderID          string          `json:"order_id,omitempty"`
	SubscriptionID   string          `json:"subscription_id,omitempty"`
	Gateway          Gateway         `json:"gateway"`
	Status           PaymentStatus   `json:"status"`
	AmountMinorUnits int64           `json:"amount_minor_units"`
	Payload          json.RawMessage `json:"payload,omitempty"` // raw gateway payload snapshot
	CreatedAt        time.Time       `json:"created_at"`
}

// SubscriptionStatus is the lifecycle state of a user's subscription.
type SubscriptionStatus string

const (
	SubStatusNone    SubscriptionStatus = "none"
	SubStatusActive  SubscriptionStatus = "active"
	SubStatusExpired SubscriptionStatus = "expired"
)

// UserEntitlement is the access-controlling subset of a user record. It is
// mutated only by the entitlement updater, keyed by customer id.
//
// Version is an optimistic-concurrency counter: every entitlement write
// increments it, and concurrent writers for the same customer detect lost
// updates by comparing it.
type UserEntitlement struct {
	CustomerID         string             `json:"customer_id"`
	PlanName           string             `json:"plan_name"`
	PlanExpiry         *time.Time         `json:"plan_expiry,omitempty"`
	SubscriptionID     string             `json:"subscription_id,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	Version            int64              `json:"-"`
}

// HasActivePlan reports whether the entitlement grants access at the given
// instant.
func (e *UserEntitlement) HasActivePlan(now time.Time) bool {
	return e.PlanExpiry != nil && e.PlanExpiry.After(now)
}

// DurationUnit is the billing period unit of a plan.
type DurationUnit string

const (
	DurationMonth DurationUnit = "month"
	DurationYear  DurationUnit = "year"
)

// Plan is read-only catalog reference data supplied by an external
// collaborator. Consumed, never mutated, by this service.
type Plan struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	PriceMinor     int64        `json:"price_minor"` // smallest currency unit
	GatewayPlanID  string       `json:"gateway_plan_id,omitempty"`
	IsSubscription bool         `json:"is_subscription"`
	DurationUnit   DurationUnit `json:"duration_unit"`
	DurationCount  int          `json:"duration_count"`
}

// PeriodFrom returns the expiry that one billing period of the plan grants
// when extending from the given start instant. A zero or negative
// DurationCount falls back to a single period.
func (p *Plan) PeriodFrom(start time.Time) time.Time {
	count := p.DurationCount
	if count <= 0 {
		count = 1
	}
	switch p.DurationUnit {
	case DurationYear:
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, count, 0)
	}
}

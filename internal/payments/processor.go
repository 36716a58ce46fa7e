package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"streamvault/internal/alerts"
	"streamvault/internal/db"
	"streamvault/internal/types"
)

// applyRetries bounds the optimistic-concurrency retry loop. Contention on a
// single customer is rare (two gateway events in the same instant), so a
// small bound suffices.
const applyRetries = 3

// Outcome classifies what Process did with an event.
type Outcome string

const (
	// OutcomeApplied means the ledger row and the entitlement mutation
	// committed together.
	OutcomeApplied Outcome = "applied"
	// OutcomeAlreadyProcessed means the payment id was seen before and
	// nothing was changed.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeAlreadyFailed means the payment id was previously recorded as
	// uncreditable; redeliveries stay no-ops until an operator intervenes.
	OutcomeAlreadyFailed Outcome = "already_failed"
	// OutcomeFailedRecorded means this delivery could not be credited; a
	// failed ledger row was written and an operator alert raised.
	OutcomeFailedRecorded Outcome = "failed_recorded"
	// OutcomeIgnored means the event type is not one this service handles.
	OutcomeIgnored Outcome = "ignored"
)

// Result reports the outcome of processing one event. Entitlement is set
// only for OutcomeApplied.
type Result struct {
	Outcome     Outcome
	Entitlement *types.UserEntitlement
}

// AlertPublisher is the slice of the alerts package the processor needs.
type AlertPublisher interface {
	Publish(ctx context.Context, alert alerts.Alert) error
}

// Processor applies normalized payment events: it runs the idempotency
// check, resolves the plan, and commits the ledger insert and entitlement
// update in a single transaction.
type Processor struct {
	pool         db.TxBeginner
	ledger       *db.PaymentLedgerRepo
	entitlements *db.EntitlementRepo
	plans        *db.PlanRepo
	alerts       AlertPublisher
	logger       *slog.Logger
	now          func() time.Time
}

// NewProcessor wires a Processor. The repos must be bound to the same pool
// passed as TxBeginner so transactional rebinding works.
func NewProcessor(
	pool db.TxBeginner,
	ledger *db.PaymentLedgerRepo,
	entitlements *db.EntitlementRepo,
	plans *db.PlanRepo,
	alertPublisher AlertPublisher,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pool:         pool,
		ledger:       ledger,
		entitlements: entitlements,
		plans:        plans,
		alerts:       alertPublisher,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the processor's time source, for tests.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process applies one normalized event.
//
// Ordering inside the transaction matters: the ledger insert goes first so
// its unique constraint on payment_id serializes concurrent deliveries of
// the same payment. The loser of that race aborts with a duplicate error
// before touching the entitlement, and the whole delivery degrades to
// already-processed.
//
// An authentic event for a customer that does not exist is terminal: a
// failed ledger row is committed (blocking redelivery loops) and an
// operator alert is raised. The caller still acknowledges the delivery.
func (p *Processor) Process(ctx context.Context, ev *types.PaymentEvent, rawPayload []byte) (*Result, error) {
	if ev.Kind == types.KindIgnored {
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	log := p.logger.With(
		slog.String("payment_id", ev.PaymentID),
		slog.String("customer_id", ev.CustomerID),
		slog.String("gateway", string(ev.Gateway)),
		slog.String("kind", string(ev.Kind)),
	)

	status, err := p.ledger.Check(ctx, ev.PaymentID)
	if err != nil {
		return nil, err
	}
	switch status {
	case db.LedgerAlreadyProcessed:
		log.Info("duplicate payment delivery ignored")
		return &Result{Outcome: OutcomeAlreadyProcessed}, nil
	case db.LedgerAlreadyFailed:
		log.Info("redelivery of failed payment ignored")
		return &Result{Outcome: OutcomeAlreadyFailed}, nil
	}

	plan := p.resolvePlan(ctx, ev, log)

	var applied *types.UserEntitlement
	for attempt := 0; attempt < applyRetries; attempt++ {
		applied, err = p.applyOnce(ctx, ev, plan, rawPayload)
		if err == nil {
			log.Info("payment credited",
				slog.String("plan_name", applied.PlanName),
				slog.Time("plan_expiry", *applied.PlanExpiry),
			)
			return &Result{Outcome: OutcomeApplied, Entitlement: applied}, nil
		}

		var appErr *types.AppError
		if errors.As(err, &appErr) {
			switch appErr.Code {
			case types.ErrCodeConflictDuplicatePayment:
				// A concurrent delivery won the ledger insert race.
				log.Info("lost ledger insert race to concurrent delivery")
				return &Result{Outcome: OutcomeAlreadyProcessed}, nil
			case types.ErrCodeConflictConcurrent:
				continue
			case types.ErrCodeNotFoundCustomer:
				return p.recordFailure(ctx, ev, rawPayload, log)
			}
		}
		return nil, err
	}

	return nil, err
}

// applyOnce runs one read-compute-commit cycle. The ent, re-read each
// attempt, carries the version the commit is guarded on.
func (p *Processor) applyOnce(ctx context.Context, ev *types.PaymentEvent, plan *types.Plan, rawPayload []byte) (*types.UserEntitlement, error) {
	ent, err := p.entitlements.Get(ctx, ev.CustomerID)
	if err != nil {
		return nil, err
	}

	now := p.now()

	// Unconsumed time is never forfeited: a renewal paid early extends from
	// the current expiry, not from the payment instant.
	start := now
	if ent.PlanExpiry != nil && ent.PlanExpiry.After(now) {
		start = *ent.PlanExpiry
	}
	expiry := plan.PeriodFrom(start)

	next := &types.UserEntitlement{
		CustomerID:         ev.CustomerID,
		PlanName:           plan.Name,
		PlanExpiry:         &expiry,
		SubscriptionID:     ent.SubscriptionID,
		SubscriptionStatus: ent.SubscriptionStatus,
	}
	if ev.Kind.IsSubscription() {
		next.SubscriptionID = ev.SubscriptionID
		next.SubscriptionStatus = types.SubStatusActive
	}

	err = db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		rec := ledgerRecord(ev, types.PaymentVerified, rawPayload)
		if err := p.ledger.WithTx(tx).Insert(ctx, rec); err != nil {
			return err
		}
		return p.entitlements.WithTx(tx).Apply(ctx, next, ent.Version)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// recordFailure commits a failed ledger row and raises an operator alert.
// The ledger row is the durable record; an alert publish failure is logged
// but does not fail the delivery.
func (p *Processor) recordFailure(ctx context.Context, ev *types.PaymentEvent, rawPayload []byte, log *slog.Logger) (*Result, error) {
	rec := ledgerRecord(ev, types.PaymentFailed, rawPayload)
	if err := p.ledger.Insert(ctx, rec); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictDuplicatePayment {
			return &Result{Outcome: OutcomeAlreadyFailed}, nil
		}
		return nil, err
	}

	log.Warn("verified payment could not be credited, failure recorded")

	alert := alerts.Alert{
		Kind:       alerts.KindOrphanPayment,
		Gateway:    ev.Gateway,
		PaymentID:  ev.PaymentID,
		CustomerID: ev.CustomerID,
		Detail:     "customer record not found for verified payment",
		OccurredAt: p.now(),
	}
	if err := p.alerts.Publish(ctx, alert); err != nil {
		log.Error("failed to publish operator alert", slog.String("error", err.Error()))
	}

	return &Result{Outcome: OutcomeFailedRecorded}, nil
}

// resolvePlan looks up the plan by catalog id, then by name. When neither
// resolves, the event still credits a single default period under the name
// the event carried: dropping paid-for access over missing catalog data is
// worse than granting a conservative period.
func (p *Processor) resolvePlan(ctx context.Context, ev *types.PaymentEvent, log *slog.Logger) *types.Plan {
	if ev.PlanID != "" {
		if plan, err := p.plans.GetByID(ctx, ev.PlanID); err == nil {
			return plan
		}
	}
	if ev.PlanName != "" {
		if plan, err := p.plans.GetByName(ctx, ev.PlanName); err == nil {
			return plan
		}
	}

	log.Warn("plan not found in catalog, defaulting to one month",
		slog.String("plan_id", ev.PlanID),
		slog.String("plan_name", ev.PlanName),
	)
	return &types.Plan{
		Name:          ev.PlanName,
		DurationUnit:  types.DurationMonth,
		DurationCount: 1,
	}
}

// ledgerRecord builds the idempotency ledger row for an event.
func ledgerRecord(ev *types.PaymentEvent, status types.PaymentStatus, rawPayload []byte) *types.PaymentRecord {
	return &types.PaymentRecord{
		PaymentID:        ev.PaymentID,
		CustomerID:       ev.CustomerID,
		OrderID:          ev.OrderID,
		SubscriptionID:   ev.SubscriptionID,
		Gateway:          ev.Gateway,
		Status:           status,
		AmountMinorUnits: ev.AmountMinorUnits,
		Payload:          json.RawMessage(rawPayload),
	}
}

package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"streamvault/internal/types"
)

// LedgerStatus is the explicit three-way result of an idempotency check.
// A not-found row is a first-class outcome here, never an error sentinel.
type LedgerStatus int

const (
	// LedgerFresh means the payment id has never been seen; processing may
	// proceed.
	LedgerFresh LedgerStatus = iota
	// LedgerAlreadyProcessed means a verified record exists; the event is a
	// benign duplicate and must be acknowledged without re-crediting.
	LedgerAlreadyProcessed
	// LedgerAlreadyFailed means the payment was authentic but terminally
	// uncreditable (e.g. no such customer); an alert was already raised.
	LedgerAlreadyFailed
)

// PaymentLedgerRepo manages the idempotency ledger: one row per real payment
// attempt, keyed by the gateway-unique payment id.
//
// The UNIQUE constraint on payment_id is the cross-process concurrency
// primitive: when two deliveries of the same payment race, the second
// writer's insert fails with a unique violation, which Insert reports as a
// duplicate rather than an error.
type PaymentLedgerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentLedgerRepo creates a PaymentLedgerRepo backed by the given
// database connection (pool or transaction).
func NewPaymentLedgerRepo(db DBTX, logger *slog.Logger) *PaymentLedgerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentLedgerRepo{db: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PaymentLedgerRepo) WithTx(tx DBTX) *PaymentLedgerRepo {
	return &PaymentLedgerRepo{db: tx, logger: r.logger}
}

// Check reports whether the payment id has already been processed.
// This is a pre-flight read; the authoritative dedup is the unique
// constraint enforced during Insert.
func (r *PaymentLedgerRepo) Check(ctx context.Context, paymentID string) (LedgerStatus, error) {
	var status types.PaymentStatus
	err := r.db.QueryRow(ctx,
		`SELECT status FROM payments WHERE payment_id = $1`,
		paymentID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerFresh, nil
		}
		return LedgerFresh, types.NewAppError(types.ErrCodeInternalDB, "failed to check payment ledger", err)
	}

	if status == types.PaymentFailed {
		return LedgerAlreadyFailed, nil
	}
	return LedgerAlreadyProcessed, nil
}

// Insert records a payment in the ledger. A unique violation on payment_id
// means a concurrent writer won the race; it is reported as a
// conflict_duplicate_payment AppError, which callers treat as
// AlreadyProcessed, not as a failure.
func (r *PaymentLedgerRepo) Insert(ctx context.Context, rec *types.PaymentRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO payments
		   (payment_id, customer_id, order_id, subscription_id, gateway, status, amount_minor, payload, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, NOW())`,
		rec.PaymentID,
		rec.CustomerID,
		rec.OrderID,
		rec.SubscriptionID,
		rec.Gateway,
		rec.Status,
		rec.AmountMinorUnits,
		rec.Payload,
	)
	if err != nil {
		if isUniqueViolation(err) {
			r.logger.Info("duplicate payment insert lost the race",
				slog.String("payment_id", rec.PaymentID),
			)
			return types.NewAppError(
				types.ErrCodeConflictDuplicatePayment,
				"payment already recorded",
				err,
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment record", err)
	}

	return nil
}

// GetByPaymentID loads a ledger record. Returns not_found_payment when no
// row exists.
func (r *PaymentLedgerRepo) GetByPaymentID(ctx context.Context, paymentID string) (*types.PaymentRecord, error) {
	var rec types.PaymentRecord
	var orderID, subscriptionID *string
	err := r.db.QueryRow(ctx,
		`SELECT payment_id, customer_id, order_id, subscription_id, gateway, status, amount_minor, payload, created_at
		 FROM payments WHERE payment_id = $1`,
		paymentID,
	).Scan(
		&rec.PaymentID,
		&rec.CustomerID,
		&orderID,
		&subscriptionID,
		&rec.Gateway,
		&rec.Status,
		&rec.AmountMinorUnits,
		&rec.Payload,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment record not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load payment record", err)
	}

	if orderID != nil {
		rec.OrderID = *orderID
	}
	if subscriptionID != nil {
		rec.SubscriptionID = *subscriptionID
	}
	return &rec, nil
}

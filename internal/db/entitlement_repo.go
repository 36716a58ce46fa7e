package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"streamvault/internal/types"
)

// EntitlementRepo reads and mutates the entitlement subset of user records.
//
// Concurrency: updates use an optimistic version check (entitlement_version
// in the WHERE clause). Two concurrent writers for the same customer cannot
// both succeed; the loser observes zero rows affected and retries with a
// fresh read. Different customers never contend.
type EntitlementRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEntitlementRepo creates an EntitlementRepo backed by the given database
// connection (pool or transaction).
func NewEntitlementRepo(db DBTX, logger *slog.Logger) *EntitlementRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementRepo{db: db, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *EntitlementRepo) WithTx(tx DBTX) *EntitlementRepo {
	return &EntitlementRepo{db: tx, logger: r.logger}
}

// Get loads the entitlement columns for a customer, including the current
// optimistic version. Returns not_found_customer when no row exists --
// the caller decides whether that is terminal (money taken, no account).
func (r *EntitlementRepo) Get(ctx context.Context, customerID string) (*types.UserEntitlement, error) {
	ent := types.UserEntitlement{CustomerID: customerID}
	var planName, subscriptionID *string
	var subStatus *string
	err := r.db.QueryRow(ctx,
		`SELECT plan_name, plan_expiry, subscription_id, subscription_status, entitlement_version
		 FROM users WHERE id = $1`,
		customerID,
	).Scan(&planName, &ent.PlanExpiry, &subscriptionID, &subStatus, &ent.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "customer not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load entitlement", err)
	}

	if planName != nil {
		ent.PlanName = *planName
	}
	if subscriptionID != nil {
		ent.SubscriptionID = *subscriptionID
	}
	ent.SubscriptionStatus = types.SubStatusNone
	if subStatus != nil && *subStatus != "" {
		ent.SubscriptionStatus = types.SubscriptionStatus(*subStatus)
	}
	return &ent, nil
}

// Apply writes the new entitlement state for a customer, guarded by the
// version read earlier. Returns conflict_concurrent_modification when the
// version no longer matches (a concurrent event for the same customer won);
// the caller re-reads and retries, bounded.
//
// The update never writes a plan_expiry earlier than the stored one: the
// WHERE clause also guards monotonicity so a stale computation cannot
// shrink an entitlement.
func (r *EntitlementRepo) Apply(ctx context.Context, ent *types.UserEntitlement, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET plan_name = $1,
		     plan_expiry = $2,
		     subscription_id = NULLIF($3, ''),
		     subscription_status = $4,
		     entitlement_version = entitlement_version + 1,
		     updated_at = NOW()
		 WHERE id = $5
		   AND entitlement_version = $6
		   AND (plan_expiry IS NULL OR plan_expiry <= $2)`,
		ent.PlanName,
		ent.PlanExpiry,
		ent.SubscriptionID,
		ent.SubscriptionStatus,
		ent.CustomerID,
		expectedVersion,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply entitlement", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("entitlement update lost optimistic concurrency check",
			slog.String("customer_id", ent.CustomerID),
			slog.Int64("expected_version", expectedVersion),
		)
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			"entitlement modified concurrently",
			nil,
		)
	}

	return nil
}

// ExpireLapsed marks subscriptions expired for customers whose plan_expiry
// has passed. Used by operational tooling, not the webhook path.
func (r *EntitlementRepo) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET subscription_status = $1,
		     entitlement_version = entitlement_version + 1,
		     updated_at = NOW()
		 WHERE subscription_status = $2
		   AND plan_expiry IS NOT NULL
		   AND plan_expiry <= $3`,
		types.SubStatusExpired,
		types.SubStatusActive,
		now,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire lapsed subscriptions", err)
	}
	return tag.RowsAffected(), nil
}

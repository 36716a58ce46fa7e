package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"streamvault/internal/types"
)

// PlanRepo reads the plan catalog. Plans are reference data owned by an
// external collaborator; this service never writes them.
type PlanRepo struct {
	db DBTX
}

// NewPlanRepo creates a PlanRepo.
func NewPlanRepo(db DBTX) *PlanRepo {
	return &PlanRepo{db: db}
}

const planColumns = `id, name, price_minor, gateway_plan_id, is_subscription, duration_unit, duration_count`

// scanPlan maps a plan row into the domain type.
func scanPlan(row pgx.Row) (*types.Plan, error) {
	var p types.Plan
	var gatewayPlanID *string
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceMinor,
		&gatewayPlanID,
		&p.IsSubscription,
		&p.DurationUnit,
		&p.DurationCount,
	); err != nil {
		return nil, err
	}
	if gatewayPlanID != nil {
		p.GatewayPlanID = *gatewayPlanID
	}
	return &p, nil
}

// GetByID loads a plan by catalog id.
func (r *PlanRepo) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	plan, err := scanPlan(r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load plan", err)
	}
	return plan, nil
}

// GetByName loads a plan by display name. Webhook events carry the plan name
// in their notes metadata; this is the fallback lookup when no plan id was
// embedded at order-creation time.
func (r *PlanRepo) GetByName(ctx context.Context, name string) (*types.Plan, error) {
	plan, err := scanPlan(r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load plan", err)
	}
	return plan, nil
}

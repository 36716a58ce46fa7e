package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"streamvault/internal/db"
	"streamvault/internal/external"
	"streamvault/internal/types"
)

// Billing cycle counts authorized at subscription creation, by plan period.
const (
	monthlyCycleCount = 12
	yearlyCycleCount  = 5
)

// CheckoutService creates gateway orders and subscriptions for catalog
// plans. This is the upstream half of the notes metadata contract: the
// customer and plan identity embedded here is what the webhook pipeline
// later recovers from the gateway notification.
type CheckoutService struct {
	gateway      external.GatewayClient
	plans        *db.PlanRepo
	entitlements *db.EntitlementRepo
	logger       *slog.Logger
	now          func() time.Time
}

// NewCheckoutService wires a CheckoutService.
func NewCheckoutService(
	gateway external.GatewayClient,
	plans *db.PlanRepo,
	entitlements *db.EntitlementRepo,
	logger *slog.Logger,
) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		gateway:      gateway,
		plans:        plans,
		entitlements: entitlements,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder creates a gateway order for a one-time plan purchase. The
// customer must exist; an active subscription blocks the purchase to avoid
// double-billing, but a plain active plan does not (a one-time extension
// stacks onto remaining time).
func (s *CheckoutService) CreateOrder(ctx context.Context, customerID, planID string) (*external.GatewayOrder, error) {
	plan, ent, err := s.loadPlanAndCustomer(ctx, customerID, planID)
	if err != nil {
		return nil, err
	}
	if plan.IsSubscription {
		return nil, types.NewAppError(types.ErrCodeValidationFailed, "plan is subscription-only, use the subscription endpoint", nil)
	}
	if ent.SubscriptionStatus == types.SubStatusActive && ent.HasActivePlan(s.now()) {
		return nil, types.NewAppError(types.ErrCodeConflictActivePlan, "customer has an active subscription", nil)
	}

	order, err := s.gateway.CreateOrder(ctx, external.CreateOrderParams{
		AmountMinor: plan.PriceMinor,
		Currency:    "INR",
		Receipt:     "rcpt_" + uuid.New().String(),
		Notes:       checkoutNotes(customerID, plan),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gateway order created",
		slog.String("order_id", order.ID),
		slog.String("customer_id", customerID),
		slog.String("plan_id", plan.ID),
	)
	return order, nil
}

// CreateSubscription creates a gateway subscription on the plan's
// pre-registered gateway plan id. A customer with a live subscription
// cannot open a second one.
func (s *CheckoutService) CreateSubscription(ctx context.Context, customerID, planID string) (*external.GatewaySubscription, error) {
	plan, ent, err := s.loadPlanAndCustomer(ctx, customerID, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsSubscription {
		return nil, types.NewAppError(types.ErrCodeValidationFailed, "plan is not a subscription plan", nil)
	}
	if plan.GatewayPlanID == "" {
		return nil, types.NewAppError(types.ErrCodeConfigMissing, "plan has no gateway plan id", nil)
	}
	if ent.SubscriptionStatus == types.SubStatusActive && ent.HasActivePlan(s.now()) {
		return nil, types.NewAppError(types.ErrCodeConflictActivePlan, "customer already has an active subscription", nil)
	}

	totalCount := monthlyCycleCount
	if plan.DurationUnit == types.DurationYear {
		totalCount = yearlyCycleCount
	}

	sub, err := s.gateway.CreateSubscription(ctx, external.CreateSubscriptionParams{
		GatewayPlanID:  plan.GatewayPlanID,
		TotalCount:     totalCount,
		CustomerNotify: true,
		Notes:          checkoutNotes(customerID, plan),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("gateway subscription created",
		slog.String("subscription_id", sub.ID),
		slog.String("customer_id", customerID),
		slog.String("plan_id", plan.ID),
	)
	return sub, nil
}

func (s *CheckoutService) loadPlanAndCustomer(ctx context.Context, customerID, planID string) (*types.Plan, *types.UserEntitlement, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	ent, err := s.entitlements.Get(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	return plan, ent, nil
}

// checkoutNotes builds the notes bag every gateway resource carries.
func checkoutNotes(customerID string, plan *types.Plan) map[string]string {
	return map[string]string{
		"customer_id": customerID,
		"plan_id":     plan.ID,
		"plan_name":   plan.Name,
	}
}

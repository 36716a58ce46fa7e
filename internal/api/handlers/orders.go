package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamvault/internal/core"
	"streamvault/internal/external"
)

// CheckoutCreator is the slice of the checkout service the handler needs.
type CheckoutCreator interface {
	CreateOrder(ctx context.Context, customerID, planID string) (*external.GatewayOrder, error)
	CreateSubscription(ctx context.Context, customerID, planID string) (*external.GatewaySubscription, error)
}

type createOrderRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	PlanID     string `json:"plan_id" validate:"required"`
}

// createOrderResponse hands the browser what it needs to open the gateway
// checkout: the order id and the amount the gateway will charge.
type createOrderResponse struct {
	OrderID     string `json:"order_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type createSubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	ShortURL       string `json:"short_url,omitempty"`
}

// OrdersHandler serves checkout initiation: order and subscription creation.
type OrdersHandler struct {
	checkout  CheckoutCreator
	validator *core.Validator
	logger    *slog.Logger
}

// NewOrdersHandler creates an OrdersHandler.
func NewOrdersHandler(checkout CheckoutCreator, validator *core.Validator, logger *slog.Logger) *OrdersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrdersHandler{checkout: checkout, validator: validator, logger: logger}
}

// Register mounts the checkout routes under /v1.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Post("/subscriptions", h.handleCreateSubscription)
}

func (h *OrdersHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	order, err := h.checkout.CreateOrder(r.Context(), req.CustomerID, req.PlanID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, createOrderResponse{
		OrderID:     order.ID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
	})
}

func (h *OrdersHandler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	sub, err := h.checkout.CreateSubscription(r.Context(), req.CustomerID, req.PlanID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, createSubscriptionResponse{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		ShortURL:       sub.ShortURL,
	})
}

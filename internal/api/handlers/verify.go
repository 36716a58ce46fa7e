package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamvault/internal/core"
	"streamvault/internal/payments"
	"streamvault/internal/types"
)

// CheckoutVerificationService is the slice of the verification service the
// handler needs.
type CheckoutVerificationService interface {
	VerifyOrder(ctx context.Context, req payments.OrderVerification) (*payments.Result, error)
	VerifySubscription(ctx context.Context, req payments.SubscriptionVerification) (*payments.Result, error)
}

// verifyOrderRequest is the browser callback after a one-time checkout.
type verifyOrderRequest struct {
	OrderID    string `json:"order_id" validate:"required"`
	PaymentID  string `json:"payment_id" validate:"required"`
	Signature  string `json:"signature" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
}

// verifySubscriptionRequest is the browser callback after a subscription
// checkout.
type verifySubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	PaymentID      string `json:"payment_id" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
	CustomerID     string `json:"customer_id" validate:"required"`
}

// verifyResponse is the client-facing result: a boolean plus a
// human-readable message, never internal detail.
type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// VerifyHandler serves the synchronous client verification endpoints.
type VerifyHandler struct {
	service   CheckoutVerificationService
	validator *core.Validator
	logger    *slog.Logger
}

// NewVerifyHandler creates a VerifyHandler.
func NewVerifyHandler(service CheckoutVerificationService, validator *core.Validator, logger *slog.Logger) *VerifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifyHandler{service: service, validator: validator, logger: logger}
}

// Register mounts the verification routes under /v1.
func (h *VerifyHandler) Register(r chi.Router) {
	r.Post("/payments/verify-order", h.handleVerifyOrder)
	r.Post("/payments/verify-subscription", h.handleVerifySubscription)
}

func (h *VerifyHandler) handleVerifyOrder(w http.ResponseWriter, r *http.Request) {
	var req verifyOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.VerifyOrder(r.Context(), payments.OrderVerification{
		OrderID:    req.OrderID,
		PaymentID:  req.PaymentID,
		Signature:  req.Signature,
		CustomerID: req.CustomerID,
	})
	h.respond(w, r, res, err)
}

func (h *VerifyHandler) handleVerifySubscription(w http.ResponseWriter, r *http.Request) {
	var req verifySubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.VerifySubscription(r.Context(), payments.SubscriptionVerification{
		SubscriptionID: req.SubscriptionID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
		CustomerID:     req.CustomerID,
	})
	h.respond(w, r, res, err)
}

// respond maps verification outcomes onto the success/error contract. A
// replayed verification is a success: the client's money did its job
// exactly once, whenever that was.
func (h *VerifyHandler) respond(w http.ResponseWriter, r *http.Request, res *payments.Result, err error) {
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			core.Error(w, r, err)
			return
		}
		switch appErr.Code {
		case types.ErrCodeSignatureMismatch:
			core.JSON(w, r, http.StatusBadRequest, verifyResponse{Success: false, Error: "Invalid signature"})
		case types.ErrCodePaymentNotCaptured:
			core.JSON(w, r, appErr.HTTPStatus(), verifyResponse{Success: false, Error: "Payment not confirmed yet"})
		case types.ErrCodeUpstreamGateway, types.ErrCodeUpstreamRateLimit, types.ErrCodeInternalDB, types.ErrCodeConflictConcurrent:
			// Transient: the client should re-poll, never re-pay.
			status := appErr.HTTPStatus()
			if appErr.Code == types.ErrCodeConflictConcurrent {
				status = http.StatusServiceUnavailable
			}
			core.JSON(w, r, status, verifyResponse{Success: false, Error: "Verification temporarily unavailable, retry shortly"})
		default:
			// Codes without a bespoke message still answer in this
			// endpoint's shape.
			core.JSON(w, r, appErr.HTTPStatus(), verifyResponse{Success: false, Error: appErr.Message})
		}
		return
	}

	switch res.Outcome {
	case payments.OutcomeAlreadyProcessed:
		core.JSON(w, r, http.StatusOK, verifyResponse{Success: true, Message: "Payment already verified"})
	case payments.OutcomeFailedRecorded, payments.OutcomeAlreadyFailed:
		core.JSON(w, r, http.StatusNotFound, verifyResponse{Success: false, Error: "Account not found for payment"})
	default:
		core.JSON(w, r, http.StatusOK, verifyResponse{Success: true, Message: "Payment verified successfully"})
	}
}

package payments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"streamvault/internal/external"
	"streamvault/internal/types"
)

// OrderVerification is a client-asserted one-time checkout completion.
type OrderVerification struct {
	OrderID    string
	PaymentID  string
	Signature  string
	CustomerID string
}

// SubscriptionVerification is a client-asserted subscription checkout
// completion.
type SubscriptionVerification struct {
	PaymentID      string
	SubscriptionID string
	Signature      string
	CustomerID     string
}

// VerificationService handles the synchronous client verification path. The
// client is never trusted beyond its signature: after the HMAC check the
// payment is re-fetched from the gateway, and amount, capture status, and
// metadata all come from that authoritative copy.
//
// Concurrent verifications of the same payment id (a double-clicked
// checkout callback racing a webhook retry) are collapsed with singleflight
// so only one gateway fetch and one processing attempt run; the ledger's
// unique constraint remains the correctness backstop.
type VerificationService struct {
	verifier  external.CheckoutVerifier
	gateway   external.GatewayClient
	processor *Processor
	keySecret types.SecretString
	group     singleflight.Group
	logger    *slog.Logger
}

// NewVerificationService wires a VerificationService. keySecret is the
// gateway API key secret that signs checkout proofs.
func NewVerificationService(
	verifier external.CheckoutVerifier,
	gateway external.GatewayClient,
	processor *Processor,
	keySecret types.SecretString,
	logger *slog.Logger,
) *VerificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerificationService{
		verifier:  verifier,
		gateway:   gateway,
		processor: processor,
		keySecret: keySecret,
		logger:    logger,
	}
}

// VerifyOrder validates and credits a one-time purchase.
func (s *VerificationService) VerifyOrder(ctx context.Context, req OrderVerification) (*Result, error) {
	if err := s.verifier.VerifyOrder(req.OrderID, req.PaymentID, req.Signature, s.keySecret); err != nil {
		return nil, err
	}

	return s.fetchAndProcess(ctx, req.PaymentID, func(payment *external.GatewayPayment) (*types.PaymentEvent, error) {
		// The HMAC bound this order id to this payment id; the gateway copy
		// disagreeing means a stale or cross-wired request.
		if payment.OrderID != req.OrderID {
			return nil, types.NewAppError(types.ErrCodeSignatureMismatch, "payment does not belong to order", nil)
		}
		if !payment.Captured() {
			return nil, types.NewAppError(types.ErrCodePaymentNotCaptured, "payment not captured yet", nil)
		}

		ev := eventFromGatewayPayment(payment, req.CustomerID)
		ev.Kind = types.KindOrderPaid
		ev.OrderID = payment.OrderID
		return ev, nil
	})
}

// VerifySubscription validates and credits the initial subscription charge.
func (s *VerificationService) VerifySubscription(ctx context.Context, req SubscriptionVerification) (*Result, error) {
	if err := s.verifier.VerifySubscription(req.PaymentID, req.SubscriptionID, req.Signature, s.keySecret); err != nil {
		return nil, err
	}

	return s.fetchAndProcess(ctx, req.PaymentID, func(payment *external.GatewayPayment) (*types.PaymentEvent, error) {
		// Subscription charges capture asynchronously after mandate setup;
		// the client may call back before the money moves.
		if !payment.Captured() {
			return nil, types.NewAppError(types.ErrCodePaymentNotCaptured, "payment not confirmed yet", nil)
		}

		ev := eventFromGatewayPayment(payment, req.CustomerID)
		ev.Kind = types.KindSubscriptionActivated
		ev.SubscriptionID = req.SubscriptionID
		return ev, nil
	})
}

// fetchAndProcess runs the shared tail of both verification flows under
// singleflight, keyed by payment id.
func (s *VerificationService) fetchAndProcess(
	ctx context.Context,
	paymentID string,
	buildEvent func(*external.GatewayPayment) (*types.PaymentEvent, error),
) (*Result, error) {
	v, err, shared := s.group.Do(paymentID, func() (any, error) {
		payment, err := s.gateway.FetchPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}

		ev, err := buildEvent(payment)
		if err != nil {
			return nil, err
		}

		// The ledger snapshot on this path is the gateway's copy of the
		// payment, not the client's claim.
		raw, err := json.Marshal(payment)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode payment snapshot", err)
		}
		return s.processor.Process(ctx, ev, raw)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Info("verification collapsed into concurrent request",
			slog.String("payment_id", paymentID),
		)
	}
	return v.(*Result), nil
}

// eventFromGatewayPayment builds the common event fields from the
// authoritative gateway payment. The metadata contract in the payment notes
// wins over the client-supplied customer id.
func eventFromGatewayPayment(payment *external.GatewayPayment, fallbackCustomerID string) *types.PaymentEvent {
	ev := &types.PaymentEvent{
		Gateway:          types.GatewayRazorpay,
		PaymentID:        payment.ID,
		AmountMinorUnits: payment.AmountMinor,
		CustomerID:       payment.Notes["customer_id"],
		PlanName:         payment.Notes["plan_name"],
		PlanID:           payment.Notes["plan_id"],
		OccurredAt:       time.Now().UTC(),
	}
	if ev.CustomerID == "" {
		ev.CustomerID = fallbackCustomerID
	}
	return ev
}

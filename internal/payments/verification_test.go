package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamvault/internal/external"
	"streamvault/internal/types"
)

type stubVerifier struct {
	err error
}

func (v *stubVerifier) VerifyOrder(_, _, _ string, _ types.SecretString) error        { return v.err }
func (v *stubVerifier) VerifySubscription(_, _, _ string, _ types.SecretString) error { return v.err }

type stubGateway struct {
	payment    *external.GatewayPayment
	fetchErr   error
	fetchCalls atomic.Int32
	release    chan struct{} // when set, FetchPayment blocks until closed
}

func (g *stubGateway) FetchPayment(_ context.Context, paymentID string) (*external.GatewayPayment, error) {
	g.fetchCalls.Add(1)
	if g.release != nil {
		<-g.release
	}
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	p := *g.payment
	p.ID = paymentID
	return &p, nil
}

func (g *stubGateway) CreateOrder(context.Context, external.CreateOrderParams) (*external.GatewayOrder, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) CreateSubscription(context.Context, external.CreateSubscriptionParams) (*external.GatewaySubscription, error) {
	return nil, errors.New("not implemented")
}

func capturedPayment() *external.GatewayPayment {
	return &external.GatewayPayment{
		OrderID:     "order_1",
		AmountMinor: 49900,
		Status:      "captured",
		Notes: map[string]string{
			"customer_id": "cus_1",
			"plan_id":     "plan_pro",
			"plan_name":   "pro-monthly",
		},
	}
}

func newVerificationFixture(gateway *stubGateway, verifyErr error) (*VerificationService, *fakeStore) {
	store := newFakeStore()
	store.customer = &types.UserEntitlement{CustomerID: "cus_1", Version: 1}
	store.plansByID["plan_pro"] = types.Plan{
		ID: "plan_pro", Name: "pro-monthly",
		DurationUnit: types.DurationMonth, DurationCount: 1,
	}

	svc := NewVerificationService(
		&stubVerifier{err: verifyErr},
		gateway,
		newTestProcessor(store, &fakeAlerts{}),
		types.SecretString("key_secret"),
		nil,
	)
	return svc, store
}

func TestVerificationService_VerifyOrder(t *testing.T) {
	gateway := &stubGateway{payment: capturedPayment()}
	svc, store := newVerificationFixture(gateway, nil)

	res, err := svc.VerifyOrder(context.Background(), OrderVerification{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "pro-monthly", res.Entitlement.PlanName)
	require.Len(t, store.inserts, 1)
	assert.Equal(t, "cus_1", store.inserts[0].customerID)
}

func TestVerificationService_VerifyOrder_PersistsGatewaySnapshot(t *testing.T) {
	gateway := &stubGateway{payment: capturedPayment()}
	svc, store := newVerificationFixture(gateway, nil)

	_, err := svc.VerifyOrder(context.Background(), OrderVerification{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: "sig",
	})
	require.NoError(t, err)

	// The ledger row carries the fetched gateway payment, not a null
	// placeholder for the client's claim.
	require.Len(t, store.inserts, 1)
	require.NotNil(t, store.inserts[0].payload)

	var snapshot external.GatewayPayment
	require.NoError(t, json.Unmarshal(store.inserts[0].payload, &snapshot))
	assert.Equal(t, "pay_1", snapshot.ID)
	assert.Equal(t, "order_1", snapshot.OrderID)
	assert.Equal(t, "captured", snapshot.Status)
}

func TestVerificationService_VerifyOrder_BadSignature(t *testing.T) {
	sigErr := types.NewAppError(types.ErrCodeSignatureMismatch, "signature mismatch", nil)
	gateway := &stubGateway{payment: capturedPayment()}
	svc, store := newVerificationFixture(gateway, sigErr)

	_, err := svc.VerifyOrder(context.Background(), OrderVerification{OrderID: "order_1", PaymentID: "pay_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)

	// No gateway fetch, no writes: a bad signature stops everything.
	assert.Equal(t, int32(0), gateway.fetchCalls.Load())
	assert.Empty(t, store.inserts)
}

func TestVerificationService_VerifyOrder_OrderMismatch(t *testing.T) {
	payment := capturedPayment()
	payment.OrderID = "order_other"
	svc, _ := newVerificationFixture(&stubGateway{payment: payment}, nil)

	_, err := svc.VerifyOrder(context.Background(), OrderVerification{OrderID: "order_1", PaymentID: "pay_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeSignatureMismatch, appErr.Code)
}

func TestVerificationService_VerifyOrder_NotCaptured(t *testing.T) {
	payment := capturedPayment()
	payment.Status = "authorized"
	svc, store := newVerificationFixture(&stubGateway{payment: payment}, nil)

	_, err := svc.VerifyOrder(context.Background(), OrderVerification{OrderID: "order_1", PaymentID: "pay_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodePaymentNotCaptured, appErr.Code)
	assert.Empty(t, store.inserts)
}

func TestVerificationService_VerifySubscription(t *testing.T) {
	payment := capturedPayment()
	payment.Notes["plan_name"] = "premium-yearly"
	payment.Notes["plan_id"] = ""
	gateway := &stubGateway{payment: payment}

	store := newFakeStore()
	store.customer = &types.UserEntitlement{CustomerID: "cus_1", Version: 3}
	store.plansByName["premium-yearly"] = types.Plan{
		ID: "plan_prem", Name: "premium-yearly",
		IsSubscription: true, DurationUnit: types.DurationYear, DurationCount: 1,
	}

	svc := NewVerificationService(&stubVerifier{}, gateway, newTestProcessor(store, &fakeAlerts{}), "secret", nil)

	res, err := svc.VerifySubscription(context.Background(), SubscriptionVerification{
		PaymentID:      "pay_s1",
		SubscriptionID: "sub_1",
		Signature:      "sig",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, "sub_1", res.Entitlement.SubscriptionID)
	assert.Equal(t, types.SubStatusActive, res.Entitlement.SubscriptionStatus)
}

func TestVerificationService_VerifySubscription_NotConfirmed(t *testing.T) {
	payment := capturedPayment()
	payment.Status = "created"
	svc, _ := newVerificationFixture(&stubGateway{payment: payment}, nil)

	_, err := svc.VerifySubscription(context.Background(), SubscriptionVerification{
		PaymentID: "pay_s1", SubscriptionID: "sub_1",
	})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodePaymentNotCaptured, appErr.Code)
}

func TestVerificationService_ConcurrentVerificationsCollapse(t *testing.T) {
	gateway := &stubGateway{payment: capturedPayment(), release: make(chan struct{})}
	svc, store := newVerificationFixture(gateway, nil)

	const callers = 8
	results := make([]*Result, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := svc.VerifyOrder(context.Background(), OrderVerification{
				OrderID:   "order_1",
				PaymentID: "pay_1",
				Signature: "sig",
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	// Hold the first fetch open long enough for the rest to pile into the
	// same flight, then let everything through.
	require.Eventually(t, func() bool { return gateway.fetchCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(gateway.release)
	wg.Wait()

	// One gateway fetch, one ledger row, every caller sees the outcome.
	assert.Equal(t, int32(1), gateway.fetchCalls.Load())
	assert.Len(t, store.inserts, 1)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Contains(t, []Outcome{OutcomeApplied, OutcomeAlreadyProcessed}, res.Outcome)
	}
}

func TestVerificationService_GatewayUnavailable(t *testing.T) {
	gateway := &stubGateway{fetchErr: types.NewAppError(types.ErrCodeUpstreamGateway, "gateway unavailable", nil)}
	svc, _ := newVerificationFixture(gateway, nil)

	_, err := svc.VerifyOrder(context.Background(), OrderVerification{OrderID: "order_1", PaymentID: "pay_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGateway, appErr.Code)
}

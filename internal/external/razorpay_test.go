package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamvault/internal/config"
	"streamvault/internal/types"
)

func newRazorpayTestClient(t *testing.T, handler http.Handler) *RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	base := NewBaseClient(&http.Client{Timeout: 5 * time.Second}, "razorpay-test",
		RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond}, "").
		WithSleepFunc(func(time.Duration) {})

	return NewRazorpayClientWithBase(base, config.RazorpayConfig{
		KeyID:     "rzp_test_key",
		KeySecret: config.SecretString("rzp_test_secret"),
		BaseURL:   srv.URL,
	})
}

func TestRazorpayClient_FetchPayment(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_abc123", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "rzp_test_secret", pass)

		json.NewEncoder(w).Encode(map[string]any{
			"id":       "pay_abc123",
			"order_id": "order_xyz",
			"amount":   49900,
			"currency": "INR",
			"status":   "captured",
			"method":   "upi",
		})
	}))

	p, err := c.FetchPayment(context.Background(), "pay_abc123")
	require.NoError(t, err)
	assert.Equal(t, "pay_abc123", p.ID)
	assert.Equal(t, "order_xyz", p.OrderID)
	assert.Equal(t, int64(49900), p.AmountMinor)
	assert.True(t, p.Captured())
}

func TestRazorpayClient_FetchPayment_NotCaptured(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "pay_abc123",
			"amount": 49900,
			"status": "authorized",
		})
	}))

	p, err := c.FetchPayment(context.Background(), "pay_abc123")
	require.NoError(t, err)
	assert.False(t, p.Captured())
}

func TestRazorpayClient_FetchPayment_NotFound(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"not found"}}`))
	}))

	_, err := c.FetchPayment(context.Background(), "pay_missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPayment, appErr.Code)
}

func TestRazorpayClient_CreateOrder(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 49900, body["amount"])

		notes, ok := body["notes"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "cus_42", notes["customer_id"])
		assert.Equal(t, "pro-monthly", notes["plan_name"])

		json.NewEncoder(w).Encode(map[string]any{
			"id":       "order_new1",
			"amount":   49900,
			"currency": "INR",
			"status":   "created",
		})
	}))

	order, err := c.CreateOrder(context.Background(), CreateOrderParams{
		AmountMinor: 49900,
		Currency:    "INR",
		Receipt:     "rcpt_1",
		Notes:       map[string]string{"customer_id": "cus_42", "plan_name": "pro-monthly"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_new1", order.ID)
	assert.Equal(t, "created", order.Status)
}

func TestRazorpayClient_CreateSubscription(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plan_gw_9", body["plan_id"])
		assert.EqualValues(t, 12, body["total_count"])
		assert.EqualValues(t, 1, body["customer_notify"])

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "sub_new1",
			"plan_id": "plan_gw_9",
			"status":  "created",
		})
	}))

	sub, err := c.CreateSubscription(context.Background(), CreateSubscriptionParams{
		GatewayPlanID:  "plan_gw_9",
		TotalCount:     12,
		CustomerNotify: true,
		Notes:          map[string]string{"customer_id": "cus_42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_new1", sub.ID)
}

func TestRazorpayClient_GatewayError(t *testing.T) {
	c := newRazorpayTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too low"}}`))
	}))

	_, err := c.CreateOrder(context.Background(), CreateOrderParams{AmountMinor: 1, Currency: "INR"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamGateway, appErr.Code)
}

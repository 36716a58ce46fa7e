package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamvault/internal/config"
	"streamvault/internal/types"
)

// razorpayAPIBase is the default Razorpay API base URL.
// Overridable in tests via config.RazorpayConfig.BaseURL.
const razorpayAPIBase = "https://api.razorpay.com"

// RazorpayClient implements GatewayClient by calling the Razorpay REST API
// through BaseClient, so every outbound call inherits the circuit breaker
// and retry behavior. Authentication is HTTP basic auth with the key id and
// key secret.
type RazorpayClient struct {
	base    *BaseClient
	keyID   string
	secret  types.SecretString
	baseURL string
	logger  *slog.Logger
}

// NewRazorpayClient creates a RazorpayClient from gateway configuration.
// The httpClient timeout bounds each attempt; the retry policy bounds the
// total call.
func NewRazorpayClient(httpClient *http.Client, cfg config.RazorpayConfig, logger *slog.Logger) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RazorpayClient{
		base:    NewBaseClient(httpClient, "razorpay", DefaultRetryPolicy(), "StreamVault/1.0"),
		keyID:   cfg.KeyID,
		secret:  cfg.KeySecret,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewRazorpayClientWithBase creates a RazorpayClient with a pre-configured
// BaseClient, for tests that need to control retry timing.
func NewRazorpayClientWithBase(base *BaseClient, cfg config.RazorpayConfig) *RazorpayClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = razorpayAPIBase
	}
	return &RazorpayClient{
		base:    base,
		keyID:   cfg.KeyID,
		secret:  cfg.KeySecret,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  slog.Default(),
	}
}

// flexibleNotes tolerates Razorpay's habit of serializing empty notes as a
// JSON array instead of an object.
type flexibleNotes map[string]string

func (n *flexibleNotes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*n = flexibleNotes{}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*n = m
	return nil
}

// razorpayPayment mirrors the fields of the Razorpay payment entity this
// service consumes. Amounts are in minor units (paise).
type razorpayPayment struct {
	ID       string        `json:"id"`
	OrderID  string        `json:"order_id"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	Status   string        `json:"status"`
	Method   string        `json:"method"`
	Notes    flexibleNotes `json:"notes"`
}

// FetchPayment retrieves the authoritative payment object. This is the
// trust anchor for client-asserted checkouts: amount and captured status
// come from here, never from the client.
func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "gateway has no such payment", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse("FetchPayment", resp)
	}

	var p razorpayPayment
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "failed to decode payment response", err)
	}

	return &GatewayPayment{
		ID:          p.ID,
		OrderID:     p.OrderID,
		AmountMinor: p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		Method:      p.Method,
		Notes:       map[string]string(p.Notes),
	}, nil
}

// CreateOrder creates a gateway order for a one-time purchase. The notes
// map is passed through verbatim; callers are responsible for embedding the
// customer_id/plan_name metadata contract.
func (c *RazorpayClient) CreateOrder(ctx context.Context, params CreateOrderParams) (*GatewayOrder, error) {
	body := map[string]any{
		"amount":   params.AmountMinor,
		"currency": params.Currency,
		"receipt":  params.Receipt,
		"notes":    params.Notes,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/orders", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse("CreateOrder", resp)
	}

	var order GatewayOrder
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "failed to decode order response", err)
	}
	return &order, nil
}

// CreateSubscription creates a gateway subscription on a pre-registered
// gateway plan id.
func (c *RazorpayClient) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*GatewaySubscription, error) {
	notify := 0
	if params.CustomerNotify {
		notify = 1
	}
	body := map[string]any{
		"plan_id":         params.GatewayPlanID,
		"total_count":     params.TotalCount,
		"customer_notify": notify,
		"notes":           params.Notes,
	}

	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/subscriptions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse("CreateSubscription", resp)
	}

	var sub GatewaySubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamGateway, "failed to decode subscription response", err)
	}
	return &sub, nil
}

// doJSON builds and executes an authenticated request with an optional JSON
// body.
func (c *RazorpayClient) doJSON(ctx context.Context, method, path string, body map[string]any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build gateway request", err)
	}
	req.SetBasicAuth(c.keyID, c.secret.Unmask())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.base.Do(req)
}

// razorpayErrorBody is the error envelope Razorpay returns on 4xx.
type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// errorFromResponse maps a non-2xx gateway response to an AppError. The
// response body is drained but its description is kept out of client-facing
// messages.
func (c *RazorpayClient) errorFromResponse(operation string, resp *http.Response) error {
	var errBody razorpayErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &errBody)

	c.logger.Warn("gateway call failed",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.String("gateway_code", errBody.Error.Code),
	)

	return types.NewAppError(
		types.ErrCodeUpstreamGateway,
		fmt.Sprintf("%s: gateway returned %d", operation, resp.StatusCode),
		nil,
	)
}

var _ GatewayClient = (*RazorpayClient)(nil)

// TimeoutHTTPClient is the recommended http.Client for gateway calls.
func TimeoutHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

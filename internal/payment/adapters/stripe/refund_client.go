package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/registrar/internal/config"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
)

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response from the Stripe API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe %d: %s", e.StatusCode, e.Message)
}

// apiClient speaks form-encoded requests to the Stripe REST API.
type apiClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newAPIClient(apiKey string, baseURL string, httpClient *http.Client) apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return apiClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  httpClient,
	}
}

// RefundClient issues refunds through the Stripe REST API.
type RefundClient struct {
	apiClient
}

func NewRefundClient(apiKey string, baseURL string, httpClient *http.Client) *RefundClient {
	return &RefundClient{apiClient: newAPIClient(apiKey, baseURL, httpClient)}
}

// NewRefundGateway returns nil when no secret key is configured so refund
// confirmation reports the gateway as disabled.
func NewRefundGateway(cfg config.Config) paymentdomain.RefundGateway {
	if strings.TrimSpace(cfg.Stripe.SecretKey) == "" {
		return nil
	}
	return NewRefundClient(cfg.Stripe.SecretKey, cfg.Stripe.APIBaseURL, nil)
}

type stripeRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *RefundClient) CreateRefund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if c.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	intentID := strings.TrimSpace(req.PaymentIntentID)
	if intentID == "" {
		return nil, paymentdomain.ErrMissingPaymentIntent
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	values := url.Values{}
	values.Set("payment_intent", intentID)
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("reason", "requested_by_customer")
	for key, value := range req.Metadata {
		values.Set("metadata["+key+"]", value)
	}

	var out stripeRefundResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/refunds", values, req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("stripe_response_invalid")
	}
	return &paymentdomain.RefundResult{
		ProviderRefundID: out.ID,
		Status:           strings.ToLower(strings.TrimSpace(out.Status)),
	}, nil
}

func (c apiClient) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "stripe_request_failed"}
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err == nil {
			apiErr.Code = strings.TrimSpace(stripeErr.Error.Code)
			if message := strings.TrimSpace(stripeErr.Error.Message); message != "" {
				apiErr.Message = message
			}
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

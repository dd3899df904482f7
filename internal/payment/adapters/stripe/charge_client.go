package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/registrar/internal/config"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
)

// ChargeClient creates off-session payment intents reusing the customer and
// card of an earlier intent.
type ChargeClient struct {
	apiClient
}

func NewChargeClient(apiKey string, baseURL string, httpClient *http.Client) *ChargeClient {
	return &ChargeClient{apiClient: newAPIClient(apiKey, baseURL, httpClient)}
}

// NewChargeGateway returns nil when no secret key is configured; upgrades
// then wait for a checkout instead of charging immediately.
func NewChargeGateway(cfg config.Config) paymentdomain.ChargeGateway {
	if strings.TrimSpace(cfg.Stripe.SecretKey) == "" {
		return nil
	}
	return NewChargeClient(cfg.Stripe.SecretKey, cfg.Stripe.APIBaseURL, nil)
}

type stripeIntentResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Customer      string `json:"customer"`
	PaymentMethod string `json:"payment_method"`
}

func (c *ChargeClient) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	if c.apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	sourceID := strings.TrimSpace(req.SourceIntentID)
	if sourceID == "" {
		return nil, paymentdomain.ErrMissingPaymentIntent
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, paymentdomain.ErrInvalidCurrency
	}

	var source stripeIntentResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(sourceID), nil, "", &source); err != nil {
		return nil, err
	}
	if strings.TrimSpace(source.PaymentMethod) == "" {
		return nil, paymentdomain.ErrMissingPaymentMethod
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", currency)
	values.Set("payment_method", source.PaymentMethod)
	if customer := strings.TrimSpace(source.Customer); customer != "" {
		values.Set("customer", customer)
	}
	values.Set("confirm", "true")
	values.Set("off_session", "true")
	for key, value := range req.Metadata {
		values.Set("metadata["+key+"]", value)
	}

	var out stripeIntentResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("stripe_response_invalid")
	}
	return &paymentdomain.ChargeResult{
		ProviderPaymentID: out.ID,
		Status:            strings.ToLower(strings.TrimSpace(out.Status)),
	}, nil
}

package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
)

const Provider = "stripe"

// DefaultTolerance bounds the age of a signed delivery.
const DefaultTolerance = 5 * time.Minute

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return Provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret, ok := readString(cfg.Config, "webhook_secret")
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		webhookSecret: secret,
		tolerance:     DefaultTolerance,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if a.tolerance > 0 && a.now != nil {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "refund.created", "refund.updated", "charge.refund.updated":
		return a.parseRefund(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string         `json:"id"`
	Amount           int64          `json:"amount"`
	AmountReceived   int64          `json:"amount_received"`
	Currency         string         `json:"currency"`
	Created          int64          `json:"created"`
	ReceiptEmail     string         `json:"receipt_email"`
	Metadata         map[string]any `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeRefund struct {
	ID            string         `json:"id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        string         `json:"status"`
	FailureReason string         `json:"failure_reason"`
	PaymentIntent string         `json:"payment_intent"`
	Created       int64          `json:"created"`
	Metadata      map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	out := &paymentdomain.PaymentEvent{
		Provider:            Provider,
		ProviderEventID:     event.ID,
		ProviderPaymentID:   intent.ID,
		ProviderPaymentType: "payment_intent",
		Type:                eventType,
		UserID:              readMetadataValue(intent.Metadata, "userId"),
		PaymentID:           readMetadataID(intent.Metadata, "paymentId"),
		RegistrationID:      readMetadataID(intent.Metadata, "registrationId"),
		MembershipID:        readMetadataID(intent.Metadata, "membershipId"),
		Kind:                readMetadataValue(intent.Metadata, "kind"),
		DiscountCode:        readMetadataValue(intent.Metadata, "discountCode"),
		DiscountAmount:      readMetadataInt(intent.Metadata, "discountAmount"),
		Amount:              amount,
		Currency:            strings.ToUpper(strings.TrimSpace(intent.Currency)),
		ReceiptEmail:        firstNonEmpty(intent.ReceiptEmail, readMetadataValue(intent.Metadata, "email")),
		OccurredAt:          timestamp(intent.Created, event.Created),
		RawPayload:          payload,
	}
	if eventType == paymentdomain.EventTypePaymentFailed && intent.LastPaymentError != nil {
		out.FailureReason = firstNonEmpty(intent.LastPaymentError.Message, intent.LastPaymentError.Code)
	}
	return out, nil
}

func (a *Adapter) parseRefund(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var refund stripeRefund
	if err := json.Unmarshal(event.Data.Object, &refund); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(refund.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.PaymentEvent{
		Provider:            Provider,
		ProviderEventID:     event.ID,
		ProviderPaymentID:   strings.TrimSpace(refund.PaymentIntent),
		ProviderPaymentType: "refund",
		Type:                paymentdomain.EventTypeRefundUpdated,
		UserID:              readMetadataValue(refund.Metadata, "userId"),
		PaymentID:           readMetadataID(refund.Metadata, "paymentId"),
		RefundID:            readMetadataID(refund.Metadata, "refundId"),
		ProviderRefundID:    refund.ID,
		RefundState:         strings.ToLower(strings.TrimSpace(refund.Status)),
		Amount:              refund.Amount,
		Currency:            strings.ToUpper(strings.TrimSpace(refund.Currency)),
		FailureReason:       strings.TrimSpace(refund.FailureReason),
		OccurredAt:          timestamp(refund.Created, event.Created),
		RawPayload:          payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readMetadataID(metadata map[string]any, key string) *snowflake.ID {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func readMetadataInt(metadata map[string]any, key string) int64 {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

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
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
)

func newTestAdapter(secret string, now time.Time) *Adapter {
	return &Adapter{
		webhookSecret: secret,
		tolerance:     DefaultTolerance,
		now:           func() time.Time { return now },
	}
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	header := buildStripeSignatureHeader(secret, payload, now.Unix())
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := newTestAdapter(secret, now)
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, now.Unix()))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now.Add(-10*time.Minute).Unix()))
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale signature to be rejected, got %v", err)
	}

	reqHeader.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected missing signature to be rejected, got %v", err)
	}
}

func TestFactoryRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: Provider, Config: map[string]any{}}); !errors.Is(err, paymentdomain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: Provider, Config: map[string]any{"webhook_secret": "whsec"}}); err != nil {
		t.Fatalf("new adapter: %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	paymentID := node.Generate()
	registrationID := node.Generate()
	refundID := node.Generate()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name     string
		event    any
		wantType string
		amount   int64
		check    func(t *testing.T, event *paymentdomain.PaymentEvent)
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_1",
					"amount":          8000,
					"amount_received": 8000,
					"currency":        "aud",
					"created":         created,
					"receipt_email":   "parent@example.com",
					"metadata": map[string]any{
						"userId":         "user-1",
						"paymentId":      paymentID.String(),
						"registrationId": registrationID.String(),
						"discountCode":   "SIBLING",
						"discountAmount": "2000",
						"kind":           "registration",
					},
				},
			},
		},
		wantType: paymentdomain.EventTypePaymentSucceeded,
		amount:   8000,
		check: func(t *testing.T, event *paymentdomain.PaymentEvent) {
			if event.PaymentID == nil || *event.PaymentID != paymentID {
				t.Fatalf("expected payment id %s, got %v", paymentID, event.PaymentID)
			}
			if event.RegistrationID == nil || *event.RegistrationID != registrationID {
				t.Fatalf("expected registration id %s", registrationID)
			}
			if event.UserID != "user-1" || event.Kind != "registration" {
				t.Fatalf("unexpected metadata: %+v", event)
			}
			if event.DiscountAmount != 2000 || event.DiscountCode != "SIBLING" {
				t.Fatalf("unexpected discount: %d %s", event.DiscountAmount, event.DiscountCode)
			}
			if event.ReceiptEmail != "parent@example.com" {
				t.Fatalf("unexpected receipt email %q", event.ReceiptEmail)
			}
		},
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id":      "evt_fail",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":       "pi_2",
					"amount":   8000,
					"currency": "aud",
					"metadata": map[string]any{"paymentId": paymentID.String()},
					"last_payment_error": map[string]any{
						"code":    "card_declined",
						"message": "Your card was declined.",
					},
				},
			},
		},
		wantType: paymentdomain.EventTypePaymentFailed,
		amount:   8000,
		check: func(t *testing.T, event *paymentdomain.PaymentEvent) {
			if event.FailureReason != "Your card was declined." {
				t.Fatalf("unexpected failure reason %q", event.FailureReason)
			}
		},
	}, {
		name: "refund.updated",
		event: map[string]any{
			"id":      "evt_refund",
			"type":    "refund.updated",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":             "re_1",
					"amount":         1200,
					"currency":       "aud",
					"status":         "succeeded",
					"payment_intent": "pi_1",
					"metadata":       map[string]any{"refundId": refundID.String()},
				},
			},
		},
		wantType: paymentdomain.EventTypeRefundUpdated,
		amount:   1200,
		check: func(t *testing.T, event *paymentdomain.PaymentEvent) {
			if event.RefundID == nil || *event.RefundID != refundID {
				t.Fatalf("expected refund id %s", refundID)
			}
			if event.ProviderRefundID != "re_1" || event.RefundState != paymentdomain.RefundStateSucceeded {
				t.Fatalf("unexpected refund fields: %+v", event)
			}
		},
	}}

	adapter := newTestAdapter("whsec_test", time.Unix(created, 0))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			if event.Currency != "AUD" {
				t.Fatalf("expected currency AUD, got %s", event.Currency)
			}
			if event.OccurredAt.Unix() != created {
				t.Fatalf("unexpected occurred at %s", event.OccurredAt)
			}
			tt.check(t, event)
		})
	}
}

func TestParseIgnoresUnknownEvents(t *testing.T) {
	adapter := newTestAdapter("whsec_test", time.Now())
	_, err := adapter.Parse(context.Background(), []byte(`{"id":"evt_x","type":"customer.created","data":{"object":{}}}`))
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected ignored event, got %v", err)
	}
	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	if !errors.Is(err, paymentdomain.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

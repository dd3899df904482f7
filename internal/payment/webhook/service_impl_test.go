package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/registrar/internal/payment/adapters"
	"github.com/smallbiznis/registrar/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "whsec_test"

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry := adapters.NewRegistry(stripe.NewFactory())
	require.NoError(t, registry.Configure(paymentdomain.AdapterConfig{
		Provider: "stripe",
		Config:   map[string]any{"webhook_secret": testSecret},
	}))
	return NewService(Params{Log: zaptest.NewLogger(t), Adapters: registry})
}

func signedHeaders(payload []byte) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func TestIngestOutcomes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	valid := []byte(`{"id":"evt_1","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	tests := []struct {
		name     string
		provider string
		payload  []byte
		headers  http.Header
		outcome  string
		err      error
	}{
		{name: "blank provider", provider: " ", payload: valid, headers: signedHeaders(valid), outcome: OutcomeRejected, err: paymentdomain.ErrInvalidProvider},
		{name: "unknown provider", provider: "paypal", payload: valid, headers: signedHeaders(valid), outcome: OutcomeRejected, err: paymentdomain.ErrProviderNotFound},
		{name: "malformed json", provider: "stripe", payload: []byte(`{"id":`), headers: http.Header{}, outcome: OutcomeRejected, err: paymentdomain.ErrInvalidPayload},
		{name: "bad signature", provider: "stripe", payload: valid, headers: http.Header{"Stripe-Signature": {"t=1,v1=00"}}, outcome: OutcomeRejected, err: paymentdomain.ErrInvalidSignature},
		{name: "unhandled type", provider: "STRIPE", payload: valid, headers: signedHeaders(valid), outcome: OutcomeIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := svc.ingest(ctx, tt.provider, tt.payload, tt.headers)
			assert.Equal(t, tt.outcome, outcome)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIngestWithoutPaymentServiceFails(t *testing.T) {
	svc := newTestService(t)
	payload := []byte(`{"id":"evt_2","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","amount":100,"currency":"aud","metadata":{"payment_id":"1"}}}}`)

	outcome, err := svc.ingest(context.Background(), "stripe", payload, signedHeaders(payload))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

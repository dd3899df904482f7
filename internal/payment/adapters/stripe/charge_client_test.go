package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChargeReusesSourceCard(t *testing.T) {
	var created *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_intents/pi_source":
			_, _ = w.Write([]byte(`{"id":"pi_source","status":"succeeded","customer":"cus_1","payment_method":"pm_1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_intents":
			require.NoError(t, r.ParseForm())
			created = r
			_, _ = w.Write([]byte(`{"id":"pi_upgrade","status":"succeeded"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewChargeClient("sk_test", server.URL, server.Client())
	result, err := client.CreateCharge(context.Background(), paymentdomain.ChargeRequest{
		SourceIntentID: "pi_source",
		Amount:         5000,
		Currency:       "AUD",
		IdempotencyKey: "category-change-77",
		Metadata:       map[string]string{"paymentId": "77"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_upgrade", result.ProviderPaymentID)
	assert.Equal(t, paymentdomain.ChargeStateSucceeded, result.Status)

	require.NotNil(t, created)
	assert.Equal(t, "category-change-77", created.Header.Get("Idempotency-Key"))
	assert.Equal(t, "5000", created.PostForm.Get("amount"))
	assert.Equal(t, "aud", created.PostForm.Get("currency"))
	assert.Equal(t, "cus_1", created.PostForm.Get("customer"))
	assert.Equal(t, "pm_1", created.PostForm.Get("payment_method"))
	assert.Equal(t, "true", created.PostForm.Get("confirm"))
	assert.Equal(t, "true", created.PostForm.Get("off_session"))
	assert.Equal(t, "77", created.PostForm.Get("metadata[paymentId]"))
}

func TestCreateChargeSurfacesDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"id":"pi_source","payment_method":"pm_1"}`))
			return
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer server.Close()

	client := NewChargeClient("sk_test", server.URL, server.Client())
	_, err := client.CreateCharge(context.Background(), paymentdomain.ChargeRequest{SourceIntentID: "pi_source", Amount: 100, Currency: "aud"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.StatusCode)
	assert.Equal(t, "card_declined", apiErr.Code)
}

func TestCreateChargeRequiresStoredCard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pi_source","customer":null,"payment_method":null}`))
	}))
	defer server.Close()

	client := NewChargeClient("sk_test", server.URL, server.Client())
	_, err := client.CreateCharge(context.Background(), paymentdomain.ChargeRequest{SourceIntentID: "pi_source", Amount: 100, Currency: "aud"})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingPaymentMethod)

	_, err = client.CreateCharge(context.Background(), paymentdomain.ChargeRequest{Amount: 100, Currency: "aud"})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingPaymentIntent)
}

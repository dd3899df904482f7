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

func TestCreateRefundSendsIdempotentForm(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_123","status":"pending"}`))
	}))
	defer server.Close()

	client := NewRefundClient("sk_test", server.URL, server.Client())
	result, err := client.CreateRefund(context.Background(), paymentdomain.RefundRequest{
		PaymentIntentID: "pi_1",
		Amount:          1500,
		IdempotencyKey:  "refund-42",
		Metadata:        map[string]string{"refundId": "42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "re_123", result.ProviderRefundID)
	assert.Equal(t, paymentdomain.RefundStatePending, result.Status)

	require.NotNil(t, got)
	assert.Equal(t, "/v1/refunds", got.URL.Path)
	assert.Equal(t, "Bearer sk_test", got.Header.Get("Authorization"))
	assert.Equal(t, "refund-42", got.Header.Get("Idempotency-Key"))
	assert.Equal(t, "pi_1", got.PostForm.Get("payment_intent"))
	assert.Equal(t, "1500", got.PostForm.Get("amount"))
	assert.Equal(t, "42", got.PostForm.Get("metadata[refundId]"))
}

func TestCreateRefundSurfacesStripeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"Charge has already been refunded."}}`))
	}))
	defer server.Close()

	client := NewRefundClient("sk_test", server.URL, server.Client())
	_, err := client.CreateRefund(context.Background(), paymentdomain.RefundRequest{PaymentIntentID: "pi_1", Amount: 100})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "charge_already_refunded", apiErr.Code)
}

func TestCreateRefundValidatesInput(t *testing.T) {
	client := NewRefundClient("sk_test", "http://unused", nil)
	_, err := client.CreateRefund(context.Background(), paymentdomain.RefundRequest{Amount: 100})
	assert.ErrorIs(t, err, paymentdomain.ErrMissingPaymentIntent)
	_, err = client.CreateRefund(context.Background(), paymentdomain.RefundRequest{PaymentIntentID: "pi_1"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

package xero

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	calls   int
	tenants []string
}

func (l *countingLimiter) Wait(ctx context.Context, tenantID string) error {
	l.calls++
	l.tenants = append(l.tenants, tenantID)
	return nil
}

func TestAmountEncoding(t *testing.T) {
	raw, err := json.Marshal(struct {
		Amount Amount `json:"Amount"`
	}{Amount: FromCents(-1050)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Amount":-10.50}`, string(raw))

	var decoded struct {
		Amount Amount `json:"Amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"Amount":123.45}`), &decoded))
	assert.Equal(t, int64(12345), decoded.Amount.Cents())
}

func TestCreateInvoiceSendsTenantHeader(t *testing.T) {
	var got invoicesEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/Invoices", r.URL.Path)
		assert.Equal(t, "tenant-1", r.Header.Get(tenantHeader))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"Invoices":[{"InvoiceID":"inv-1","Status":"DRAFT","Total":80.00}]}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	client := New(srv.Client(), srv.URL, WithLimiter(limiter))
	created, err := client.CreateInvoice(context.Background(), "tenant-1", Invoice{
		Type:      InvoiceTypeSales,
		Contact:   &Contact{Name: "user-1"},
		Status:    StatusDraft,
		LineItems: []LineItem{{Description: "U12", Quantity: 1, UnitAmount: FromCents(8000), LineAmount: FromCents(8000), AccountCode: "4000"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", created.InvoiceID)
	assert.Equal(t, int64(8000), created.Total.Cents())
	require.Len(t, got.Invoices, 1)
	assert.Equal(t, "4000", got.Invoices[0].LineItems[0].AccountCode)
	assert.Equal(t, 1, limiter.calls)
	assert.Equal(t, []string{"tenant-1"}, limiter.tenants)
}

func TestValidationErrorsAreReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ErrorNumber":10,"Type":"ValidationException","Message":"A validation exception occurred",
			"Elements":[{"ValidationErrors":[{"Message":"Account code '9999' is not a valid code for this document."}]}]}`))
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL)
	_, err := client.CreateCreditNote(context.Background(), "tenant-1", CreditNote{Type: CreditNoteTypeSales})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, []string{"Account code '9999' is not a valid code for this document."}, apiErr.Messages)
}

func TestDocumentLevelValidationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Payments":[{"HasErrors":true,"ValidationErrors":[{"Message":"Invoice not of valid status for modification"}]}]}`))
	}))
	defer srv.Close()

	client := New(srv.Client(), srv.URL)
	_, err := client.CreatePayment(context.Background(), "tenant-1", Payment{Invoice: &InvoiceRef{InvoiceID: "inv-1"}, Amount: FromCents(100)})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Error(), "Invoice not of valid status")
}

func TestListAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"Accounts":[{"AccountID":"a1","Code":"090","Name":"Bank","Type":"BANK","Status":"ACTIVE"}]}`))
	}))
	defer srv.Close()

	accounts, err := New(srv.Client(), srv.URL).ListAccounts(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "090", accounts[0].Code)
}

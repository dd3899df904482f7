// Package xero is a minimal client for the Xero accounting API v2.
package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/registrar/internal/config"
	"golang.org/x/oauth2/clientcredentials"
)

const tenantHeader = "Xero-tenant-id"

// Limiter paces calls per tenant.
type Limiter interface {
	Wait(ctx context.Context, tenantID string) error
}

// Observer receives one callback per completed HTTP exchange.
type Observer func(ctx context.Context, endpoint string, statusCode int)

// APIError is a non-2xx response or a document the API rejected.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
	Messages   []string
}

func (e *APIError) Error() string {
	msg := e.Message
	if len(e.Messages) > 0 {
		msg = strings.Join(e.Messages, "; ")
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("xero: %s", msg)
}

type Client struct {
	baseURL  string
	http     *http.Client
	limiter  Limiter
	observer Observer
}

type Option func(*Client)

func WithLimiter(limiter Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

func WithObserver(observer Observer) Option {
	return func(c *Client) { c.observer = observer }
}

func New(httpClient *http.Client, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client authenticated with the OAuth2 client
// credentials grant. Tokens are cached and refreshed by the transport.
func NewFromConfig(cfg config.XeroConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("xero client credentials are required")
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	httpClient := cc.Client(context.Background())
	httpClient.Timeout = cfg.RequestTimeout
	return New(httpClient, cfg.APIBaseURL, opts...), nil
}

func (c *Client) CreateInvoice(ctx context.Context, tenantID string, invoice Invoice) (*Invoice, error) {
	var out invoicesEnvelope
	if err := c.do(ctx, tenantID, http.MethodPut, "/Invoices", nil, invoicesEnvelope{Invoices: []Invoice{invoice}}, &out); err != nil {
		return nil, err
	}
	if len(out.Invoices) == 0 {
		return nil, errors.New("xero: empty invoices response")
	}
	created := out.Invoices[0]
	if created.HasErrors || len(created.ValidationErrors) > 0 {
		return nil, validationError(created.ValidationErrors)
	}
	return &created, nil
}

func (c *Client) CreateCreditNote(ctx context.Context, tenantID string, note CreditNote) (*CreditNote, error) {
	var out creditNotesEnvelope
	if err := c.do(ctx, tenantID, http.MethodPut, "/CreditNotes", nil, creditNotesEnvelope{CreditNotes: []CreditNote{note}}, &out); err != nil {
		return nil, err
	}
	if len(out.CreditNotes) == 0 {
		return nil, errors.New("xero: empty credit notes response")
	}
	created := out.CreditNotes[0]
	if created.HasErrors || len(created.ValidationErrors) > 0 {
		return nil, validationError(created.ValidationErrors)
	}
	return &created, nil
}

// AuthoriseInvoice moves a DRAFT invoice to AUTHORISED so payments can be applied.
func (c *Client) AuthoriseInvoice(ctx context.Context, tenantID string, invoiceID string) error {
	body := invoicesEnvelope{Invoices: []Invoice{{InvoiceID: invoiceID, Status: StatusAuthorised}}}
	var out invoicesEnvelope
	if err := c.do(ctx, tenantID, http.MethodPost, "/Invoices/"+url.PathEscape(invoiceID), nil, body, &out); err != nil {
		return err
	}
	if len(out.Invoices) > 0 && (out.Invoices[0].HasErrors || len(out.Invoices[0].ValidationErrors) > 0) {
		return validationError(out.Invoices[0].ValidationErrors)
	}
	return nil
}

func (c *Client) AuthoriseCreditNote(ctx context.Context, tenantID string, creditNoteID string) error {
	body := creditNotesEnvelope{CreditNotes: []CreditNote{{CreditNoteID: creditNoteID, Status: StatusAuthorised}}}
	var out creditNotesEnvelope
	if err := c.do(ctx, tenantID, http.MethodPost, "/CreditNotes/"+url.PathEscape(creditNoteID), nil, body, &out); err != nil {
		return err
	}
	if len(out.CreditNotes) > 0 && (out.CreditNotes[0].HasErrors || len(out.CreditNotes[0].ValidationErrors) > 0) {
		return validationError(out.CreditNotes[0].ValidationErrors)
	}
	return nil
}

func (c *Client) CreatePayment(ctx context.Context, tenantID string, payment Payment) (*Payment, error) {
	var out paymentsEnvelope
	if err := c.do(ctx, tenantID, http.MethodPut, "/Payments", nil, paymentsEnvelope{Payments: []Payment{payment}}, &out); err != nil {
		return nil, err
	}
	if len(out.Payments) == 0 {
		return nil, errors.New("xero: empty payments response")
	}
	created := out.Payments[0]
	if created.HasErrors || len(created.ValidationErrors) > 0 {
		return nil, validationError(created.ValidationErrors)
	}
	return &created, nil
}

func (c *Client) ListAccounts(ctx context.Context, tenantID string) ([]Account, error) {
	var out accountsEnvelope
	if err := c.do(ctx, tenantID, http.MethodGet, "/Accounts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

func (c *Client) do(ctx context.Context, tenantID, method, path string, query url.Values, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, tenantID); err != nil {
			return err
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(tenantHeader, tenantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if c.observer != nil {
		c.observer(ctx, method+" "+path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeError(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}
	apiErr.Type = parsed.Type
	apiErr.Message = firstNonEmpty(parsed.Message, parsed.Detail, parsed.Title)
	for _, element := range parsed.Elements {
		for _, v := range element.ValidationErrors {
			if msg := strings.TrimSpace(v.Message); msg != "" {
				apiErr.Messages = append(apiErr.Messages, msg)
			}
		}
	}
	return apiErr
}

func validationError(errs []ValidationError) error {
	apiErr := &APIError{StatusCode: http.StatusBadRequest, Type: "ValidationException"}
	for _, v := range errs {
		if msg := strings.TrimSpace(v.Message); msg != "" {
			apiErr.Messages = append(apiErr.Messages, msg)
		}
	}
	return apiErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

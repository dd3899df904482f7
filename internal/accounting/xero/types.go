package xero

import (
	"github.com/shopspring/decimal"
)

// Amount is a two-decimal money value. It encodes as a bare JSON number.
type Amount struct {
	decimal.Decimal
}

func FromCents(cents int64) Amount {
	return Amount{decimal.New(cents, -2)}
}

func (a Amount) Cents() int64 {
	return a.Shift(2).Round(0).IntPart()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

const (
	InvoiceTypeSales    = "ACCREC"
	CreditNoteTypeSales = "ACCRECCREDIT"

	StatusDraft      = "DRAFT"
	StatusAuthorised = "AUTHORISED"
	StatusPaid       = "PAID"

	AccountStatusActive = "ACTIVE"
)

type Contact struct {
	ContactID    string `json:"ContactID,omitempty"`
	Name         string `json:"Name,omitempty"`
	EmailAddress string `json:"EmailAddress,omitempty"`
}

type LineItem struct {
	Description string `json:"Description"`
	Quantity    int    `json:"Quantity"`
	UnitAmount  Amount `json:"UnitAmount"`
	LineAmount  Amount `json:"LineAmount"`
	AccountCode string `json:"AccountCode"`
	TaxType     string `json:"TaxType,omitempty"`
}

type ValidationError struct {
	Message string `json:"Message"`
}

type Invoice struct {
	InvoiceID        string            `json:"InvoiceID,omitempty"`
	Type             string            `json:"Type,omitempty"`
	Contact          *Contact          `json:"Contact,omitempty"`
	Date             string            `json:"Date,omitempty"`
	DueDate          string            `json:"DueDate,omitempty"`
	LineAmountTypes  string            `json:"LineAmountTypes,omitempty"`
	Reference        string            `json:"Reference,omitempty"`
	CurrencyCode     string            `json:"CurrencyCode,omitempty"`
	Status           string            `json:"Status,omitempty"`
	LineItems        []LineItem        `json:"LineItems,omitempty"`
	Total            *Amount           `json:"Total,omitempty"`
	HasErrors        bool              `json:"HasErrors,omitempty"`
	ValidationErrors []ValidationError `json:"ValidationErrors,omitempty"`
}

type CreditNote struct {
	CreditNoteID     string            `json:"CreditNoteID,omitempty"`
	Type             string            `json:"Type,omitempty"`
	Contact          *Contact          `json:"Contact,omitempty"`
	Date             string            `json:"Date,omitempty"`
	LineAmountTypes  string            `json:"LineAmountTypes,omitempty"`
	Reference        string            `json:"Reference,omitempty"`
	CurrencyCode     string            `json:"CurrencyCode,omitempty"`
	Status           string            `json:"Status,omitempty"`
	LineItems        []LineItem        `json:"LineItems,omitempty"`
	Total            *Amount           `json:"Total,omitempty"`
	HasErrors        bool              `json:"HasErrors,omitempty"`
	ValidationErrors []ValidationError `json:"ValidationErrors,omitempty"`
}

type InvoiceRef struct {
	InvoiceID string `json:"InvoiceID"`
}

type CreditNoteRef struct {
	CreditNoteID string `json:"CreditNoteID"`
}

type AccountRef struct {
	Code string `json:"Code"`
}

type Payment struct {
	PaymentID        string            `json:"PaymentID,omitempty"`
	Invoice          *InvoiceRef       `json:"Invoice,omitempty"`
	CreditNote       *CreditNoteRef    `json:"CreditNote,omitempty"`
	Account          *AccountRef       `json:"Account,omitempty"`
	Date             string            `json:"Date,omitempty"`
	Amount           Amount            `json:"Amount"`
	Reference        string            `json:"Reference,omitempty"`
	Status           string            `json:"Status,omitempty"`
	HasErrors        bool              `json:"HasErrors,omitempty"`
	ValidationErrors []ValidationError `json:"ValidationErrors,omitempty"`
}

type Account struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
	Type      string `json:"Type"`
	Status    string `json:"Status"`
}

type invoicesEnvelope struct {
	Invoices []Invoice `json:"Invoices"`
}

type creditNotesEnvelope struct {
	CreditNotes []CreditNote `json:"CreditNotes"`
}

type paymentsEnvelope struct {
	Payments []Payment `json:"Payments"`
}

type accountsEnvelope struct {
	Accounts []Account `json:"Accounts"`
}

type errorResponse struct {
	ErrorNumber int    `json:"ErrorNumber"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	Detail      string `json:"Detail"`
	Title       string `json:"Title"`
	Elements    []struct {
		ValidationErrors []ValidationError `json:"ValidationErrors"`
	} `json:"Elements"`
}

// Package domain holds the local staging copies of accounting documents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypeCreditNote DocumentType = "credit_note"
)

type Status string

const (
	StatusDraft   Status = "draft"
	StatusStaged  Status = "staged"
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
	StatusIgnore  Status = "ignore"
)

// Selectable reports whether the orchestrator may pick the status up.
// Failed rows additionally need their retry time to have passed.
func (s Status) Selectable() bool {
	return s == StatusStaged || s == StatusPending || s == StatusFailed
}

type Reason string

const (
	ReasonNewRegistration    Reason = "new_registration"
	ReasonMembership         Reason = "membership"
	ReasonRefundProportional Reason = "refund_proportional"
	ReasonRefundDiscountCode Reason = "refund_discount_code"
	ReasonCategoryChange     Reason = "category_change"
)

// Invoice is a staged invoice or credit note (table xero_invoices).
type Invoice struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        string         `json:"tenant_id"`
	Type            DocumentType   `json:"type"`
	Status          Status         `json:"status"`
	Reason          Reason         `json:"reason"`
	NetAmount       int64          `json:"net_amount"`
	Currency        string         `json:"currency"`
	PaymentID       *snowflake.ID  `json:"payment_id,omitempty"`
	RefundID        *snowflake.ID  `json:"refund_id,omitempty"`
	RegistrationID  *snowflake.ID  `json:"registration_id,omitempty"`
	UserID          string         `json:"user_id"`
	ContactName     *string        `json:"contact_name,omitempty"`
	ContactEmail    *string        `json:"contact_email,omitempty"`
	Reference       *string        `json:"reference,omitempty"`
	Metadata        datatypes.JSON `json:"metadata"`
	RemoteInvoiceID *string        `json:"remote_invoice_id,omitempty"`
	RemoteStatus    *string        `json:"remote_status,omitempty"`
	LastSyncError   *string        `json:"last_sync_error,omitempty"`
	SyncAttempts    int            `json:"sync_attempts"`
	NextAttemptAt   *time.Time     `json:"next_attempt_at,omitempty"`
	ClaimToken      *string        `json:"-"`
	ClaimedUntil    *time.Time     `json:"-"`
	SyncedAt        *time.Time     `json:"synced_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	LineItems []LineItem `json:"line_items,omitempty" gorm:"-"`
}

func (Invoice) TableName() string { return "xero_invoices" }

// RemoteID returns the accounting system id, or empty before sync.
func (i Invoice) RemoteID() string {
	if i.RemoteInvoiceID == nil {
		return ""
	}
	return *i.RemoteInvoiceID
}

// LineTotal sums the signed line amounts.
func (i Invoice) LineTotal() int64 {
	var total int64
	for _, line := range i.LineItems {
		total += line.LineAmount
	}
	return total
}

// LineItem belongs to exactly one Invoice (table xero_invoice_line_items).
type LineItem struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID `json:"invoice_id"`
	Position    int          `json:"position"`
	Description string       `json:"description"`
	Quantity    int          `json:"quantity"`
	UnitAmount  int64        `json:"unit_amount"`
	LineAmount  int64        `json:"line_amount"`
	AccountCode string       `json:"account_code"`
	TaxType     string       `json:"tax_type"`
}

func (LineItem) TableName() string { return "xero_invoice_line_items" }

// Payment applies money against a synced Invoice (table xero_payments).
type Payment struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID        string       `json:"tenant_id"`
	InvoiceID       snowflake.ID `json:"invoice_id"`
	Amount          int64        `json:"amount"`
	AccountCode     string       `json:"account_code"`
	Reference       *string      `json:"reference,omitempty"`
	Status          Status       `json:"status"`
	RemotePaymentID *string      `json:"remote_payment_id,omitempty"`
	LastSyncError   *string      `json:"last_sync_error,omitempty"`
	SyncAttempts    int          `json:"sync_attempts"`
	NextAttemptAt   *time.Time   `json:"next_attempt_at,omitempty"`
	ClaimToken      *string      `json:"-"`
	ClaimedUntil    *time.Time   `json:"-"`
	SyncedAt        *time.Time   `json:"synced_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Payment) TableName() string { return "xero_payments" }

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	TenantID string
	Status   Status
	Reason   Reason
	UserID   string
	AfterID  snowflake.ID
	Limit    int
}

// SelectFilter picks rows the orchestrator may push. Rows are returned in id
// order strictly after AfterID so paging always makes progress.
type SelectFilter struct {
	TenantID string
	AfterID  snowflake.ID
	Now      time.Time
	Limit    int
}

// Outcome records the result of one remote push under a claim.
type Outcome struct {
	ID            snowflake.ID
	ClaimToken    string
	RemoteID      string
	RemoteStatus  string
	Error         string
	Now           time.Time
	NextAttemptAt time.Time
}

type Repository interface {
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByPaymentReason(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reasons ...Reason) (*Invoice, error)
	FindByRefund(ctx context.Context, db *gorm.DB, refundID snowflake.ID) (*Invoice, error)
	ListDraftsByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)

	TransitionInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
	RequeueInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	AttachPayment(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, paymentID snowflake.ID, now time.Time) error
	AttachRefund(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, refundID snowflake.ID, now time.Time) error
	DeleteDraft(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	SelectInvoices(ctx context.Context, db *gorm.DB, filter SelectFilter) ([]Invoice, error)
	CountSelectableInvoices(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error)
	ClaimInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, until time.Time) (bool, error)
	CompleteInvoice(ctx context.Context, db *gorm.DB, outcome Outcome) (bool, error)
	FailInvoice(ctx context.Context, db *gorm.DB, outcome Outcome) (bool, error)
	AdoptOrphans(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error)
	ListSyncedWithoutPayment(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]Invoice, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindPaymentByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*Payment, error)
	SelectPayments(ctx context.Context, db *gorm.DB, filter SelectFilter) ([]Payment, error)
	CountSelectablePayments(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error)
	ClaimPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, until time.Time) (bool, error)
	CompletePayment(ctx context.Context, db *gorm.DB, outcome Outcome) (bool, error)
	FailPayment(ctx context.Context, db *gorm.DB, outcome Outcome) (bool, error)
}

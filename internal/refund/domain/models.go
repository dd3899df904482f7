// Package domain models admin-initiated refunds against completed payments.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Type string

const (
	TypeProportional   Type = "proportional"
	TypeDiscountCode   Type = "discount_code"
	TypeCategoryChange Type = "category_change"
)

type Status string

const (
	StatusStaged     Status = "staged"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Open reports whether the refund is still waiting on the processor.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

type Refund struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	PaymentID        snowflake.ID  `json:"payment_id"`
	UserID           string        `json:"user_id"`
	Type             Type          `json:"type"`
	AmountCents      int64         `json:"amount_cents"`
	DiscountCodeID   *snowflake.ID `json:"discount_code_id,omitempty"`
	Reason           *string       `json:"reason,omitempty"`
	Status           Status        `json:"status"`
	StagingInvoiceID *snowflake.ID `json:"staging_invoice_id,omitempty"`
	StripeRefundID   *string       `json:"stripe_refund_id,omitempty"`
	FailureReason    *string       `json:"failure_reason,omitempty"`
	CreatedBy        *string       `json:"created_by,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (Refund) TableName() string { return "refunds" }

var (
	ErrRefundNotFound       = errors.New("refund_not_found")
	ErrInvalidRefundStatus  = errors.New("invalid_refund_status")
	ErrRefundExceedsBalance = errors.New("refund_exceeds_refundable_balance")
	ErrPaymentNotRefundable = errors.New("payment_not_refundable")
	ErrDiscountCodeRequired = errors.New("discount_code_required")
	ErrInvalidRequest       = errors.New("invalid_refund_request")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindByProviderID(ctx context.Context, db *gorm.DB, providerRefundID string) (*Refund, error)
	SumCommitted(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, now time.Time) (bool, error)
	SetProviderRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRefundID string, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, reason string, now time.Time) (bool, error)
}

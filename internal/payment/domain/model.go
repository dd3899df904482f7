package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentKind string

const (
	PaymentKindRegistration   PaymentKind = "registration"
	PaymentKindMembership     PaymentKind = "membership"
	PaymentKindCategoryChange PaymentKind = "category_change"
)

type PaymentStatus string

const (
	PaymentStatusAwaitingPayment PaymentStatus = "awaiting_payment"
	PaymentStatusProcessing      PaymentStatus = "processing"
	PaymentStatusCompleted       PaymentStatus = "completed"
	PaymentStatusFailed          PaymentStatus = "failed"
)

// Payment is a local charge record keyed to a Stripe payment intent.
type Payment struct {
	ID                    snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID                string        `json:"user_id"`
	Kind                  PaymentKind   `json:"kind"`
	RegistrationID        *snowflake.ID `json:"registration_id,omitempty"`
	MembershipCategoryID  *snowflake.ID `json:"membership_category_id,omitempty"`
	AmountCents           int64         `json:"amount_cents"`
	DiscountCents         int64         `json:"discount_cents"`
	DiscountCodeID        *snowflake.ID `json:"discount_code_id,omitempty"`
	Currency              string        `json:"currency"`
	Status                PaymentStatus `json:"status"`
	StripePaymentIntentID *string       `json:"stripe_payment_intent_id,omitempty"`
	FailureReason         *string       `json:"failure_reason,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) IntentID() string {
	if p.StripePaymentIntentID == nil {
		return ""
	}
	return *p.StripePaymentIntentID
}

type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	UserID          string         `json:"user_id"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefundUpdated    = "refund_updated"
)

// Provider refund states reported on refund events.
const (
	RefundStateSucceeded = "succeeded"
	RefundStatePending   = "pending"
	RefundStateFailed    = "failed"
	RefundStateCanceled  = "canceled"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider            string
	ProviderEventID     string
	ProviderPaymentID   string
	ProviderPaymentType string
	Type                string
	UserID              string
	PaymentID           *snowflake.ID
	RegistrationID      *snowflake.ID
	MembershipID        *snowflake.ID
	RefundID            *snowflake.ID
	ProviderRefundID    string
	RefundState         string
	Kind                string
	DiscountCode        string
	DiscountAmount      int64
	Amount              int64
	Currency            string
	ReceiptEmail        string
	FailureReason       string
	OccurredAt          time.Time
	RawPayload          []byte
}

type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter verifies and parses provider webhook deliveries.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type RefundRequest struct {
	PaymentIntentID string
	Amount          int64
	IdempotencyKey  string
	Metadata        map[string]string
}

type RefundResult struct {
	ProviderRefundID string
	Status           string
}

// RefundGateway issues refunds against the payment processor.
type RefundGateway interface {
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ChargeRequest charges the card behind an earlier payment intent again,
// off session.
type ChargeRequest struct {
	SourceIntentID string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	ProviderPaymentID string
	Status            string
}

// Provider payment intent states reported on charge attempts.
const (
	ChargeStateSucceeded  = "succeeded"
	ChargeStateProcessing = "processing"
)

// ChargeGateway creates charges against the payment processor.
type ChargeGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

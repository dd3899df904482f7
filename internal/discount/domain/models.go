package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrDiscountCodeNotFound     = errors.New("discount_code_not_found")
	ErrDiscountCodeInactive     = errors.New("discount_code_inactive")
	ErrDiscountCategoryNotFound = errors.New("discount_category_not_found")
	ErrInvalidUsage             = errors.New("invalid_discount_usage")
)

type DiscountCategory struct {
	ID                          snowflake.ID `json:"id" gorm:"primaryKey"`
	Name                        string       `json:"name"`
	AccountingCode              *string      `json:"accounting_code,omitempty"`
	MaxDiscountPerUserPerSeason *int64       `json:"max_discount_per_user_per_season,omitempty"`
	CreatedAt                   time.Time    `json:"created_at"`
}

func (DiscountCategory) TableName() string { return "discount_categories" }

func (c DiscountCategory) Code() string {
	if c.AccountingCode == nil {
		return ""
	}
	return *c.AccountingCode
}

type DiscountCode struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	DiscountCategoryID snowflake.ID `json:"discount_category_id"`
	Code               string       `json:"code"`
	PercentOff         *int         `json:"percent_off,omitempty"`
	AmountOffCents     *int64       `json:"amount_off_cents,omitempty"`
	Active             bool         `json:"active"`
	CreatedAt          time.Time    `json:"created_at"`
}

func (DiscountCode) TableName() string { return "discount_codes" }

// DiscountUsage is an append-only ledger row. Usage is negative, refunds
// append a positive reversing entry.
type DiscountUsage struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID             string        `json:"user_id"`
	DiscountCodeID     snowflake.ID  `json:"discount_code_id"`
	DiscountCategoryID snowflake.ID  `json:"discount_category_id"`
	SeasonID           snowflake.ID  `json:"season_id"`
	RegistrationID     *snowflake.ID `json:"registration_id,omitempty"`
	PaymentID          *snowflake.ID `json:"payment_id,omitempty"`
	RefundID           *snowflake.ID `json:"refund_id,omitempty"`
	AdjustmentID       *snowflake.ID `json:"adjustment_id,omitempty"`
	AmountSaved        int64         `json:"amount_saved"`
	CreatedAt          time.Time     `json:"created_at"`
}

func (DiscountUsage) TableName() string { return "discount_usage" }

// UsageKey identifies one discount application. A payment id wins when
// present; otherwise the registration, or the season for memberships.
type UsageKey struct {
	UserID         string
	CodeID         snowflake.ID
	SeasonID       snowflake.ID
	RegistrationID *snowflake.ID
	PaymentID      *snowflake.ID
}

// Quote is the discount actually applicable to a gross amount.
type Quote struct {
	Code      DiscountCode
	Category  DiscountCategory
	Requested int64
	Applied   int64
	Used      int64
}

type Repository interface {
	FindCode(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DiscountCode, error)
	FindCodeByText(ctx context.Context, db *gorm.DB, code string) (*DiscountCode, error)
	FindCategory(ctx context.Context, db *gorm.DB, id snowflake.ID) (*DiscountCategory, error)
	SumUsage(ctx context.Context, db *gorm.DB, userID string, categoryID snowflake.ID, seasonID snowflake.ID) (int64, error)
	HasUsage(ctx context.Context, db *gorm.DB, key UsageKey) (bool, error)
	InsertUsage(ctx context.Context, db *gorm.DB, usage *DiscountUsage) (bool, error)
}

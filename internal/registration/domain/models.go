// Package domain contains persistence models for seasons, categories, registrations and memberships.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type CategoryKind string

const (
	CategoryKindRegistration CategoryKind = "registration"
	CategoryKindMembership   CategoryKind = "membership"
)

type RegistrationStatus string

const (
	RegistrationStatusAwaitingPayment RegistrationStatus = "awaiting_payment"
	RegistrationStatusProcessing      RegistrationStatus = "processing"
	RegistrationStatusPaid            RegistrationStatus = "paid"
	RegistrationStatusFailed          RegistrationStatus = "failed"
	RegistrationStatusCancelled       RegistrationStatus = "cancelled"
)

// Season bounds registrations, memberships and discount caps.
type Season struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name"`
	StartsAt  time.Time    `json:"starts_at"`
	EndsAt    time.Time    `json:"ends_at"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Season) TableName() string { return "seasons" }

// Category is a priced registration or membership product within a season.
type Category struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	SeasonID       snowflake.ID `json:"season_id"`
	Kind           CategoryKind `json:"kind"`
	Name           string       `json:"name"`
	PriceCents     int64        `json:"price_cents"`
	AccountingCode *string      `json:"accounting_code,omitempty"`
	MaxCapacity    *int         `json:"max_capacity,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Category) TableName() string { return "categories" }

// Code returns the configured accounting code, or empty when unset.
func (c Category) Code() string {
	if c.AccountingCode == nil {
		return ""
	}
	return *c.AccountingCode
}

type Registration struct {
	ID              snowflake.ID       `json:"id" gorm:"primaryKey"`
	UserID          string             `json:"user_id"`
	SeasonID        snowflake.ID       `json:"season_id"`
	CategoryID      snowflake.ID       `json:"category_id"`
	Status          RegistrationStatus `json:"status"`
	PaymentID       *snowflake.ID      `json:"payment_id,omitempty"`
	AmountPaidCents int64              `json:"amount_paid_cents"`
	DiscountCents   int64              `json:"discount_cents"`
	DiscountCodeID  *snowflake.ID      `json:"discount_code_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func (Registration) TableName() string { return "registrations" }

type Membership struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID                string       `json:"user_id"`
	SeasonID              snowflake.ID `json:"season_id"`
	CategoryID            snowflake.ID `json:"category_id"`
	PaymentID             snowflake.ID `json:"payment_id"`
	StripePaymentIntentID string       `json:"stripe_payment_intent_id"`
	ValidFrom             time.Time    `json:"valid_from"`
	ValidUntil            time.Time    `json:"valid_until"`
	CreatedAt             time.Time    `json:"created_at"`
}

func (Membership) TableName() string { return "memberships" }

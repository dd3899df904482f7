package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Metadata is the per-reason payload stored on a staging invoice. The set of
// variants is closed.
type Metadata interface {
	Reason() Reason
	validate() error
}

type NewRegistrationMetadata struct {
	UserID         string        `json:"user_id"`
	RegistrationID snowflake.ID  `json:"registration_id"`
	CategoryID     snowflake.ID  `json:"category_id"`
	DiscountCodeID *snowflake.ID `json:"discount_code_id,omitempty"`
}

func (NewRegistrationMetadata) Reason() Reason { return ReasonNewRegistration }

func (m NewRegistrationMetadata) validate() error {
	if m.UserID == "" || m.RegistrationID == 0 || m.CategoryID == 0 {
		return ErrInvalidMetadata
	}
	return nil
}

type MembershipMetadata struct {
	UserID       string        `json:"user_id"`
	CategoryID   snowflake.ID  `json:"category_id"`
	MembershipID *snowflake.ID `json:"membership_id,omitempty"`
}

func (MembershipMetadata) Reason() Reason { return ReasonMembership }

func (m MembershipMetadata) validate() error {
	if m.UserID == "" || m.CategoryID == 0 {
		return ErrInvalidMetadata
	}
	return nil
}

type RefundProportionalMetadata struct {
	UserID          string       `json:"user_id"`
	RefundID        snowflake.ID `json:"refund_id"`
	SourceInvoiceID snowflake.ID `json:"source_invoice_id"`
}

func (RefundProportionalMetadata) Reason() Reason { return ReasonRefundProportional }

func (m RefundProportionalMetadata) validate() error {
	if m.UserID == "" || m.RefundID == 0 || m.SourceInvoiceID == 0 {
		return ErrInvalidMetadata
	}
	return nil
}

type RefundDiscountCodeMetadata struct {
	UserID         string       `json:"user_id"`
	RefundID       snowflake.ID `json:"refund_id"`
	DiscountCodeID snowflake.ID `json:"discount_code_id"`
	SeasonID       snowflake.ID `json:"season_id"`
}

func (RefundDiscountCodeMetadata) Reason() Reason { return ReasonRefundDiscountCode }

func (m RefundDiscountCodeMetadata) validate() error {
	if m.UserID == "" || m.RefundID == 0 || m.DiscountCodeID == 0 {
		return ErrInvalidMetadata
	}
	return nil
}

type ChangeDirection string

const (
	DirectionUpgrade   ChangeDirection = "upgrade"
	DirectionDowngrade ChangeDirection = "downgrade"
	DirectionZeroSum   ChangeDirection = "zero_sum"
)

type CategoryChangeMetadata struct {
	UserID         string          `json:"user_id"`
	RegistrationID snowflake.ID    `json:"registration_id"`
	OldCategoryID  snowflake.ID    `json:"old_category_id"`
	NewCategoryID  snowflake.ID    `json:"new_category_id"`
	Direction      ChangeDirection `json:"direction"`
	NewAmountPaid  int64           `json:"new_amount_paid"`
	NewDiscount    int64           `json:"new_discount"`
}

func (CategoryChangeMetadata) Reason() Reason { return ReasonCategoryChange }

func (m CategoryChangeMetadata) validate() error {
	if m.UserID == "" || m.RegistrationID == 0 || m.OldCategoryID == 0 || m.NewCategoryID == 0 {
		return ErrInvalidMetadata
	}
	switch m.Direction {
	case DirectionUpgrade, DirectionDowngrade, DirectionZeroSum:
		return nil
	default:
		return ErrInvalidMetadata
	}
}

type metadataEnvelope struct {
	Reason Reason          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

// EncodeMetadata stores a variant as {"reason": ..., "data": {...}}.
func EncodeMetadata(m Metadata) (datatypes.JSON, error) {
	if m == nil {
		return nil, ErrInvalidMetadata
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(metadataEnvelope{Reason: m.Reason(), Data: data})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeMetadata rejects envelopes whose reason has no variant.
func DecodeMetadata(raw []byte) (Metadata, error) {
	var envelope metadataEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	var target Metadata
	switch Reason(strings.TrimSpace(string(envelope.Reason))) {
	case ReasonNewRegistration:
		target = &NewRegistrationMetadata{}
	case ReasonMembership:
		target = &MembershipMetadata{}
	case ReasonRefundProportional:
		target = &RefundProportionalMetadata{}
	case ReasonRefundDiscountCode:
		target = &RefundDiscountCodeMetadata{}
	case ReasonCategoryChange:
		target = &CategoryChangeMetadata{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetadataReason, envelope.Reason)
	}

	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	value := deref(target)
	if err := value.validate(); err != nil {
		return nil, err
	}
	return value, nil
}

func deref(m Metadata) Metadata {
	switch v := m.(type) {
	case *NewRegistrationMetadata:
		return *v
	case *MembershipMetadata:
		return *v
	case *RefundProportionalMetadata:
		return *v
	case *RefundDiscountCodeMetadata:
		return *v
	case *CategoryChangeMetadata:
		return *v
	default:
		return m
	}
}

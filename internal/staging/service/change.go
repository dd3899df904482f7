package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	discountservice "github.com/smallbiznis/registrar/internal/discount/service"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"gorm.io/gorm"
)

type ChangeKind string

const (
	ChangeKindUpgrade   ChangeKind = "upgrade"
	ChangeKindDowngrade ChangeKind = "downgrade"
	ChangeKindZeroSum   ChangeKind = "zero_sum"
	ChangeKindNone      ChangeKind = "none"
)

type ChangeRequest struct {
	RegistrationID snowflake.ID
	NewCategoryID  snowflake.ID
}

// ChangeResult describes the money movement a category change needs.
// Invoice is nil when no staging was required.
type ChangeResult struct {
	Kind            ChangeKind             `json:"kind"`
	PriceDifference int64                  `json:"price_difference"`
	AmountToCharge  int64                  `json:"amount_to_charge"`
	AmountToRefund  int64                  `json:"amount_to_refund"`
	OldEffective    int64                  `json:"old_effective"`
	NewEffective    int64                  `json:"new_effective"`
	NewDiscount     int64                  `json:"new_discount"`
	Invoice         *stagingdomain.Invoice `json:"invoice,omitempty"`
}

// ChangeCategory stages the accounting adjustment for moving a paid
// registration to another category of the same season. The registration
// itself is not modified here.
func (s *Service) ChangeCategory(ctx context.Context, tenantID string, req ChangeRequest) (*ChangeResult, error) {
	reg, err := s.regRepo.FindRegistration(ctx, s.db, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, regdomain.ErrRegistrationNotFound
	}
	if reg.Status != regdomain.RegistrationStatusPaid {
		return nil, regdomain.ErrRegistrationNotPaid
	}
	if reg.CategoryID == req.NewCategoryID {
		return nil, regdomain.ErrSameCategory
	}

	oldCategory, err := s.loadCategory(ctx, reg.CategoryID)
	if err != nil {
		return nil, err
	}
	newCategory, err := s.loadCategory(ctx, req.NewCategoryID)
	if err != nil {
		return nil, err
	}
	if newCategory.SeasonID != reg.SeasonID || newCategory.Kind != regdomain.CategoryKindRegistration {
		return nil, regdomain.ErrCategoryMismatch
	}
	if newCategory.MaxCapacity != nil {
		occupied, err := s.regRepo.CountOccupied(ctx, s.db, newCategory.ID)
		if err != nil {
			return nil, err
		}
		if occupied >= int64(*newCategory.MaxCapacity) {
			return nil, regdomain.ErrCategoryFull
		}
	}

	oldDiscount := reg.DiscountCents
	oldGross := reg.AmountPaidCents + oldDiscount
	oldEffective := reg.AmountPaidCents

	newGross := newCategory.PriceCents
	var newDiscount int64
	if reg.DiscountCodeID != nil {
		quote, err := s.discountSvc.QuoteByID(ctx, reg.UserID, reg.SeasonID, *reg.DiscountCodeID, newGross, oldDiscount)
		if err != nil {
			return nil, err
		}
		newDiscount = quote.Applied
	}
	if newDiscount > newGross {
		newDiscount = newGross
	}
	newEffective := newGross - newDiscount
	diff := newEffective - oldEffective

	result := &ChangeResult{
		PriceDifference: diff,
		OldEffective:    oldEffective,
		NewEffective:    newEffective,
		NewDiscount:     newDiscount,
	}

	switch {
	case diff > 0:
		result.Kind = ChangeKindUpgrade
		result.AmountToCharge = diff
	case diff < 0:
		result.Kind = ChangeKindDowngrade
		result.AmountToRefund = -diff
	case oldGross == 0 && newGross == 0:
		result.Kind = ChangeKindNone
		return result, nil
	case oldCategory.Code() != newCategory.Code():
		result.Kind = ChangeKindZeroSum
	default:
		result.Kind = ChangeKindNone
		return result, nil
	}

	if oldCategory.Code() == "" {
		return nil, missingCategoryCode(oldCategory)
	}
	if newCategory.Code() == "" {
		return nil, missingCategoryCode(newCategory)
	}
	var discountCode string
	if oldDiscount != 0 || newDiscount != 0 {
		discountCode, err = s.discountAccountCode(ctx, reg.DiscountCodeID)
		if err != nil {
			return nil, err
		}
	}

	cfg := s.cfg.Get()
	builder := newLineBuilder(s.genID, cfg.TaxType)
	docType := stagingdomain.DocumentTypeInvoice
	status := stagingdomain.StatusDraft
	direction := stagingdomain.DirectionUpgrade

	switch result.Kind {
	case ChangeKindDowngrade:
		docType = stagingdomain.DocumentTypeCreditNote
		direction = stagingdomain.DirectionDowngrade
		builder.add(oldCategory.Name, oldGross, oldCategory.Code())
		builder.add("Discount", -oldDiscount, discountCode)
		builder.add(newCategory.Name, -newGross, newCategory.Code())
		builder.add("Discount", newDiscount, discountCode)
	case ChangeKindZeroSum:
		// Zero-sum documents always carry all four lines, zero discounts
		// included. With no discount in play each discount line books to
		// its own category.
		status = stagingdomain.StatusStaged
		direction = stagingdomain.DirectionZeroSum
		newDiscountCode, oldDiscountCode := discountCode, discountCode
		if discountCode == "" {
			newDiscountCode, oldDiscountCode = newCategory.Code(), oldCategory.Code()
		}
		builder.put(newCategory.Name, newGross, newCategory.Code())
		builder.put("Discount", -newDiscount, newDiscountCode)
		builder.put(oldCategory.Name, -oldGross, oldCategory.Code())
		builder.put("Discount", oldDiscount, oldDiscountCode)
	default:
		builder.add(newCategory.Name, newGross, newCategory.Code())
		builder.add("Discount", -newDiscount, discountCode)
		builder.add(oldCategory.Name, -oldGross, oldCategory.Code())
		builder.add("Discount", oldDiscount, discountCode)
	}

	invoice, err := s.newInvoice(tenantID, docType, stagingdomain.ReasonCategoryChange, stagingdomain.CategoryChangeMetadata{
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
		OldCategoryID:  oldCategory.ID,
		NewCategoryID:  newCategory.ID,
		Direction:      direction,
		NewAmountPaid:  newEffective,
		NewDiscount:    newDiscount,
	})
	if err != nil {
		return nil, err
	}
	invoice.Status = status
	invoice.Currency = currencyOr("", cfg.DefaultCurrency)
	invoice.RegistrationID = &reg.ID
	invoice.UserID = reg.UserID
	invoice.Reference = reference(cfg.ReferencePrefix+"-CC", invoice.ID)
	invoice.LineItems = builder.lines

	if err := s.insert(ctx, invoice); err != nil {
		return nil, err
	}
	result.Invoice = invoice
	return result, nil
}

// ApplyCategoryChange moves the registration to its new category and books
// any change in its discount against the seasonal allowance, in one
// transaction. Re-applying a change that already landed is a no-op.
func (s *Service) ApplyCategoryChange(ctx context.Context, change stagingdomain.CategoryChangeMetadata, adjustmentID snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg, err := s.regRepo.FindRegistration(ctx, tx, change.RegistrationID)
		if err != nil {
			return err
		}
		if reg == nil {
			return regdomain.ErrRegistrationNotFound
		}
		if reg.CategoryID == change.NewCategoryID {
			return nil
		}
		if err := s.regRepo.MoveCategory(ctx, tx, reg.ID, change.NewCategoryID, change.NewAmountPaid, change.NewDiscount, now); err != nil {
			return err
		}
		if reg.DiscountCodeID == nil || reg.DiscountCents == change.NewDiscount {
			return nil
		}
		_, err = s.discountSvc.AdjustUsage(ctx, tx, discountservice.AdjustInput{
			UserID:         reg.UserID,
			CodeID:         *reg.DiscountCodeID,
			SeasonID:       reg.SeasonID,
			RegistrationID: reg.ID,
			AdjustmentID:   adjustmentID,
			OldAmount:      reg.DiscountCents,
			NewAmount:      change.NewDiscount,
		})
		return err
	})
}

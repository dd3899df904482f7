package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/clock"
	discountdomain "github.com/smallbiznis/registrar/internal/discount/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  discountdomain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  discountdomain.Repository
	clock clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("discount.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

// UsageInput identifies a discount application on a registration or
// membership payment.
type UsageInput struct {
	UserID         string
	CodeID         snowflake.ID
	SeasonID       snowflake.ID
	RegistrationID *snowflake.ID
	PaymentID      *snowflake.ID
	Amount         int64
}

// AdjustInput re-books a registration's discount after a category change.
type AdjustInput struct {
	UserID         string
	CodeID         snowflake.ID
	SeasonID       snowflake.ID
	RegistrationID snowflake.ID
	AdjustmentID   snowflake.ID
	OldAmount      int64
	NewAmount      int64
}

// Quote resolves the code and caps the requested discount against the
// user's remaining allowance for the season.
func (s *Service) Quote(ctx context.Context, userID string, seasonID snowflake.ID, code string, gross int64) (*discountdomain.Quote, error) {
	item, err := s.repo.FindCodeByText(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, discountdomain.ErrDiscountCodeNotFound
	}
	if !item.Active {
		return nil, discountdomain.ErrDiscountCodeInactive
	}
	category, err := s.repo.FindCategory(ctx, s.db, item.DiscountCategoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, discountdomain.ErrDiscountCategoryNotFound
	}

	requested := RequestedAmount(*item, gross)
	sum, err := s.repo.SumUsage(ctx, s.db, userID, category.ID, seasonID)
	if err != nil {
		return nil, err
	}
	used := UsedFromSum(sum)

	return &discountdomain.Quote{
		Code:      *item,
		Category:  *category,
		Requested: requested,
		Applied:   ApplyCap(category.MaxDiscountPerUserPerSeason, used, requested),
		Used:      used,
	}, nil
}

// QuoteByID prices a known code for a registration that already holds
// `held` cents of the same category's allowance.
func (s *Service) QuoteByID(ctx context.Context, userID string, seasonID snowflake.ID, codeID snowflake.ID, gross int64, held int64) (*discountdomain.Quote, error) {
	item, err := s.repo.FindCode(ctx, s.db, codeID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, discountdomain.ErrDiscountCodeNotFound
	}
	category, err := s.repo.FindCategory(ctx, s.db, item.DiscountCategoryID)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, discountdomain.ErrDiscountCategoryNotFound
	}

	sum, err := s.repo.SumUsage(ctx, s.db, userID, category.ID, seasonID)
	if err != nil {
		return nil, err
	}
	used := UsedFromSum(sum) - held
	if used < 0 {
		used = 0
	}
	requested := RequestedAmount(*item, gross)

	return &discountdomain.Quote{
		Code:      *item,
		Category:  *category,
		Requested: requested,
		Applied:   ApplyCap(category.MaxDiscountPerUserPerSeason, used, requested),
		Used:      used,
	}, nil
}

// RecordUsage appends a negative usage row once per payment, falling back to
// (user, code, registration) or (user, code, season) when no payment is known.
func (s *Service) RecordUsage(ctx context.Context, db *gorm.DB, in UsageInput) (bool, error) {
	if db == nil {
		db = s.db
	}
	if strings.TrimSpace(in.UserID) == "" || in.CodeID == 0 || in.Amount <= 0 {
		return false, discountdomain.ErrInvalidUsage
	}

	exists, err := s.repo.HasUsage(ctx, db, discountdomain.UsageKey{
		UserID:         in.UserID,
		CodeID:         in.CodeID,
		SeasonID:       in.SeasonID,
		RegistrationID: in.RegistrationID,
		PaymentID:      in.PaymentID,
	})
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	code, err := s.repo.FindCode(ctx, db, in.CodeID)
	if err != nil {
		return false, err
	}
	if code == nil {
		return false, discountdomain.ErrDiscountCodeNotFound
	}

	usage := &discountdomain.DiscountUsage{
		ID:                 s.genID.Generate(),
		UserID:             in.UserID,
		DiscountCodeID:     code.ID,
		DiscountCategoryID: code.DiscountCategoryID,
		SeasonID:           in.SeasonID,
		RegistrationID:     in.RegistrationID,
		PaymentID:          in.PaymentID,
		AmountSaved:        -in.Amount,
		CreatedAt:          s.clock.Now(),
	}
	inserted, err := s.repo.InsertUsage(ctx, db, usage)
	if err != nil {
		return false, fmt.Errorf("record discount usage: %w", err)
	}
	return inserted, nil
}

// AdjustUsage books the difference between a registration's old and new
// discount, once per adjustment id. A larger new discount consumes more of
// the allowance.
func (s *Service) AdjustUsage(ctx context.Context, db *gorm.DB, in AdjustInput) (bool, error) {
	if db == nil {
		db = s.db
	}
	if in.NewAmount == in.OldAmount {
		return false, nil
	}
	if strings.TrimSpace(in.UserID) == "" || in.CodeID == 0 || in.AdjustmentID == 0 || in.OldAmount < 0 || in.NewAmount < 0 {
		return false, discountdomain.ErrInvalidUsage
	}
	code, err := s.repo.FindCode(ctx, db, in.CodeID)
	if err != nil {
		return false, err
	}
	if code == nil {
		return false, discountdomain.ErrDiscountCodeNotFound
	}

	regID := in.RegistrationID
	adjustmentID := in.AdjustmentID
	inserted, err := s.repo.InsertUsage(ctx, db, &discountdomain.DiscountUsage{
		ID:                 s.genID.Generate(),
		UserID:             in.UserID,
		DiscountCodeID:     code.ID,
		DiscountCategoryID: code.DiscountCategoryID,
		SeasonID:           in.SeasonID,
		RegistrationID:     &regID,
		AdjustmentID:       &adjustmentID,
		AmountSaved:        in.OldAmount - in.NewAmount,
		CreatedAt:          s.clock.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("adjust discount usage: %w", err)
	}
	return inserted, nil
}

// RestoreForRefund appends a positive reversing row keyed by refund id.
func (s *Service) RestoreForRefund(ctx context.Context, db *gorm.DB, userID string, codeID snowflake.ID, seasonID snowflake.ID, refundID snowflake.ID, amount int64) error {
	if db == nil {
		db = s.db
	}
	if amount <= 0 || refundID == 0 {
		return discountdomain.ErrInvalidUsage
	}
	code, err := s.repo.FindCode(ctx, db, codeID)
	if err != nil {
		return err
	}
	if code == nil {
		return discountdomain.ErrDiscountCodeNotFound
	}

	inserted, err := s.repo.InsertUsage(ctx, db, &discountdomain.DiscountUsage{
		ID:                 s.genID.Generate(),
		UserID:             userID,
		DiscountCodeID:     code.ID,
		DiscountCategoryID: code.DiscountCategoryID,
		SeasonID:           seasonID,
		RefundID:           &refundID,
		AmountSaved:        amount,
		CreatedAt:          s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("restore discount usage: %w", err)
	}
	if !inserted {
		s.log.Debug("discount usage already restored", zap.String("refund_id", refundID.String()))
	}
	return nil
}

func (s *Service) FindCode(ctx context.Context, id snowflake.ID) (*discountdomain.DiscountCode, error) {
	return s.repo.FindCode(ctx, s.db, id)
}

func (s *Service) FindCategory(ctx context.Context, id snowflake.ID) (*discountdomain.DiscountCategory, error) {
	return s.repo.FindCategory(ctx, s.db, id)
}

// RequestedAmount is the discount the code grants on gross before any cap.
func RequestedAmount(code discountdomain.DiscountCode, gross int64) int64 {
	if gross <= 0 {
		return 0
	}
	var amount int64
	switch {
	case code.AmountOffCents != nil:
		amount = *code.AmountOffCents
	case code.PercentOff != nil:
		amount = gross * int64(*code.PercentOff) / 100
	}
	if amount < 0 {
		return 0
	}
	if amount > gross {
		return gross
	}
	return amount
}

// UsedFromSum converts the signed ledger sum into consumed capacity.
func UsedFromSum(sum int64) int64 {
	if sum >= 0 {
		return 0
	}
	return -sum
}

// ApplyCap limits requested to what remains under the per-season cap.
// A nil cap means unlimited.
func ApplyCap(capCents *int64, used int64, requested int64) int64 {
	if requested <= 0 {
		return 0
	}
	if capCents == nil {
		return requested
	}
	remaining := *capCents - used
	if remaining <= 0 {
		return 0
	}
	if requested > remaining {
		return remaining
	}
	return requested
}

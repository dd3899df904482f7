package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/discount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCode(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DiscountCode, error) {
	var item domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT id, discount_category_id, code, percent_off, amount_off_cents, active, created_at
		 FROM discount_codes
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindCodeByText(ctx context.Context, db *gorm.DB, code string) (*domain.DiscountCode, error) {
	var item domain.DiscountCode
	err := db.WithContext(ctx).Raw(
		`SELECT id, discount_category_id, code, percent_off, amount_off_cents, active, created_at
		 FROM discount_codes
		 WHERE LOWER(code) = ?
		 LIMIT 1`,
		strings.ToLower(strings.TrimSpace(code)),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindCategory(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.DiscountCategory, error) {
	var item domain.DiscountCategory
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, accounting_code, max_discount_per_user_per_season, created_at
		 FROM discount_categories
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SumUsage(ctx context.Context, db *gorm.DB, userID string, categoryID snowflake.ID, seasonID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_saved), 0)
		 FROM discount_usage
		 WHERE user_id = ? AND discount_category_id = ? AND season_id = ?`,
		userID,
		categoryID,
		seasonID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) HasUsage(ctx context.Context, db *gorm.DB, key domain.UsageKey) (bool, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.DiscountUsage{}).
		Where("user_id = ? AND discount_code_id = ? AND refund_id IS NULL AND adjustment_id IS NULL", key.UserID, key.CodeID)
	switch {
	case key.PaymentID != nil:
		stmt = stmt.Where("payment_id = ?", *key.PaymentID)
	case key.RegistrationID != nil:
		stmt = stmt.Where("registration_id = ?", *key.RegistrationID)
	default:
		stmt = stmt.Where("registration_id IS NULL AND season_id = ?", key.SeasonID)
	}
	if err := stmt.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.DiscountUsage) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO discount_usage (
			id, user_id, discount_code_id, discount_category_id, season_id,
			registration_id, payment_id, refund_id, adjustment_id, amount_saved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		usage.ID,
		usage.UserID,
		usage.DiscountCodeID,
		usage.DiscountCategoryID,
		usage.SeasonID,
		usage.RegistrationID,
		usage.PaymentID,
		usage.RefundID,
		usage.AdjustmentID,
		usage.AmountSaved,
		usage.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

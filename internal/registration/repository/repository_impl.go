package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/registration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindSeason(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Season, error) {
	var item domain.Season
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, starts_at, ends_at, created_at
		 FROM seasons
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

func (r *repo) FindCategory(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Category, error) {
	var item domain.Category
	err := db.WithContext(ctx).Raw(
		`SELECT id, season_id, kind, name, price_cents, accounting_code, max_capacity,
			created_at, updated_at
		 FROM categories
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

func (r *repo) FindRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Registration, error) {
	var item domain.Registration
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, season_id, category_id, status, payment_id,
			amount_paid_cents, discount_cents, discount_code_id, created_at, updated_at
		 FROM registrations
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

// CountOccupied counts registrations holding a seat in the category.
func (r *repo) CountOccupied(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM registrations
		 WHERE category_id = ? AND status IN (?, ?, ?)`,
		categoryID,
		domain.RegistrationStatusAwaitingPayment,
		domain.RegistrationStatusProcessing,
		domain.RegistrationStatusPaid,
	).Scan(&count).Error
	return count, err
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID snowflake.ID, amountPaid int64, discount int64, discountCodeID *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET status = ?, payment_id = ?, amount_paid_cents = ?, discount_cents = ?,
			discount_code_id = COALESCE(?, discount_code_id), updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.RegistrationStatusPaid,
		paymentID,
		amountPaid,
		discount,
		discountCodeID,
		now,
		id,
		domain.RegistrationStatusPaid,
	).Error
}

// MarkFailed never downgrades a paid registration.
func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.RegistrationStatusFailed,
		now,
		id,
		domain.RegistrationStatusAwaitingPayment,
		domain.RegistrationStatusProcessing,
	).Error
}

func (r *repo) MoveCategory(ctx context.Context, db *gorm.DB, id snowflake.ID, categoryID snowflake.ID, amountPaid int64, discount int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE registrations
		 SET category_id = ?, amount_paid_cents = ?, discount_cents = ?, updated_at = ?
		 WHERE id = ?`,
		categoryID,
		amountPaid,
		discount,
		now,
		id,
	).Error
}

func (r *repo) InsertMembership(ctx context.Context, db *gorm.DB, membership *domain.Membership) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO memberships (
			id, user_id, season_id, category_id, payment_id, stripe_payment_intent_id,
			valid_from, valid_until, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_payment_intent_id) DO NOTHING`,
		membership.ID,
		membership.UserID,
		membership.SeasonID,
		membership.CategoryID,
		membership.PaymentID,
		membership.StripePaymentIntentID,
		membership.ValidFrom,
		membership.ValidUntil,
		membership.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindMembershipByIntent(ctx context.Context, db *gorm.DB, intentID string) (*domain.Membership, error) {
	var item domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, season_id, category_id, payment_id, stripe_payment_intent_id,
			valid_from, valid_until, created_at
		 FROM memberships
		 WHERE stripe_payment_intent_id = ?
		 LIMIT 1`,
		intentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

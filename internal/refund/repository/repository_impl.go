package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/refund/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const refundColumns = `id, payment_id, user_id, type, amount_cents, discount_code_id, reason, status,
	staging_invoice_id, stripe_refund_id, failure_reason, created_by, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (`+refundColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.UserID,
		refund.Type,
		refund.AmountCents,
		refund.DiscountCodeID,
		refund.Reason,
		refund.Status,
		refund.StagingInvoiceID,
		refund.StripeRefundID,
		refund.FailureReason,
		refund.CreatedBy,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Refund, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByProviderID(ctx context.Context, db *gorm.DB, providerRefundID string) (*domain.Refund, error) {
	providerRefundID = strings.TrimSpace(providerRefundID)
	if providerRefundID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `stripe_refund_id = ?`, providerRefundID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT `+refundColumns+`
		 FROM refunds
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// SumCommitted totals refunds that hold part of the payment's balance.
func (r *repo) SumCommitted(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_cents), 0)
		 FROM refunds
		 WHERE payment_id = ? AND status NOT IN (?, ?)`,
		paymentID,
		domain.StatusFailed,
		domain.StatusCancelled,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetProviderRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, providerRefundID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET stripe_refund_id = ?, updated_at = ?
		 WHERE id = ? AND stripe_refund_id IS NULL`,
		providerRefundID,
		now,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		domain.StatusFailed,
		reason,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/payment/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, user_id, kind, registration_id, membership_category_id, amount_cents,
	discount_cents, discount_code_id, currency, status, stripe_payment_intent_id,
	failure_reason, completed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, user_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, user_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.UserID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.UserID,
		payment.Kind,
		payment.RegistrationID,
		payment.MembershipCategoryID,
		payment.AmountCents,
		payment.DiscountCents,
		payment.DiscountCodeID,
		payment.Currency,
		payment.Status,
		payment.StripePaymentIntentID,
		payment.FailureReason,
		payment.CompletedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
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

func (r *repo) FindPaymentByIntent(ctx context.Context, db *gorm.DB, intentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
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

func (r *repo) AttachIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET stripe_payment_intent_id = ?, updated_at = ?
		 WHERE id = ? AND stripe_payment_intent_id IS NULL`,
		intentID,
		now,
		id,
	).Error
}

// MarkCompleted reports false when the payment was already completed.
func (r *repo) MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, completedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, amount_cents = ?, completed_at = ?, failure_reason = NULL, updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.PaymentStatusCompleted,
		amount,
		completedAt,
		completedAt,
		id,
		domain.PaymentStatusCompleted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed never downgrades a completed payment.
func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		domain.PaymentStatusFailed,
		reason,
		now,
		id,
		domain.PaymentStatusCompleted,
		domain.PaymentStatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

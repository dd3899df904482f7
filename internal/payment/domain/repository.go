package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByIntent(ctx context.Context, db *gorm.DB, intentID string) (*Payment, error)
	AttachIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) error
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, amount int64, completedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrRegistrationNotFound = errors.New("registration_not_found")
	ErrCategoryNotFound     = errors.New("category_not_found")
	ErrSeasonNotFound       = errors.New("season_not_found")
	ErrCategoryFull         = errors.New("category_full")
	ErrCategoryMismatch     = errors.New("category_season_mismatch")
	ErrSameCategory         = errors.New("same_category")
	ErrRegistrationNotPaid  = errors.New("registration_not_paid")
	ErrInvalidRequest       = errors.New("invalid_registration_request")
)

// Repository reads and mutates registration rows. All methods take the
// handle to run against so callers can compose them inside a transaction.
type Repository interface {
	FindSeason(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Season, error)
	FindCategory(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Category, error)
	FindRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Registration, error)
	CountOccupied(ctx context.Context, db *gorm.DB, categoryID snowflake.ID) (int64, error)

	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentID snowflake.ID, amountPaid int64, discount int64, discountCodeID *snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	MoveCategory(ctx context.Context, db *gorm.DB, id snowflake.ID, categoryID snowflake.ID, amountPaid int64, discount int64, now time.Time) error

	InsertMembership(ctx context.Context, db *gorm.DB, membership *Membership) (bool, error)
	FindMembershipByIntent(ctx context.Context, db *gorm.DB, intentID string) (*Membership, error)
}

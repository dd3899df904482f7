package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/dbtest"
	discountdomain "github.com/smallbiznis/registrar/internal/discount/domain"
	"github.com/smallbiznis/registrar/internal/discount/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	svc      *Service
	node     *snowflake.Node
	seasonID snowflake.ID
	category snowflake.ID
	codeID   snowflake.ID
}

func newFixture(t *testing.T, capCents *int64) fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)),
	})

	f := fixture{db: db, svc: svc, node: node, seasonID: node.Generate(), category: node.Generate(), codeID: node.Generate()}
	require.NoError(t, db.Exec(
		`INSERT INTO discount_categories (id, name, accounting_code, max_discount_per_user_per_season, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.category, "Sibling", "4100", capCents, time.Now().UTC(),
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO discount_codes (id, discount_category_id, code, amount_off_cents, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.codeID, f.category, "SIBLING20", int64(2000), true, time.Now().UTC(),
	).Error)
	return f
}

func TestApplyCap(t *testing.T) {
	capCents := int64(5000)
	cases := []struct {
		name      string
		cap       *int64
		used      int64
		requested int64
		want      int64
	}{
		{name: "partially_capped", cap: &capCents, used: 4000, requested: 2000, want: 1000},
		{name: "under_cap", cap: &capCents, used: 1000, requested: 2000, want: 2000},
		{name: "exhausted", cap: &capCents, used: 5000, requested: 2000, want: 0},
		{name: "over_consumed", cap: &capCents, used: 7000, requested: 2000, want: 0},
		{name: "unlimited", cap: nil, used: 9000, requested: 2000, want: 2000},
		{name: "nothing_requested", cap: &capCents, used: 0, requested: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ApplyCap(tc.cap, tc.used, tc.requested))
		})
	}
}

func TestRequestedAmount(t *testing.T) {
	percent := 25
	amount := int64(9000)
	assert.Equal(t, int64(2500), RequestedAmount(discountdomain.DiscountCode{PercentOff: &percent}, 10000))
	assert.Equal(t, int64(5000), RequestedAmount(discountdomain.DiscountCode{AmountOffCents: &amount}, 5000))
	assert.Equal(t, int64(0), RequestedAmount(discountdomain.DiscountCode{}, 5000))
}

func TestQuoteCapsAgainstExistingUsage(t *testing.T) {
	capCents := int64(5000)
	f := newFixture(t, &capCents)
	ctx := context.Background()

	regID := f.node.Generate()
	inserted, err := f.svc.RecordUsage(ctx, nil, UsageInput{
		UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, RegistrationID: &regID, Amount: 4000,
	})
	require.NoError(t, err)
	require.True(t, inserted)

	quote, err := f.svc.Quote(ctx, "user_1", f.seasonID, "sibling20", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), quote.Requested)
	assert.Equal(t, int64(4000), quote.Used)
	assert.Equal(t, int64(1000), quote.Applied)

	_, err = f.svc.Quote(ctx, "user_1", f.seasonID, "nope", 10000)
	assert.ErrorIs(t, err, discountdomain.ErrDiscountCodeNotFound)
}

func TestRecordUsageIsIdempotentPerRegistration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	regID := f.node.Generate()
	in := UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, RegistrationID: &regID, Amount: 1500}

	first, err := f.svc.RecordUsage(ctx, nil, in)
	require.NoError(t, err)
	second, err := f.svc.RecordUsage(ctx, nil, in)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	var rows int64
	require.NoError(t, f.db.Model(&discountdomain.DiscountUsage{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRestoreForRefundInsertsPositiveEntry(t *testing.T) {
	capCents := int64(5000)
	f := newFixture(t, &capCents)
	ctx := context.Background()
	regID := f.node.Generate()

	_, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, RegistrationID: &regID, Amount: 2000})
	require.NoError(t, err)

	refundID := f.node.Generate()
	require.NoError(t, f.svc.RestoreForRefund(ctx, nil, "user_1", f.codeID, f.seasonID, refundID, 1200))
	require.NoError(t, f.svc.RestoreForRefund(ctx, nil, "user_1", f.codeID, f.seasonID, refundID, 1200))

	var restored discountdomain.DiscountUsage
	require.NoError(t, f.db.Where("refund_id = ?", refundID).First(&restored).Error)
	assert.Equal(t, int64(1200), restored.AmountSaved)

	quote, err := f.svc.Quote(ctx, "user_1", f.seasonID, "SIBLING20", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(800), quote.Used)
}

func TestQuoteByIDReleasesHeldAllowance(t *testing.T) {
	capCents := int64(3000)
	f := newFixture(t, &capCents)
	ctx := context.Background()
	regID := f.node.Generate()

	_, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, RegistrationID: &regID, Amount: 2000})
	require.NoError(t, err)

	quote, err := f.svc.QuoteByID(ctx, "user_1", f.seasonID, f.codeID, 12000, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.Used)
	assert.Equal(t, int64(2000), quote.Applied)
}

func TestRecordUsageMembershipsAcrossSeasons(t *testing.T) {
	capCents := int64(2500)
	f := newFixture(t, &capCents)
	ctx := context.Background()
	nextSeason := f.node.Generate()

	first, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, Amount: 2000})
	require.NoError(t, err)
	second, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: nextSeason, Amount: 2000})
	require.NoError(t, err)
	assert.True(t, first)
	assert.True(t, second)

	replay, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: nextSeason, Amount: 2000})
	require.NoError(t, err)
	assert.False(t, replay)

	quote, err := f.svc.Quote(ctx, "user_1", nextSeason, "SIBLING20", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), quote.Used)
	assert.Equal(t, int64(500), quote.Applied)
}

func TestRecordUsageKeysOnPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	firstPayment := f.node.Generate()
	secondPayment := f.node.Generate()

	for _, paymentID := range []snowflake.ID{firstPayment, secondPayment, firstPayment} {
		id := paymentID
		_, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, PaymentID: &id, Amount: 1000})
		require.NoError(t, err)
	}

	var rows int64
	require.NoError(t, f.db.Model(&discountdomain.DiscountUsage{}).Count(&rows).Error)
	assert.Equal(t, int64(2), rows)
}

func TestAdjustUsageBooksDelta(t *testing.T) {
	capCents := int64(5000)
	f := newFixture(t, &capCents)
	ctx := context.Background()
	regID := f.node.Generate()

	_, err := f.svc.RecordUsage(ctx, nil, UsageInput{UserID: "user_1", CodeID: f.codeID, SeasonID: f.seasonID, RegistrationID: &regID, Amount: 2000})
	require.NoError(t, err)

	in := AdjustInput{
		UserID:         "user_1",
		CodeID:         f.codeID,
		SeasonID:       f.seasonID,
		RegistrationID: regID,
		AdjustmentID:   f.node.Generate(),
		OldAmount:      2000,
		NewAmount:      500,
	}
	inserted, err := f.svc.AdjustUsage(ctx, nil, in)
	require.NoError(t, err)
	assert.True(t, inserted)
	replayed, err := f.svc.AdjustUsage(ctx, nil, in)
	require.NoError(t, err)
	assert.False(t, replayed)

	quote, err := f.svc.Quote(ctx, "user_1", f.seasonID, "SIBLING20", 10000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), quote.Used)

	unchanged, err := f.svc.AdjustUsage(ctx, nil, AdjustInput{UserID: "user_1", CodeID: f.codeID, OldAmount: 500, NewAmount: 500})
	require.NoError(t, err)
	assert.False(t, unchanged)
}

package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/dbtest"
	discountrepository "github.com/smallbiznis/registrar/internal/discount/repository"
	discountservice "github.com/smallbiznis/registrar/internal/discount/service"
	"github.com/smallbiznis/registrar/internal/payment/adapters"
	"github.com/smallbiznis/registrar/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/registrar/internal/payment/repository"
	paymentservice "github.com/smallbiznis/registrar/internal/payment/service"
	paymentwebhook "github.com/smallbiznis/registrar/internal/payment/webhook"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	refundrepository "github.com/smallbiznis/registrar/internal/refund/repository"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	regrepository "github.com/smallbiznis/registrar/internal/registration/repository"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingrepository "github.com/smallbiznis/registrar/internal/staging/repository"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	webhookSecret = "whsec_test"
	testTenant    = "tenant-1"
)

type stubGateway struct{}

func (stubGateway) CreateRefund(_ context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{ProviderRefundID: "re_" + req.Metadata["refundId"], Status: paymentdomain.RefundStatePending}, nil
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	webhook *paymentwebhook.Service
	staging *stagingservice.Service
	refunds *refundservice.Service
	season  snowflake.ID
	codeID  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)

	discountSvc := discountservice.NewService(discountservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  discountrepository.Provide(),
		Clock: clk,
	})
	staging := stagingservice.NewService(stagingservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Repo:             stagingrepository.Provide(),
		RegistrationRepo: regrepository.Provide(),
		PaymentRepo:      paymentrepo.Provide(),
		DiscountSvc:      discountSvc,
		AccountingConfig: config.NewStaticAccountingConfigHolder(config.DefaultAccountingConfig()),
		Clock:            clk,
	})
	refunds := refundservice.NewService(refundservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Repo:             refundrepository.Provide(),
		PaymentRepo:      paymentrepo.Provide(),
		RegistrationRepo: regrepository.Provide(),
		Staging:          staging,
		Gateway:          stubGateway{},
		Clock:            clk,
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Repo:             paymentrepo.Provide(),
		RegistrationRepo: regrepository.Provide(),
		Staging:          staging,
		DiscountSvc:      discountSvc,
		RefundSvc:        refunds,
		Clock:            clk,
	})
	registry := adapters.NewRegistry(stripe.NewFactory())
	require.NoError(t, registry.Configure(paymentdomain.AdapterConfig{
		Provider: "stripe",
		Config:   map[string]any{"webhook_secret": webhookSecret},
	}))
	webhookSvc := paymentwebhook.NewService(paymentwebhook.Params{
		Log:        log,
		PaymentSvc: paymentSvc,
		Adapters:   registry,
	})

	f := &fixture{db: db, node: node, clock: clk, webhook: webhookSvc, staging: staging, refunds: refunds, season: node.Generate(), codeID: node.Generate()}
	now := clk.Now()
	discCat := node.Generate()
	require.NoError(t, db.Exec(
		`INSERT INTO seasons (id, name, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.season, "2026", now, now.AddDate(0, 6, 0), now,
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO discount_categories (id, name, accounting_code, max_discount_per_user_per_season, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		discCat, "Sibling", "4900", int64(5000), now,
	).Error)
	require.NoError(t, db.Exec(
		`INSERT INTO discount_codes (id, discount_category_id, code, amount_off_cents, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.codeID, discCat, "SIBLING", int64(2000), true, now,
	).Error)
	return f
}

func (f *fixture) category(t *testing.T, kind regdomain.CategoryKind, price int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(t, f.db.Exec(
		`INSERT INTO categories (id, season_id, kind, name, price_cents, accounting_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, f.season, kind, "Category "+id.String(), price, "4000", now, now,
	).Error)
	return id
}

func (f *fixture) registration(t *testing.T, userID string, categoryID snowflake.ID, status regdomain.RegistrationStatus, paid int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(t, f.db.Exec(
		`INSERT INTO registrations (id, user_id, season_id, category_id, status, amount_paid_cents, discount_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, f.season, categoryID, status, paid, int64(0), now, now,
	).Error)
	return id
}

type paymentSeed struct {
	userID     string
	kind       paymentdomain.PaymentKind
	regID      *snowflake.ID
	membership *snowflake.ID
	amount     int64
	discount   int64
	codeID     *snowflake.ID
	status     paymentdomain.PaymentStatus
	intent     string
}

func (f *fixture) payment(t *testing.T, seed paymentSeed) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := f.clock.Now()
	status := seed.status
	if status == "" {
		status = paymentdomain.PaymentStatusProcessing
	}
	var intent *string
	if seed.intent != "" {
		intent = &seed.intent
	}
	require.NoError(t, f.db.Exec(
		`INSERT INTO payments (id, user_id, kind, registration_id, membership_category_id, amount_cents, discount_cents, discount_code_id, currency, status, stripe_payment_intent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, seed.userID, seed.kind, seed.regID, seed.membership, seed.amount, seed.discount, seed.codeID, "aud", status, intent, now, now,
	).Error)
	return id
}

func (f *fixture) deliver(t *testing.T, event map[string]any) error {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader(webhookSecret, payload, time.Now().Unix()))
	return f.webhook.IngestWebhook(context.Background(), "stripe", payload, headers)
}

func intentEvent(eventID string, eventType string, intentID string, amount int64, metadata map[string]any) map[string]any {
	return map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              intentID,
				"amount":          amount,
				"amount_received": amount,
				"currency":        "aud",
				"metadata":        metadata,
			},
		},
	}
}

func (f *fixture) count(t *testing.T, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(query, args...).Scan(&n).Error)
	return n
}

func (f *fixture) loadPayment(t *testing.T, id snowflake.ID) *paymentdomain.Payment {
	t.Helper()
	payment, err := paymentrepo.Provide().FindPayment(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return payment
}

func (f *fixture) loadRegistration(t *testing.T, id snowflake.ID) *regdomain.Registration {
	t.Helper()
	reg, err := regrepository.Provide().FindRegistration(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, reg)
	return reg
}

func TestRegistrationPaymentSucceededIsIdempotent(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	regID := f.registration(t, "user-1", cat, regdomain.RegistrationStatusProcessing, 0)
	paymentID := f.payment(t, paymentSeed{
		userID:   "user-1",
		kind:     paymentdomain.PaymentKindRegistration,
		regID:    &regID,
		amount:   8000,
		discount: 2000,
		codeID:   &f.codeID,
	})

	event := intentEvent("evt_1", "payment_intent.succeeded", "pi_1", 8000, map[string]any{
		"userId":         "user-1",
		"paymentId":      paymentID.String(),
		"registrationId": regID.String(),
		"kind":           "registration",
	})
	require.NoError(t, f.deliver(t, event))
	assert.ErrorIs(t, f.deliver(t, event), paymentdomain.ErrEventAlreadyProcessed)

	payment := f.loadPayment(t, paymentID)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, "pi_1", payment.IntentID())
	require.NotNil(t, payment.CompletedAt)

	reg := f.loadRegistration(t, regID)
	assert.Equal(t, regdomain.RegistrationStatusPaid, reg.Status)
	require.NotNil(t, reg.PaymentID)
	assert.Equal(t, paymentID, *reg.PaymentID)
	assert.Equal(t, int64(8000), reg.AmountPaidCents)

	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ?`, "user-1"))
	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM xero_invoices WHERE payment_id = ?`, paymentID))
	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`))

	// A second delivery of the same intent under a new event id changes nothing.
	event["id"] = "evt_2"
	require.NoError(t, f.deliver(t, event))
	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ?`, "user-1"))
	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM xero_invoices WHERE payment_id = ?`, paymentID))

	invoice, err := f.staging.FindForPayment(context.Background(), paymentID, stagingdomain.ReasonNewRegistration)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	assert.Equal(t, stagingdomain.StatusPending, invoice.Status)
	assert.Equal(t, int64(8000), invoice.NetAmount)
}

func TestMembershipPaymentCreatesSingleMembership(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, regdomain.CategoryKindMembership, 5000)
	paymentID := f.payment(t, paymentSeed{
		userID:     "user-2",
		kind:       paymentdomain.PaymentKindMembership,
		membership: &cat,
		amount:     5000,
		intent:     "pi_m",
	})

	metadata := map[string]any{"userId": "user-2", "kind": "membership"}
	require.NoError(t, f.deliver(t, intentEvent("evt_m1", "payment_intent.succeeded", "pi_m", 5000, metadata)))
	require.NoError(t, f.deliver(t, intentEvent("evt_m2", "payment_intent.succeeded", "pi_m", 5000, metadata)))

	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM memberships WHERE stripe_payment_intent_id = ?`, "pi_m"))
	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM xero_invoices WHERE payment_id = ?`, paymentID))
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, f.loadPayment(t, paymentID).Status)
}

func TestMembershipDiscountRecordedEachSeason(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	nextSeason := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO seasons (id, name, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		nextSeason, "2027", now.AddDate(1, 0, 0), now.AddDate(1, 6, 0), now,
	).Error)
	thisYear := f.category(t, regdomain.CategoryKindMembership, 5000)
	nextYear := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO categories (id, season_id, kind, name, price_cents, accounting_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nextYear, nextSeason, regdomain.CategoryKindMembership, "Membership 2027", int64(5000), "4000", now, now,
	).Error)

	for i, cat := range []snowflake.ID{thisYear, nextYear} {
		membership := cat
		intent := fmt.Sprintf("pi_ms_%d", i)
		f.payment(t, paymentSeed{
			userID:     "user-7",
			kind:       paymentdomain.PaymentKindMembership,
			membership: &membership,
			amount:     3000,
			discount:   2000,
			codeID:     &f.codeID,
			intent:     intent,
		})
		metadata := map[string]any{"userId": "user-7", "kind": "membership"}
		require.NoError(t, f.deliver(t, intentEvent("evt_ms_"+intent, "payment_intent.succeeded", intent, 3000, metadata)))
	}

	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ? AND season_id = ?`, "user-7", f.season))
	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ? AND season_id = ?`, "user-7", nextSeason))
}

func TestPaymentFailedMarksRecords(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	regID := f.registration(t, "user-3", cat, regdomain.RegistrationStatusProcessing, 0)
	paymentID := f.payment(t, paymentSeed{
		userID: "user-3",
		kind:   paymentdomain.PaymentKindRegistration,
		regID:  &regID,
		amount: 10000,
		intent: "pi_f",
	})

	event := intentEvent("evt_f", "payment_intent.payment_failed", "pi_f", 10000, map[string]any{"userId": "user-3"})
	event["data"].(map[string]any)["object"].(map[string]any)["last_payment_error"] = map[string]any{"message": "Your card was declined."}
	require.NoError(t, f.deliver(t, event))

	payment := f.loadPayment(t, paymentID)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)
	assert.Equal(t, "Your card was declined.", *payment.FailureReason)
	assert.Equal(t, regdomain.RegistrationStatusFailed, f.loadRegistration(t, regID).Status)
	assert.Equal(t, int64(0), f.count(t, `SELECT COUNT(*) FROM xero_invoices`))
}

func TestPaymentFailedNeverDowngradesCompleted(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	regID := f.registration(t, "user-4", cat, regdomain.RegistrationStatusProcessing, 0)
	paymentID := f.payment(t, paymentSeed{
		userID: "user-4",
		kind:   paymentdomain.PaymentKindRegistration,
		regID:  &regID,
		amount: 10000,
		intent: "pi_d",
	})

	require.NoError(t, f.deliver(t, intentEvent("evt_ok", "payment_intent.succeeded", "pi_d", 10000, nil)))
	require.NoError(t, f.deliver(t, intentEvent("evt_late_fail", "payment_intent.payment_failed", "pi_d", 10000, nil)))

	assert.Equal(t, paymentdomain.PaymentStatusCompleted, f.loadPayment(t, paymentID).Status)
	assert.Equal(t, regdomain.RegistrationStatusPaid, f.loadRegistration(t, regID).Status)
}

func TestCategoryChangePaymentPromotesDraftsAndMovesRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldCat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	newCat := f.category(t, regdomain.CategoryKindRegistration, 15000)
	regID := f.registration(t, "user-5", oldCat, regdomain.RegistrationStatusPaid, 10000)

	change, err := f.staging.ChangeCategory(ctx, testTenant, stagingservice.ChangeRequest{RegistrationID: regID, NewCategoryID: newCat})
	require.NoError(t, err)
	require.Equal(t, stagingservice.ChangeKindUpgrade, change.Kind)
	require.NotNil(t, change.Invoice)
	assert.Equal(t, stagingdomain.StatusDraft, change.Invoice.Status)

	paymentID := f.payment(t, paymentSeed{
		userID: "user-5",
		kind:   paymentdomain.PaymentKindCategoryChange,
		regID:  &regID,
		amount: change.AmountToCharge,
		intent: "pi_cc",
	})
	require.NoError(t, f.staging.AttachPayment(ctx, change.Invoice.ID, paymentID))

	require.NoError(t, f.deliver(t, intentEvent("evt_cc", "payment_intent.succeeded", "pi_cc", change.AmountToCharge, nil)))

	invoice, err := f.staging.Get(ctx, change.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, stagingdomain.StatusPending, invoice.Status)

	reg := f.loadRegistration(t, regID)
	assert.Equal(t, newCat, reg.CategoryID)
	assert.Equal(t, int64(15000), reg.AmountPaidCents)
}

func TestCategoryChangePaymentRebooksDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	oldCat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	newCat := f.category(t, regdomain.CategoryKindRegistration, 15000)
	regID := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO registrations (id, user_id, season_id, category_id, status, amount_paid_cents, discount_cents, discount_code_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		regID, "user-8", f.season, oldCat, regdomain.RegistrationStatusPaid, int64(9000), int64(1000), f.codeID, now, now,
	).Error)
	require.NoError(t, f.db.Exec(
		`INSERT INTO discount_usage (id, user_id, discount_code_id, discount_category_id, season_id, registration_id, amount_saved, created_at)
		 SELECT ?, ?, id, discount_category_id, ?, ?, ?, ? FROM discount_codes WHERE id = ?`,
		f.node.Generate(), "user-8", f.season, regID, int64(-1000), now, f.codeID,
	).Error)

	change, err := f.staging.ChangeCategory(ctx, testTenant, stagingservice.ChangeRequest{RegistrationID: regID, NewCategoryID: newCat})
	require.NoError(t, err)
	require.Equal(t, stagingservice.ChangeKindUpgrade, change.Kind)
	require.Equal(t, int64(2000), change.NewDiscount)

	paymentID := f.payment(t, paymentSeed{
		userID: "user-8",
		kind:   paymentdomain.PaymentKindCategoryChange,
		regID:  &regID,
		amount: change.AmountToCharge,
		intent: "pi_cc_disc",
	})
	require.NoError(t, f.staging.AttachPayment(ctx, change.Invoice.ID, paymentID))
	event := intentEvent("evt_cc_disc", "payment_intent.succeeded", "pi_cc_disc", change.AmountToCharge, nil)
	require.NoError(t, f.deliver(t, event))

	reg := f.loadRegistration(t, regID)
	assert.Equal(t, newCat, reg.CategoryID)
	assert.Equal(t, int64(2000), reg.DiscountCents)
	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ?`, "user-8"))

	// A redelivered event does not book the delta twice.
	event["id"] = "evt_cc_disc_again"
	require.NoError(t, f.deliver(t, event))
	assert.Equal(t, int64(-2000), f.count(t, `SELECT COALESCE(SUM(amount_saved), 0) FROM discount_usage WHERE user_id = ?`, "user-8"))
}

func TestRefundEventCompletesRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := f.category(t, regdomain.CategoryKindRegistration, 10000)
	regID := f.registration(t, "user-6", cat, regdomain.RegistrationStatusProcessing, 0)
	f.payment(t, paymentSeed{
		userID: "user-6",
		kind:   paymentdomain.PaymentKindRegistration,
		regID:  &regID,
		amount: 10000,
		intent: "pi_r",
	})
	require.NoError(t, f.deliver(t, intentEvent("evt_paid", "payment_intent.succeeded", "pi_r", 10000, nil)))

	reg := f.loadRegistration(t, regID)
	preview, err := f.refunds.Preview(ctx, testTenant, refundservice.PreviewRequest{
		PaymentID: *reg.PaymentID,
		Type:      refunddomain.TypeProportional,
		Amount:    2500,
	})
	require.NoError(t, err)
	refund, err := f.refunds.Confirm(ctx, preview.Refund.ID)
	require.NoError(t, err)
	require.Equal(t, refunddomain.StatusProcessing, refund.Status)

	require.NoError(t, f.deliver(t, map[string]any{
		"id":   "evt_refund",
		"type": "refund.updated",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "re_" + refund.ID.String(),
				"amount":         2500,
				"currency":       "aud",
				"status":         "succeeded",
				"payment_intent": "pi_r",
				"metadata":       map[string]any{"refundId": refund.ID.String()},
			},
		},
	}))

	settled, err := f.refunds.Get(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, refunddomain.StatusCompleted, settled.Status)

	note, err := f.staging.Get(ctx, preview.CreditNote.ID)
	require.NoError(t, err)
	assert.Equal(t, stagingdomain.StatusPending, note.Status)

	// Refunds created outside the service are acknowledged and skipped.
	require.NoError(t, f.deliver(t, map[string]any{
		"id":   "evt_foreign",
		"type": "refund.created",
		"data": map[string]any{"object": map[string]any{"id": "re_dashboard", "amount": 100, "status": "succeeded"}},
	}))
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_x","type":"payment_intent.succeeded","data":{"object":{"id":"pi_x"}}}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", buildStripeSignatureHeader("whsec_other", payload, time.Now().Unix()))

	err := f.webhook.IngestWebhook(context.Background(), "stripe", payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
	assert.Equal(t, int64(0), f.count(t, `SELECT COUNT(*) FROM payment_events`))

	err = f.webhook.IngestWebhook(context.Background(), "paypal", payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestIngestWebhookIgnoresUnhandledTypes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.deliver(t, map[string]any{
		"id":   "evt_cust",
		"type": "customer.created",
		"data": map[string]any{"object": map[string]any{"id": "cus_1"}},
	}))
	assert.Equal(t, int64(0), f.count(t, `SELECT COUNT(*) FROM payment_events`))
}

func TestUnknownPaymentLeavesEventUnprocessed(t *testing.T) {
	f := newFixture(t)
	err := f.deliver(t, intentEvent("evt_orphan", "payment_intent.succeeded", "pi_missing", 100, nil))
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
	assert.Equal(t, int64(1), f.count(t, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NULL`))
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

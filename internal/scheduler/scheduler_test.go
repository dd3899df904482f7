package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	auditrepo "github.com/smallbiznis/registrar/internal/audit/repository"
	auditservice "github.com/smallbiznis/registrar/internal/audit/service"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/dbtest"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	paymentrepo "github.com/smallbiznis/registrar/internal/payment/repository"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	regrepo "github.com/smallbiznis/registrar/internal/registration/repository"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingrepo "github.com/smallbiznis/registrar/internal/staging/repository"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const testTenant = "tenant-1"

type mockAccounting struct {
	mock.Mock
}

func (m *mockAccounting) SubmitInvoice(ctx context.Context, tenant accountingdomain.Tenant, invoice *stagingdomain.Invoice) (*accountingdomain.SubmitResult, error) {
	if len(invoice.LineItems) == 0 {
		return nil, accountingdomain.ErrEmptyDocument
	}
	args := m.Called(tenant.ID, invoice.ID)
	if res, _ := args.Get(0).(*accountingdomain.SubmitResult); res != nil {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccounting) SubmitPayment(ctx context.Context, tenant accountingdomain.Tenant, payment *stagingdomain.Payment, invoice *stagingdomain.Invoice) (*accountingdomain.SubmitResult, error) {
	args := m.Called(tenant.ID, invoice.ID, payment.Amount)
	if res, _ := args.Get(0).(*accountingdomain.SubmitResult); res != nil {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccounting) ActiveTenants(ctx context.Context) ([]accountingdomain.Tenant, error) {
	return []accountingdomain.Tenant{{ID: testTenant, Name: "Club"}}, nil
}

func (m *mockAccounting) DefaultTenant(ctx context.Context) (*accountingdomain.Tenant, error) {
	return &accountingdomain.Tenant{ID: testTenant, Name: "Club"}, nil
}

func (m *mockAccounting) Tenant(ctx context.Context, tenantID string) (*accountingdomain.Tenant, error) {
	if tenantID != testTenant {
		return nil, accountingdomain.ErrTenantNotFound
	}
	return &accountingdomain.Tenant{ID: testTenant, Name: "Club"}, nil
}

func (m *mockAccounting) BankAccountCode() string { return "090" }

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	repo       stagingdomain.Repository
	staging    *stagingservice.Service
	accounting *mockAccounting
	audit      auditdomain.Service
	sched      *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	repo := stagingrepo.Provide()

	staging := stagingservice.NewService(stagingservice.Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Repo:             repo,
		RegistrationRepo: regrepo.Provide(),
		PaymentRepo:      paymentrepo.Provide(),
		AccountingConfig: config.NewStaticAccountingConfigHolder(config.DefaultAccountingConfig()),
		Clock:            clk,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clk,
	})
	accounting := &mockAccounting{}

	sched, err := New(Params{
		DB:         db,
		Log:        log,
		Repo:       repo,
		Staging:    staging,
		Accounting: accounting,
		AuditSvc:   auditSvc,
		Clock:      clk,
		Config:     Config{BatchSize: 1, RetryDelay: 10 * time.Minute},
	})
	require.NoError(t, err)

	return &fixture{db: db, node: node, clock: clk, repo: repo, staging: staging, accounting: accounting, audit: auditSvc, sched: sched}
}

func (f *fixture) stageInvoice(t *testing.T, tenantID string, amount int64) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	ref := "REG-" + f.node.Generate().String()
	invoice := &stagingdomain.Invoice{
		ID:        f.node.Generate(),
		TenantID:  tenantID,
		Type:      stagingdomain.DocumentTypeInvoice,
		Status:    stagingdomain.StatusPending,
		Reason:    stagingdomain.ReasonNewRegistration,
		NetAmount: amount,
		Currency:  "AUD",
		UserID:    "auth0|member",
		Reference: &ref,
		Metadata:  []byte(`{"reason":"new_registration","data":{}}`),
		CreatedAt: now,
		UpdatedAt: now,
		LineItems: []stagingdomain.LineItem{{
			ID:          f.node.Generate(),
			Position:    1,
			Description: "Senior registration",
			Quantity:    1,
			UnitAmount:  amount,
			LineAmount:  amount,
			AccountCode: "4000",
			TaxType:     "NONE",
		}},
	}
	require.NoError(t, f.repo.InsertInvoice(context.Background(), f.db, invoice))
	return invoice.ID
}

func (f *fixture) invoice(t *testing.T, id snowflake.ID) *stagingdomain.Invoice {
	t.Helper()
	item, err := f.repo.FindInvoice(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func remoteFailure(msg string) error {
	return &accountingdomain.RemoteError{Op: "create invoice", StatusCode: 400, Messages: []string{msg}}
}

func TestRunOnceContinuesPastFailedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	okID := f.stageInvoice(t, testTenant, 10000)
	badID := f.stageInvoice(t, testTenant, 5000)

	f.accounting.On("SubmitInvoice", testTenant, okID).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-inv-1", RemoteStatus: "DRAFT"}, nil).Once()
	f.accounting.On("SubmitInvoice", testTenant, badID).
		Return(nil, remoteFailure("Account code '4000' is not a valid code")).Once()
	f.accounting.On("SubmitPayment", testTenant, okID, int64(10000)).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-pay-1"}, nil).Once()

	summary, err := f.sched.RunOnce(ctx, RunRequest{TriggeredBy: TriggerManual})
	require.NoError(t, err)
	require.Len(t, summary.Tenants, 1)
	assert.Equal(t, 1, summary.Tenants[0].InvoicesSynced)
	assert.Equal(t, 1, summary.Tenants[0].InvoicesFailed)
	assert.Equal(t, 1, summary.Tenants[0].PaymentsSynced)
	assert.Equal(t, 2, summary.Processed())
	assert.Equal(t, 1, summary.Failed())

	synced := f.invoice(t, okID)
	assert.Equal(t, stagingdomain.StatusSynced, synced.Status)
	assert.Equal(t, "xero-inv-1", synced.RemoteID())
	assert.NotNil(t, synced.SyncedAt)
	assert.Nil(t, synced.ClaimToken)

	failed := f.invoice(t, badID)
	assert.Equal(t, stagingdomain.StatusFailed, failed.Status)
	require.NotNil(t, failed.LastSyncError)
	assert.Contains(t, *failed.LastSyncError, "not a valid code")
	assert.Equal(t, 1, failed.SyncAttempts)
	require.NotNil(t, failed.NextAttemptAt)
	assert.True(t, failed.NextAttemptAt.Equal(f.clock.Now().Add(10*time.Minute)))

	payment, err := f.repo.FindPaymentByInvoice(ctx, f.db, okID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, stagingdomain.StatusSynced, payment.Status)
	assert.Equal(t, "090", payment.AccountCode)

	logs, err := f.audit.List(ctx, auditdomain.ListAuditLogRequest{Action: "sync.run.completed"})
	require.NoError(t, err)
	require.Len(t, logs.AuditLogs, 1)
	assert.EqualValues(t, 2, logs.AuditLogs[0].Metadata["processed"])
	assert.EqualValues(t, 1, logs.AuditLogs[0].Metadata["failed"])

	f.accounting.AssertExpectations(t)
}

func TestRunOnceRetriesFailedRowOnlyWhenDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.stageInvoice(t, testTenant, 0)
	f.accounting.On("SubmitInvoice", testTenant, id).Return(nil, remoteFailure("rate limited")).Once()

	_, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, stagingdomain.StatusFailed, f.invoice(t, id).Status)

	f.clock.Advance(5 * time.Minute)
	summary, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed()+summary.Failed())

	f.clock.Advance(5 * time.Minute)
	f.accounting.On("SubmitInvoice", testTenant, id).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-inv-2", RemoteStatus: "AUTHORISED"}, nil).Once()
	summary, err = f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed())

	synced := f.invoice(t, id)
	assert.Equal(t, stagingdomain.StatusSynced, synced.Status)
	assert.Nil(t, synced.LastSyncError)

	// Zero-net documents never get a payment.
	payment, err := f.repo.FindPaymentByInvoice(ctx, f.db, id)
	require.NoError(t, err)
	assert.Nil(t, payment)
	f.accounting.AssertNotCalled(t, "SubmitPayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnceSyncsZeroAmountRefundCreditNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	paymentID := f.node.Generate()
	sourceID := f.stageInvoice(t, testTenant, 8000)
	require.NoError(t, f.db.Exec(
		`UPDATE xero_invoices SET payment_id = ?, status = ? WHERE id = ?`,
		paymentID, stagingdomain.StatusSynced, sourceID,
	).Error)

	note, err := f.staging.CreateRefundCreditNote(ctx, testTenant, stagingservice.RefundInput{
		RefundID:     f.node.Generate(),
		PaymentID:    paymentID,
		UserID:       "auth0|member",
		Proportional: true,
	})
	require.NoError(t, err)
	require.Len(t, note.LineItems, 1)
	assert.Zero(t, note.LineItems[0].LineAmount)
	assert.Equal(t, "4000", note.LineItems[0].AccountCode)
	_, err = f.staging.Promote(ctx, note.ID)
	require.NoError(t, err)

	f.accounting.On("SubmitInvoice", testTenant, note.ID).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-cn-1", RemoteStatus: "AUTHORISED"}, nil).Once()

	summary, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed())
	assert.Zero(t, summary.Failed())
	assert.Equal(t, stagingdomain.StatusSynced, f.invoice(t, note.ID).Status)
	f.accounting.AssertExpectations(t)
}

func TestRunOnceCategoryChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	season := f.node.Generate()
	require.NoError(t, f.db.Exec(
		`INSERT INTO seasons (id, name, starts_at, ends_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		season, "2026", now, now.AddDate(0, 6, 0), now,
	).Error)
	category := func(name string, price int64, code string) snowflake.ID {
		id := f.node.Generate()
		require.NoError(t, f.db.Exec(
			`INSERT INTO categories (id, season_id, kind, name, price_cents, accounting_code, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, season, regdomain.CategoryKindRegistration, name, price, code, now, now,
		).Error)
		return id
	}
	registration := func(categoryID snowflake.ID, paid int64) snowflake.ID {
		id := f.node.Generate()
		require.NoError(t, f.db.Exec(
			`INSERT INTO registrations (id, user_id, season_id, category_id, status, amount_paid_cents, discount_cents, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, "auth0|member", season, categoryID, regdomain.RegistrationStatusPaid, paid, 0, now, now,
		).Error)
		return id
	}

	freeA := category("Social", 0, "4100")
	freeB := category("Volunteer", 0, "4101")
	free, err := f.staging.ChangeCategory(ctx, testTenant, stagingservice.ChangeRequest{
		RegistrationID: registration(freeA, 0),
		NewCategoryID:  freeB,
	})
	require.NoError(t, err)
	assert.Equal(t, stagingservice.ChangeKindNone, free.Kind)
	assert.Nil(t, free.Invoice)

	senior := category("Senior", 10000, "4000")
	masters := category("Masters", 10000, "4001")
	swap, err := f.staging.ChangeCategory(ctx, testTenant, stagingservice.ChangeRequest{
		RegistrationID: registration(senior, 10000),
		NewCategoryID:  masters,
	})
	require.NoError(t, err)
	require.Equal(t, stagingservice.ChangeKindZeroSum, swap.Kind)
	require.NotNil(t, swap.Invoice)
	require.Len(t, swap.Invoice.LineItems, 4)

	f.accounting.On("SubmitInvoice", testTenant, swap.Invoice.ID).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-inv-cc", RemoteStatus: "AUTHORISED"}, nil).Once()

	summary, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed())
	assert.Zero(t, summary.Failed())
	assert.Equal(t, stagingdomain.StatusSynced, f.invoice(t, swap.Invoice.ID).Status)
	f.accounting.AssertExpectations(t)
}

func TestRunOnceAdoptsRowsWithoutTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.stageInvoice(t, "", 0)
	f.accounting.On("SubmitInvoice", testTenant, id).
		Return(&accountingdomain.SubmitResult{RemoteID: "xero-inv-3", RemoteStatus: "AUTHORISED"}, nil).Once()

	summary, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Adopted)
	assert.Equal(t, 1, summary.Processed())
	assert.Equal(t, testTenant, f.invoice(t, id).TenantID)
}

func TestRunOnceSkipsLiveClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.stageInvoice(t, testTenant, 1000)
	now := f.clock.Now()
	claimed, err := f.repo.ClaimInvoice(ctx, f.db, id, "other-worker", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := f.sched.RunOnce(ctx, RunRequest{})
	require.NoError(t, err)
	assert.Zero(t, summary.Processed())
	assert.Equal(t, stagingdomain.StatusPending, f.invoice(t, id).Status)
	f.accounting.AssertNotCalled(t, "SubmitInvoice", mock.Anything, mock.Anything)
}

func TestRunOnceUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.sched.RunOnce(context.Background(), RunRequest{TenantID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, accountingdomain.ErrTenantNotFound))
}

func TestRunOnceCountsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSyncMetricsForTest()
	obsmetrics.SyncWithConfig(obsmetrics.Config{
		ServiceName: "registrar",
		Environment: "test",
	})

	f := newFixture(t)
	id := f.stageInvoice(t, testTenant, 2500)
	f.accounting.On("SubmitInvoice", testTenant, id).Return(nil, remoteFailure("contact archived")).Once()

	_, err := f.sched.RunOnce(context.Background(), RunRequest{})
	require.NoError(t, err)

	labels := map[string]string{
		"service":  "registrar",
		"env":      "test",
		"resource": "invoice",
		"outcome":  obsmetrics.SyncOutcomeFailed,
	}
	if got := getCounterValue(t, registry, "registrar_sync_records_total", labels); got != 1 {
		t.Fatalf("expected failed invoice count 1, got %v", got)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

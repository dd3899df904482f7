package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"github.com/smallbiznis/registrar/internal/clock"
	obscontext "github.com/smallbiznis/registrar/internal/observability/context"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	"github.com/smallbiznis/registrar/internal/ratelimit"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig   = errors.New("invalid_scheduler_config")
	ErrNoActiveTenants = errors.New("no_active_accounting_tenants")
)

const (
	jobSync = "sync"

	resourceInvoice = "invoice"
	resourcePayment = "payment"

	TriggerManual   = "manual"
	TriggerPeriodic = "periodic"
	TriggerCLI      = "cli"
)

// Accounting is the remote side of a sync run.
type Accounting interface {
	SubmitInvoice(ctx context.Context, tenant accountingdomain.Tenant, invoice *stagingdomain.Invoice) (*accountingdomain.SubmitResult, error)
	SubmitPayment(ctx context.Context, tenant accountingdomain.Tenant, payment *stagingdomain.Payment, invoice *stagingdomain.Invoice) (*accountingdomain.SubmitResult, error)
	ActiveTenants(ctx context.Context) ([]accountingdomain.Tenant, error)
	DefaultTenant(ctx context.Context) (*accountingdomain.Tenant, error)
	Tenant(ctx context.Context, tenantID string) (*accountingdomain.Tenant, error)
	BankAccountCode() string
}

// Staging is the part of the staging manager a run needs.
type Staging interface {
	Get(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error)
	EnsurePayment(ctx context.Context, invoice *stagingdomain.Invoice, accountCode string) (*stagingdomain.Payment, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       stagingdomain.Repository
	Staging    Staging
	Accounting Accounting
	Locker     *ratelimit.Locker   `optional:"true"`
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	Config     Config              `optional:"true"`
}

// Scheduler is the sync orchestrator. It pushes selectable staging rows to
// the accounting system, invoices before payments, one tenant at a time.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	repo       stagingdomain.Repository
	staging    Staging
	accounting Accounting
	locker     *ratelimit.Locker
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

type RunRequest struct {
	TenantID    string `json:"tenant_id,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

type TenantSummary struct {
	TenantID       string `json:"tenant_id"`
	InvoicesSynced int    `json:"invoices_synced"`
	InvoicesFailed int    `json:"invoices_failed"`
	PaymentsSynced int    `json:"payments_synced"`
	PaymentsFailed int    `json:"payments_failed"`
	Deferred       int    `json:"deferred"`
	Skipped        string `json:"skipped,omitempty"`
}

type RunSummary struct {
	RunID       string          `json:"run_id"`
	TriggeredBy string          `json:"triggered_by"`
	Adopted     int64           `json:"adopted"`
	Tenants     []TenantSummary `json:"tenants"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

func (s RunSummary) Processed() int {
	total := 0
	for _, t := range s.Tenants {
		total += t.InvoicesSynced + t.PaymentsSynced
	}
	return total
}

func (s RunSummary) Failed() int {
	total := 0
	for _, t := range s.Tenants {
		total += t.InvoicesFailed + t.PaymentsFailed
	}
	return total
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Repo == nil || p.Staging == nil || p.Accounting == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "sync")),
		cfg:        p.Config.withDefaults(),
		clock:      clk,
		repo:       p.Repo,
		staging:    p.Staging,
		accounting: p.Accounting,
		locker:     p.Locker,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

// RunOnce performs a single sync pass. Remote failures are recorded on the
// rows and counted in the summary; only infrastructure errors are returned.
func (s *Scheduler) RunOnce(parent context.Context, req RunRequest) (*RunSummary, error) {
	trigger := strings.TrimSpace(req.TriggeredBy)
	if trigger == "" {
		trigger = TriggerManual
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	ctx, run, _ := s.ensureJobRun(ctx, jobSync, s.cfg.BatchSize)
	s.logJobStart(ctx, run)
	syncMetrics := obsmetrics.Sync()
	syncMetrics.IncJobRun(jobSync)

	summary := &RunSummary{
		RunID:       run.runID,
		TriggeredBy: trigger,
		StartedAt:   s.clock.Now(),
	}

	err := s.run(ctx, run, req, summary)
	summary.FinishedAt = s.clock.Now()
	syncMetrics.ObserveJobDuration(jobSync, time.Since(run.startedAt))
	s.logJobFinish(ctx, run)
	s.auditRun(ctx, summary, err)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			syncMetrics.IncJobTimeout(jobSync)
		}
		syncMetrics.IncJobError(jobSync, err)
		return summary, fmt.Errorf("%s: %w", jobSync, err)
	}
	return summary, nil
}

func (s *Scheduler) run(ctx context.Context, run *jobRun, req RunRequest, summary *RunSummary) error {
	tenants, err := s.resolveTenants(ctx, strings.TrimSpace(req.TenantID))
	if err != nil {
		return err
	}

	adopted, err := s.adoptOrphans(ctx, tenants)
	if err != nil {
		return err
	}
	summary.Adopted = adopted

	var runErr error
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return errors.Join(runErr, ctx.Err())
		}
		tenantSummary, err := s.syncTenant(ctx, run, tenant)
		summary.Tenants = append(summary.Tenants, tenantSummary)
		if err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("tenant %s: %w", tenant.ID, err))
		}
	}
	return runErr
}

func (s *Scheduler) resolveTenants(ctx context.Context, tenantID string) ([]accountingdomain.Tenant, error) {
	if tenantID != "" {
		tenant, err := s.accounting.Tenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return []accountingdomain.Tenant{*tenant}, nil
	}
	tenants, err := s.accounting.ActiveTenants(ctx)
	if err != nil {
		return nil, err
	}
	if len(tenants) == 0 {
		return nil, ErrNoActiveTenants
	}
	return tenants, nil
}

// adoptOrphans hands rows staged without a tenant to the default tenant when
// it takes part in this run.
func (s *Scheduler) adoptOrphans(ctx context.Context, tenants []accountingdomain.Tenant) (int64, error) {
	def, err := s.accounting.DefaultTenant(ctx)
	if errors.Is(err, accountingdomain.ErrNoDefaultTenant) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for _, tenant := range tenants {
		if tenant.ID != def.ID {
			continue
		}
		adopted, err := s.repo.AdoptOrphans(ctx, s.db, def.ID, s.clock.Now())
		if err != nil {
			return 0, err
		}
		if adopted > 0 {
			s.logger(ctx).Info("sync.orphans.adopted",
				zap.String("tenant_id", def.ID),
				zap.Int64("count", adopted),
			)
		}
		return adopted, nil
	}
	return 0, nil
}

func (s *Scheduler) syncTenant(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant) (TenantSummary, error) {
	ctx = s.withLogContext(ctx, tenant.ID)
	summary := TenantSummary{TenantID: tenant.ID}
	syncMetrics := obsmetrics.Sync()

	lease, err := s.locker.TryLock(ctx, leaseKey(tenant.ID), s.cfg.LeaseTTL)
	if errors.Is(err, ratelimit.ErrLeaseHeld) {
		syncMetrics.IncDeferred(jobSync, obsmetrics.SyncDeferredReasonLeaseHeld)
		summary.Skipped = obsmetrics.SyncDeferredReasonLeaseHeld
		s.logger(ctx).Info("sync.tenant.skipped", zap.String("reason", summary.Skipped))
		return summary, nil
	}
	if err != nil {
		return summary, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("failed to release sync lease", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	if count, err := s.repo.CountSelectableInvoices(ctx, s.db, tenant.ID, now); err == nil {
		syncMetrics.SetBacklog(resourceInvoice, count)
	}
	if count, err := s.repo.CountSelectablePayments(ctx, s.db, tenant.ID, now); err == nil {
		syncMetrics.SetBacklog(resourcePayment, count)
	}

	if err := s.syncInvoices(ctx, run, tenant, &summary); err != nil {
		return summary, err
	}
	if err := s.backfillPayments(ctx, run, tenant); err != nil {
		return summary, err
	}
	if err := s.syncPayments(ctx, run, tenant, &summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Scheduler) syncInvoices(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant, summary *TenantSummary) error {
	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := s.repo.SelectInvoices(ctx, s.db, stagingdomain.SelectFilter{
			TenantID: tenant.ID,
			AfterID:  afterID,
			Now:      s.clock.Now(),
			Limit:    s.cfg.BatchSize,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, item := range batch {
			afterID = item.ID
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome, err := s.syncInvoice(ctx, run, tenant, item.ID)
			if err != nil {
				return err
			}
			switch outcome {
			case obsmetrics.SyncOutcomeSynced:
				summary.InvoicesSynced++
			case obsmetrics.SyncOutcomeFailed:
				summary.InvoicesFailed++
			default:
				summary.Deferred++
			}
		}
	}
}

// syncInvoice claims and pushes one row. It returns the outcome label, or an
// error only when the local database cannot be updated.
func (s *Scheduler) syncInvoice(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant, id snowflake.ID) (string, error) {
	token := uuid.NewString()
	now := s.clock.Now()
	claimed, err := s.repo.ClaimInvoice(ctx, s.db, id, token, now, now.Add(s.cfg.ClaimTTL))
	if err != nil {
		return "", err
	}
	if !claimed {
		obsmetrics.Sync().IncDeferred(jobSync, obsmetrics.SyncDeferredReasonClaimLost)
		return "", nil
	}

	invoice, err := s.staging.Get(ctx, id)
	if err != nil {
		return "", err
	}

	result, submitErr := s.accounting.SubmitInvoice(ctx, tenant, invoice)
	if submitErr != nil {
		return s.failInvoice(ctx, run, tenant, invoice, token, submitErr)
	}

	done := s.clock.Now()
	ok, err := s.repo.CompleteInvoice(ctx, s.db, stagingdomain.Outcome{
		ID:           id,
		ClaimToken:   token,
		RemoteID:     result.RemoteID,
		RemoteStatus: result.RemoteStatus,
		Now:          done,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		s.logger(ctx).Warn("sync claim expired before completion",
			zap.String("resource", resourceInvoice),
			zap.String("id", idString(id)),
			zap.String("remote_id", result.RemoteID),
		)
		obsmetrics.Sync().IncDeferred(jobSync, obsmetrics.SyncDeferredReasonClaimLost)
		return "", nil
	}

	run.AddProcessed(1)
	s.recordOutcome(ctx, resourceInvoice, obsmetrics.SyncOutcomeSynced)
	s.logRecordSynced(ctx, resourceInvoice, id, result.RemoteID)

	remoteID := result.RemoteID
	invoice.RemoteInvoiceID = &remoteID
	invoice.Status = stagingdomain.StatusSynced
	invoice.SyncedAt = &done
	if _, err := s.staging.EnsurePayment(ctx, invoice, s.accounting.BankAccountCode()); err != nil {
		// The backfill pass retries this on the next run.
		s.logSyncError(ctx, run, "sync.payment.stage.failed", tenant.ID, err,
			zap.String("invoice_id", idString(id)),
		)
	}
	return obsmetrics.SyncOutcomeSynced, nil
}

func (s *Scheduler) failInvoice(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant, invoice *stagingdomain.Invoice, token string, cause error) (string, error) {
	now := s.clock.Now()
	if _, err := s.repo.FailInvoice(ctx, s.db, stagingdomain.Outcome{
		ID:            invoice.ID,
		ClaimToken:    token,
		Error:         cause.Error(),
		Now:           now,
		NextAttemptAt: now.Add(s.cfg.RetryDelay),
	}); err != nil {
		return "", err
	}
	s.recordOutcome(ctx, resourceInvoice, obsmetrics.SyncOutcomeFailed)
	s.logSyncError(ctx, run, "sync.invoice.failed", tenant.ID, cause,
		zap.String("invoice_id", idString(invoice.ID)),
		zap.String("reason", string(invoice.Reason)),
		zap.Int("attempt", invoice.SyncAttempts+1),
	)
	return obsmetrics.SyncOutcomeFailed, nil
}

// backfillPayments stages payments for synced documents whose payment could
// not be staged right after their own sync.
func (s *Scheduler) backfillPayments(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant) error {
	missing, err := s.repo.ListSyncedWithoutPayment(ctx, s.db, tenant.ID, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, item := range missing {
		invoice, err := s.staging.Get(ctx, item.ID)
		if err != nil {
			return err
		}
		if _, err := s.staging.EnsurePayment(ctx, invoice, s.accounting.BankAccountCode()); err != nil {
			s.logSyncError(ctx, run, "sync.payment.stage.failed", tenant.ID, err,
				zap.String("invoice_id", idString(item.ID)),
			)
		}
	}
	return nil
}

func (s *Scheduler) syncPayments(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant, summary *TenantSummary) error {
	var afterID snowflake.ID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := s.repo.SelectPayments(ctx, s.db, stagingdomain.SelectFilter{
			TenantID: tenant.ID,
			AfterID:  afterID,
			Now:      s.clock.Now(),
			Limit:    s.cfg.BatchSize,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			afterID = batch[i].ID
			if ctx.Err() != nil {
				return ctx.Err()
			}
			outcome, err := s.syncPayment(ctx, run, tenant, &batch[i])
			if err != nil {
				return err
			}
			switch outcome {
			case obsmetrics.SyncOutcomeSynced:
				summary.PaymentsSynced++
			case obsmetrics.SyncOutcomeFailed:
				summary.PaymentsFailed++
			default:
				summary.Deferred++
			}
		}
	}
}

func (s *Scheduler) syncPayment(ctx context.Context, run *jobRun, tenant accountingdomain.Tenant, payment *stagingdomain.Payment) (string, error) {
	token := uuid.NewString()
	now := s.clock.Now()
	claimed, err := s.repo.ClaimPayment(ctx, s.db, payment.ID, token, now, now.Add(s.cfg.ClaimTTL))
	if err != nil {
		return "", err
	}
	if !claimed {
		obsmetrics.Sync().IncDeferred(jobSync, obsmetrics.SyncDeferredReasonClaimLost)
		return "", nil
	}

	invoice, err := s.staging.Get(ctx, payment.InvoiceID)
	if err != nil {
		return "", err
	}

	result, submitErr := s.accounting.SubmitPayment(ctx, tenant, payment, invoice)
	if submitErr != nil {
		now := s.clock.Now()
		if _, err := s.repo.FailPayment(ctx, s.db, stagingdomain.Outcome{
			ID:            payment.ID,
			ClaimToken:    token,
			Error:         submitErr.Error(),
			Now:           now,
			NextAttemptAt: now.Add(s.cfg.RetryDelay),
		}); err != nil {
			return "", err
		}
		if errors.Is(submitErr, stagingdomain.ErrInvoiceNotSynced) {
			obsmetrics.Sync().IncDeferred(jobSync, obsmetrics.SyncDeferredReasonInvoiceWait)
		}
		s.recordOutcome(ctx, resourcePayment, obsmetrics.SyncOutcomeFailed)
		s.logSyncError(ctx, run, "sync.payment.failed", tenant.ID, submitErr,
			zap.String("payment_id", idString(payment.ID)),
			zap.String("invoice_id", idString(payment.InvoiceID)),
			zap.Int("attempt", payment.SyncAttempts+1),
		)
		return obsmetrics.SyncOutcomeFailed, nil
	}

	ok, err := s.repo.CompletePayment(ctx, s.db, stagingdomain.Outcome{
		ID:         payment.ID,
		ClaimToken: token,
		RemoteID:   result.RemoteID,
		Now:        s.clock.Now(),
	})
	if err != nil {
		return "", err
	}
	if !ok {
		obsmetrics.Sync().IncDeferred(jobSync, obsmetrics.SyncDeferredReasonClaimLost)
		return "", nil
	}
	run.AddProcessed(1)
	s.recordOutcome(ctx, resourcePayment, obsmetrics.SyncOutcomeSynced)
	s.logRecordSynced(ctx, resourcePayment, payment.ID, result.RemoteID)
	return obsmetrics.SyncOutcomeSynced, nil
}

func (s *Scheduler) recordOutcome(ctx context.Context, resource, outcome string) {
	obsmetrics.Sync().IncRecord(resource, outcome)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordSyncOutcome(ctx, resource, outcome)
	}
}

func (s *Scheduler) auditRun(ctx context.Context, summary *RunSummary, runErr error) {
	if s.auditSvc == nil || summary == nil {
		return
	}
	tenants := make([]string, 0, len(summary.Tenants))
	for _, t := range summary.Tenants {
		tenants = append(tenants, t.TenantID)
	}
	metadata := map[string]any{
		"triggered_by": summary.TriggeredBy,
		"processed":    summary.Processed(),
		"failed":       summary.Failed(),
		"adopted":      summary.Adopted,
		"tenants":      tenants,
		"duration_ms":  summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	}
	if runErr != nil {
		metadata["error"] = runErr.Error()
	}

	actorType := string(auditdomain.ActorTypeSystem)
	var actorID *string
	if t, id := obscontext.ActorFromContext(ctx); t != "" {
		actorType = t
		if id != "" {
			actorID = &id
		}
	}
	runID := summary.RunID
	if err := s.auditSvc.AuditLog(context.WithoutCancel(ctx), actorType, actorID, "sync.run.completed", "sync_run", &runID, metadata); err != nil {
		s.logger(ctx).Warn("failed to audit sync run", zap.Error(err))
	}
}

// RunForever runs periodic passes until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	syncMetrics := obsmetrics.Sync()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			syncMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunOnce(ctx, RunRequest{TriggeredBy: TriggerPeriodic}); err != nil {
			s.log.Warn("sync run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func leaseKey(tenantID string) string {
	return "registrar:sync:" + tenantID
}

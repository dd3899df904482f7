package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SyncErrorTypeDeadlineExceeded = "deadline_exceeded"
	SyncErrorTypeRemote           = "remote"
	SyncErrorTypeDB               = "db"
	SyncErrorTypeBusinessRule     = "business_rule"
	SyncErrorTypeUnknown          = "unknown"
)

const (
	SyncJobReasonDeadlineExceeded     = "deadline_exceeded"
	SyncJobReasonDBLockTimeout        = "db_lock_timeout"
	SyncJobReasonSerializationFailure = "serialization_failure"
	SyncJobReasonUniqueViolation      = "unique_violation"
	SyncJobReasonRemote               = "remote"
	SyncJobReasonUnknown              = "unknown"

	SyncDeferredReasonClaimLost   = "claim_lost"
	SyncDeferredReasonLeaseHeld   = "lease_held"
	SyncDeferredReasonInvoiceWait = "invoice_not_synced"
)

const (
	SyncOutcomeSynced = "synced"
	SyncOutcomeFailed = "failed"
)

// RemoteError is implemented by errors returned from the accounting API so
// they can be classified without importing the adapter.
type RemoteError interface {
	error
	Remote() bool
}

// SyncMetrics captures sync orchestrator health signals.
type SyncMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	deferred        *prometheus.CounterVec
	runLoopLag      prometheus.Observer
	pendingBacklog  *prometheus.GaugeVec
	outcomeCounters map[string]map[string]prometheus.Counter
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "registrar"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "registrar_sync_job_runs_total",
		Help:        "Sync job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "registrar_sync_job_duration_seconds",
		Help:        "Sync job latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "registrar_sync_job_timeouts_total",
		Help:        "Sync jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "registrar_sync_job_errors_total",
		Help:        "Sync job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	recordsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "registrar_sync_records_total",
		Help:        "Staging records pushed to the accounting system by outcome.",
		ConstLabels: constLabels,
	}, []string{"resource", "outcome"})
	deferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "registrar_sync_deferred_total",
		Help:        "Staging records skipped during a run by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "registrar_sync_runloop_lag_seconds",
		Help:        "Periodic sync lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	pendingBacklog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "registrar_sync_backlog",
		Help:        "Selectable staging records observed at the start of a run.",
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		recordsTotal,
		deferred,
		runLoopLag,
		pendingBacklog,
	)

	outcomeCounters := map[string]map[string]prometheus.Counter{}
	for _, resource := range []string{"invoice", "payment"} {
		outcomeCounters[resource] = map[string]prometheus.Counter{
			SyncOutcomeSynced: recordsTotal.WithLabelValues(resource, SyncOutcomeSynced),
			SyncOutcomeFailed: recordsTotal.WithLabelValues(resource, SyncOutcomeFailed),
		}
	}

	return &SyncMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		recordsTotal:    recordsTotal,
		deferred:        deferred,
		runLoopLag:      runLoopLag,
		pendingBacklog:  pendingBacklog,
		outcomeCounters: outcomeCounters,
	}
}

func (m *SyncMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SyncMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SyncMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SyncMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySyncJobReason(err)).Inc()
}

// IncRecord counts a single staging record outcome.
func (m *SyncMetrics) IncRecord(resource, outcome string) {
	if m == nil {
		return
	}
	if byOutcome, ok := m.outcomeCounters[resource]; ok {
		if counter, ok := byOutcome[outcome]; ok {
			counter.Inc()
			return
		}
	}
	m.recordsTotal.WithLabelValues(resource, outcome).Inc()
}

func (m *SyncMetrics) IncDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.deferred.WithLabelValues(job, reason).Inc()
}

func (m *SyncMetrics) SetBacklog(resource string, count int64) {
	if m == nil {
		return
	}
	m.pendingBacklog.WithLabelValues(resource).Set(float64(count))
}

func (m *SyncMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySyncErrorType returns a low-cardinality error type for logging.
func ClassifySyncErrorType(err error) string {
	switch {
	case err == nil:
		return SyncErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SyncErrorTypeDeadlineExceeded
	case isRemoteError(err):
		return SyncErrorTypeRemote
	case isDBError(err):
		return SyncErrorTypeDB
	default:
		return SyncErrorTypeBusinessRule
	}
}

// IsSyncErrorRetryable reports whether a later run may succeed without
// operator intervention.
func IsSyncErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return isRemoteError(err) || isDBError(err)
}

// ClassifySyncJobReason maps sync job errors to low-cardinality reasons.
func ClassifySyncJobReason(err error) string {
	switch {
	case err == nil:
		return SyncJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return SyncJobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return SyncJobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SyncJobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return SyncJobReasonUniqueViolation
	case isRemoteError(err):
		return SyncJobReasonRemote
	default:
		return SyncJobReasonUnknown
	}
}

func isRemoteError(err error) bool {
	var remote RemoteError
	return errors.As(err, &remote) && remote.Remote()
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrInvalidTransaction) || errors.Is(err, gorm.ErrInvalidDB) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code
}

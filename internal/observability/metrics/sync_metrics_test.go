package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

type remoteErr struct{}

func (remoteErr) Error() string { return "xero said no" }
func (remoteErr) Remote() bool  { return true }

func TestClassifySyncJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SyncJobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SyncJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SyncJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SyncJobReasonUniqueViolation},
		{name: "remote", err: remoteErr{}, want: SyncJobReasonRemote},
		{name: "unknown", err: errors.New("boom"), want: SyncJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySyncJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIsSyncErrorRetryable(t *testing.T) {
	if !IsSyncErrorRetryable(remoteErr{}) {
		t.Fatalf("expected remote errors to be retryable")
	}
	if IsSyncErrorRetryable(errors.New("missing accounting code")) {
		t.Fatalf("expected business errors to be final")
	}
}

func TestIncRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSyncMetrics(registry, Config{
		ServiceName: "registrar",
		Environment: "test",
	})

	metrics.IncRecord("invoice", SyncOutcomeSynced)
	metrics.IncRecord("invoice", SyncOutcomeSynced)
	metrics.IncRecord("payment", SyncOutcomeFailed)

	if got := counterValue(t, metrics.recordsTotal.WithLabelValues("invoice", SyncOutcomeSynced)); got != 2 {
		t.Fatalf("expected synced invoice count 2, got %v", got)
	}
	if got := counterValue(t, metrics.recordsTotal.WithLabelValues("payment", SyncOutcomeFailed)); got != 1 {
		t.Fatalf("expected failed payment count 1, got %v", got)
	}
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return metric.GetCounter().GetValue()
}

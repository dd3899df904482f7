package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"github.com/smallbiznis/registrar/internal/audit/repository"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/dbtest"
	obscontext "github.com/smallbiznis/registrar/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T, clk *clock.FakeClock) auditdomain.Service {
	t.Helper()
	return NewService(Params{
		DB:    dbtest.Open(t),
		Log:   zaptest.NewLogger(t),
		GenID: dbtest.Node(t),
		Repo:  repository.Provide(),
		Clock: clk,
	})
}

func TestAuditLogResolvesActorAndMasksMetadata(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)

	ctx := obscontext.WithActor(context.Background(), "admin", "user_123")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	targetID := "991"
	err := svc.AuditLog(ctx, "", nil, "refund.confirmed", "refund", &targetID, map[string]any{
		"contact_email": "member@example.com",
		"amount":        1500,
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "user_123", *entry.ActorID)
	require.NotNil(t, entry.RequestID)
	assert.Equal(t, "req-1", *entry.RequestID)
	assert.Equal(t, "m****@example.com", entry.Metadata["contact_email"])
}

func TestAuditLogRecordsTenantAndCorrelation(t *testing.T) {
	svc := newTestService(t, clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))

	ctx := obscontext.WithTenantID(context.Background(), "tenant-a")
	ctx = obscontext.WithCorrelationID(ctx, "run-1")
	require.NoError(t, svc.AuditLog(ctx, "system", nil, "sync.invoice_pushed", "staging_invoice", nil, nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, "tenant-a", resp.AuditLogs[0].Metadata["tenant_id"])
	assert.Equal(t, "run-1", resp.AuditLogs[0].Metadata["correlation_id"])
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc := newTestService(t, clock.NewFakeClock(time.Now()))
	err := svc.AuditLog(context.Background(), "system", nil, " ", "sync", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, "system", nil, "sync.run.completed", "sync_run", nil, map[string]any{"run": i}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.AuditLog(ctx, "admin", nil, "staging.ignored", "staging_invoice", nil, nil))

	page, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "sync.*"})
	require.NoError(t, err)
	assert.Len(t, page.AuditLogs, 3)

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "sync.run.completed", Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "sync.run.completed", Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationOf("garbage", 2)})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

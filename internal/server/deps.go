package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
	registrationservice "github.com/smallbiznis/registrar/internal/registration/service"
	"github.com/smallbiznis/registrar/internal/scheduler"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
)

type RefundService interface {
	Preview(ctx context.Context, tenantID string, req refundservice.PreviewRequest) (*refundservice.Preview, error)
	Confirm(ctx context.Context, refundID snowflake.ID) (*refunddomain.Refund, error)
	Cancel(ctx context.Context, refundID snowflake.ID) (*refunddomain.Refund, error)
	Get(ctx context.Context, refundID snowflake.ID) (*refunddomain.Refund, error)
}

type RegistrationService interface {
	ChangeCategory(ctx context.Context, tenantID string, req registrationservice.ChangeCategoryRequest) (*registrationservice.ChangeCategoryResult, error)
}

type StagingService interface {
	List(ctx context.Context, req stagingservice.ListRequest) (*stagingservice.ListResponse, error)
	Get(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error)
	Ignore(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error)
	Requeue(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error)
}

type AccountingService interface {
	DefaultTenant(ctx context.Context) (*accountingdomain.Tenant, error)
	Tenant(ctx context.Context, tenantID string) (*accountingdomain.Tenant, error)
	SyncAccounts(ctx context.Context, tenant accountingdomain.Tenant) (*accountingdomain.SyncAccountsResult, error)
	ListAccounts(ctx context.Context, tenantID string) ([]accountingdomain.Account, error)
}

type SyncRunner interface {
	RunOnce(ctx context.Context, req scheduler.RunRequest) (*scheduler.RunSummary, error)
}

type WebhookIngester interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

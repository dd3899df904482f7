package accounting

import (
	"context"
	"strings"

	"github.com/smallbiznis/registrar/internal/accounting/domain"
	"github.com/smallbiznis/registrar/internal/accounting/repository"
	"github.com/smallbiznis/registrar/internal/accounting/service"
	"github.com/smallbiznis/registrar/internal/accounting/xero"
	"github.com/smallbiznis/registrar/internal/config"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	"github.com/smallbiznis/registrar/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("accounting.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewGateway),
	fx.Provide(service.NewService),
)

type GatewayParams struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	Limiter    *ratelimit.RemoteLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

// NewGateway returns the Xero client, or a gateway that fails every call
// when credentials are not configured so sync runs record the failure.
func NewGateway(p GatewayParams) (service.Gateway, error) {
	if strings.TrimSpace(p.Cfg.Xero.ClientID) == "" {
		p.Log.Warn("xero credentials not configured; accounting sync will fail")
		return disabledGateway{}, nil
	}
	opts := []xero.Option{xero.WithLimiter(p.Limiter)}
	if p.ObsMetrics != nil {
		opts = append(opts, xero.WithObserver(func(ctx context.Context, endpoint string, statusCode int) {
			p.ObsMetrics.RecordRemoteCall(ctx, endpoint, statusCode)
		}))
	}
	return xero.NewFromConfig(p.Cfg.Xero, opts...)
}

type disabledGateway struct{}

func (disabledGateway) CreateInvoice(context.Context, string, xero.Invoice) (*xero.Invoice, error) {
	return nil, domain.ErrNotConfigured
}

func (disabledGateway) CreateCreditNote(context.Context, string, xero.CreditNote) (*xero.CreditNote, error) {
	return nil, domain.ErrNotConfigured
}

func (disabledGateway) AuthoriseInvoice(context.Context, string, string) error {
	return domain.ErrNotConfigured
}

func (disabledGateway) AuthoriseCreditNote(context.Context, string, string) error {
	return domain.ErrNotConfigured
}

func (disabledGateway) CreatePayment(context.Context, string, xero.Payment) (*xero.Payment, error) {
	return nil, domain.ErrNotConfigured
}

func (disabledGateway) ListAccounts(context.Context, string) ([]xero.Account, error) {
	return nil, domain.ErrNotConfigured
}

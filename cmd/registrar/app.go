package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/accounting"
	accountingservice "github.com/smallbiznis/registrar/internal/accounting/service"
	"github.com/smallbiznis/registrar/internal/audit"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/discount"
	"github.com/smallbiznis/registrar/internal/migration"
	"github.com/smallbiznis/registrar/internal/observability"
	"github.com/smallbiznis/registrar/internal/payment"
	paymentservice "github.com/smallbiznis/registrar/internal/payment/service"
	"github.com/smallbiznis/registrar/internal/providers/email"
	"github.com/smallbiznis/registrar/internal/ratelimit"
	"github.com/smallbiznis/registrar/internal/refund"
	"github.com/smallbiznis/registrar/internal/registration"
	"github.com/smallbiznis/registrar/internal/scheduler"
	"github.com/smallbiznis/registrar/internal/staging"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"github.com/smallbiznis/registrar/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// coreModules is the dependency graph shared by every command.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		email.Module,
		audit.Module,

		discount.Module,
		staging.Module,
		accounting.Module,
		registration.Module,
		refund.Module,
		payment.Module,
		scheduler.Module,

		fx.Provide(
			func(s *accountingservice.Service) paymentservice.TenantResolver { return s },
			func(s *accountingservice.Service) scheduler.Accounting { return s },
			func(s *stagingservice.Service) scheduler.Staging { return s },
		),
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// runOnce starts the graph, hands the populated targets to fn and stops.
func runOnce(ctx context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	app := fx.New(append([]fx.Option{coreModules()}, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountingservice "github.com/smallbiznis/registrar/internal/accounting/service"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"github.com/smallbiznis/registrar/internal/authorization"
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/observability"
	obslogger "github.com/smallbiznis/registrar/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	obstracing "github.com/smallbiznis/registrar/internal/observability/tracing"
	"github.com/smallbiznis/registrar/internal/payment/webhook"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
	registrationservice "github.com/smallbiznis/registrar/internal/registration/service"
	"github.com/smallbiznis/registrar/internal/scheduler"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module serves the admin API and the provider webhook endpoint. Domain
// modules, audit included, are installed by the command that builds the app.
var Module = fx.Module("http.server",
	authorization.Module,
	fx.Provide(registerGin),
	fx.Provide(
		func(s *refundservice.Service) RefundService { return s },
		func(s *registrationservice.Service) RegistrationService { return s },
		func(s *stagingservice.Service) StagingService { return s },
		func(s *accountingservice.Service) AccountingService { return s },
		func(s *scheduler.Scheduler) SyncRunner { return s },
		func(s *webhook.Service) WebhookIngester { return s },
	),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(newCORS(allowedOrigins))
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics, cfg.CORSAllowedOrigins)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	refundSvc       RefundService
	registrationSvc RegistrationService
	stagingSvc      StagingService
	accountingSvc   AccountingService
	syncRunner      SyncRunner
	webhookSvc      WebhookIngester
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	RefundSvc       RefundService
	RegistrationSvc RegistrationService
	StagingSvc      StagingService
	AccountingSvc   AccountingService
	SyncRunner      SyncRunner
	WebhookSvc      WebhookIngester
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		refundSvc:       p.RefundSvc,
		registrationSvc: p.RegistrationSvc,
		stagingSvc:      p.StagingSvc,
		accountingSvc:   p.AccountingSvc,
		syncRunner:      p.SyncRunner,
		webhookSvc:      p.WebhookSvc,
	}

	svc.registerPublicRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.POST("/refunds/preview", s.authorize(authorization.ObjectRefund, authorization.ActionRefundPreview), s.PreviewRefund)
	admin.GET("/refunds/:id", s.authorize(authorization.ObjectRefund, authorization.ActionRefundView), s.GetRefund)
	admin.POST("/refunds/:id/confirm", s.authorize(authorization.ObjectRefund, authorization.ActionRefundConfirm), s.ConfirmRefund)
	admin.POST("/refunds/:id/cancel", s.authorize(authorization.ObjectRefund, authorization.ActionRefundCancel), s.CancelRefund)

	admin.POST("/registrations/:id/change-category", s.authorize(authorization.ObjectRegistration, authorization.ActionRegistrationChangeCategory), s.ChangeRegistrationCategory)

	admin.POST("/sync/run", s.authorize(authorization.ObjectSync, authorization.ActionSyncRun), s.RunSync)
	admin.POST("/sync/accounts", s.authorize(authorization.ObjectSync, authorization.ActionSyncAccounts), s.SyncAccounts)
	admin.GET("/accounts", s.authorize(authorization.ObjectAccount, authorization.ActionAccountView), s.ListAccounts)

	admin.GET("/staging/invoices", s.authorize(authorization.ObjectStagingInvoice, authorization.ActionStagingInvoiceView), s.ListStagingInvoices)
	admin.GET("/staging/invoices/:id", s.authorize(authorization.ObjectStagingInvoice, authorization.ActionStagingInvoiceView), s.GetStagingInvoice)
	admin.POST("/staging/invoices/:id/ignore", s.authorize(authorization.ObjectStagingInvoice, authorization.ActionStagingInvoiceIgnore), s.IgnoreStagingInvoice)
	admin.POST("/staging/invoices/:id/requeue", s.authorize(authorization.ObjectStagingInvoice, authorization.ActionStagingInvoiceRequeue), s.RequeueStagingInvoice)

	admin.GET("/system-events", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func newCORS(allowedOrigins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	corsConfig.AddAllowHeaders("Authorization", HeaderTenant, "X-Request-ID")
	corsConfig.AddExposeHeaders("X-Request-ID")
	return cors.New(corsConfig)
}

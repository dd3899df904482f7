package payment

import (
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/payment/adapters"
	"github.com/smallbiznis/registrar/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/smallbiznis/registrar/internal/payment/repository"
	paymentservice "github.com/smallbiznis/registrar/internal/payment/service"
	"github.com/smallbiznis/registrar/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewRegistry),
	fx.Provide(stripe.NewRefundGateway),
	fx.Provide(stripe.NewChargeGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	registry := adapters.NewRegistry(stripe.NewFactory())
	secret := cfg.Stripe.WebhookSecret
	if secret == "" {
		log.Warn("stripe webhook secret not configured, webhooks will be rejected")
		return registry
	}
	_ = registry.Configure(paymentdomain.AdapterConfig{
		Provider: stripe.Provider,
		Config:   map[string]any{"webhook_secret": secret},
	})
	return registry
}

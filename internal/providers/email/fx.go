package email

import (
	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
	fx.Provide(pdf.NewRenderer),
	fx.Provide(newReceiptNotifier),
)

func newReceiptNotifier(cfg config.Config, provider Provider, renderer *pdf.Renderer, log *zap.Logger) *ReceiptNotifier {
	notifier := NewReceiptNotifier(provider, log)
	if cfg.Email.AttachReceipt {
		notifier.WithRenderer(renderer, cfg.Email.ReceiptOrgName)
	}
	return notifier
}

func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if !cfg.Email.Enabled() {
		log.Info("smtp not configured, emails disabled")
		return &NoOpProvider{}
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}

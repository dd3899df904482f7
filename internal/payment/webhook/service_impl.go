package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	obscontext "github.com/smallbiznis/registrar/internal/observability/context"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	"github.com/smallbiznis/registrar/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	paymentservice "github.com/smallbiznis/registrar/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

const metricResource = "webhook"

// Webhook delivery outcomes as counted by the sync metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
	metrics    *obsmetrics.SyncMetrics
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		metrics:    obsmetrics.Sync(),
	}
}

// IngestWebhook verifies, parses and applies one provider delivery.
// Ignored event types return nil.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	ctx, correlationID := obscontext.EnsureCorrelationID(ctx)
	outcome, err := s.ingest(ctx, provider, payload, headers)
	s.metrics.IncRecord(metricResource, outcome)
	if outcome == OutcomeFailed {
		s.log.Warn("payment webhook failed",
			zap.String("provider", provider),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}
	return err
}

func (s *Service) ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return OutcomeRejected, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return OutcomeRejected, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return OutcomeRejected, paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return OutcomeRejected, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("payment webhook signature rejected", zap.String("provider", provider))
		return OutcomeRejected, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.log.Debug("payment webhook ignored", zap.String("provider", provider))
			return OutcomeIgnored, nil
		}
		return OutcomeRejected, err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	if s.paymentSvc == nil {
		return OutcomeFailed, errors.New("payment_service_unavailable")
	}
	err = s.paymentSvc.ProcessEvent(ctx, event, payload)
	switch {
	case err == nil:
		return OutcomeApplied, nil
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		s.log.Debug("payment webhook already processed",
			zap.String("provider", provider),
			zap.String("event_id", event.ProviderEventID),
		)
		return OutcomeDuplicate, err
	default:
		return OutcomeFailed, err
	}
}

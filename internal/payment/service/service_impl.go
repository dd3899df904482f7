package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"github.com/smallbiznis/registrar/internal/clock"
	discountservice "github.com/smallbiznis/registrar/internal/discount/service"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/smallbiznis/registrar/internal/providers/email"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TenantResolver picks the accounting tenant new documents are staged for.
type TenantResolver interface {
	DefaultTenant(ctx context.Context) (*accountingdomain.Tenant, error)
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             paymentdomain.Repository
	RegistrationRepo regdomain.Repository
	Staging          *stagingservice.Service
	DiscountSvc      *discountservice.Service
	RefundSvc        *refundservice.Service
	Tenants          TenantResolver         `optional:"true"`
	AuditSvc         auditdomain.Service    `optional:"true"`
	Receipts         *email.ReceiptNotifier `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics    `optional:"true"`
	Clock            clock.Clock            `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        paymentdomain.Repository
	regRepo     regdomain.Repository
	staging     *stagingservice.Service
	discountSvc *discountservice.Service
	refundSvc   *refundservice.Service
	tenants     TenantResolver
	auditSvc    auditdomain.Service
	receipts    *email.ReceiptNotifier
	obsMetrics  *obsmetrics.Metrics
	clock       clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		regRepo:     p.RegistrationRepo,
		staging:     p.Staging,
		discountSvc: p.DiscountSvc,
		refundSvc:   p.RefundSvc,
		tenants:     p.Tenants,
		auditSvc:    p.AuditSvc,
		receipts:    p.Receipts,
		obsMetrics:  p.ObsMetrics,
		clock:       clk,
	}
}

// ProcessEvent records a provider event once and applies it. A replay of a
// processed event returns ErrEventAlreadyProcessed without side effects.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		UserID:          event.UserID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	if err := s.processEvent(ctx, stored, event); err != nil {
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}

	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}

	return nil
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	event.Currency = strings.ToUpper(strings.TrimSpace(event.Currency))
	event.ProviderPaymentID = strings.TrimSpace(event.ProviderPaymentID)
	event.UserID = strings.TrimSpace(event.UserID)
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.PaymentID == nil && event.ProviderPaymentID == "" {
			return paymentdomain.ErrInvalidEvent
		}
		if event.Amount < 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
		if event.PaymentID == nil && event.ProviderPaymentID == "" {
			return paymentdomain.ErrInvalidEvent
		}
	case paymentdomain.EventTypeRefundUpdated:
		if event.RefundID == nil && strings.TrimSpace(event.ProviderRefundID) == "" {
			return paymentdomain.ErrInvalidEvent
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) processEvent(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.settlePayment(ctx, stored, event)
	case paymentdomain.EventTypePaymentFailed:
		return s.failPayment(ctx, stored, event)
	case paymentdomain.EventTypeRefundUpdated:
		return s.updateRefund(ctx, stored, event)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func (s *Service) settlePayment(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	payment, err := s.resolvePayment(ctx, event)
	if err != nil {
		return err
	}

	amount := event.Amount
	if amount <= 0 {
		amount = payment.AmountCents
	}
	now := s.clock.Now()

	var completed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		completed, err = s.repo.MarkCompleted(ctx, tx, payment.ID, amount, now)
		if err != nil {
			return err
		}
		switch payment.Kind {
		case paymentdomain.PaymentKindRegistration:
			return s.settleRegistration(ctx, tx, payment, amount, now)
		case paymentdomain.PaymentKindMembership:
			return s.settleMembership(ctx, tx, payment, now)
		}
		return nil
	})
	if err != nil {
		return err
	}
	payment.Status = paymentdomain.PaymentStatusCompleted
	payment.AmountCents = amount

	switch payment.Kind {
	case paymentdomain.PaymentKindRegistration:
		if _, err := s.staging.CreateForPayment(ctx, s.tenantID(ctx), payment.ID, stagingdomain.ReasonNewRegistration); err != nil {
			return err
		}
	case paymentdomain.PaymentKindMembership:
		if _, err := s.staging.CreateForPayment(ctx, s.tenantID(ctx), payment.ID, stagingdomain.ReasonMembership); err != nil {
			return err
		}
	case paymentdomain.PaymentKindCategoryChange:
		if err := s.settleCategoryChange(ctx, payment); err != nil {
			return err
		}
	}

	if completed {
		s.sendReceipt(ctx, payment, event)
	}
	s.writeAuditLog(ctx, "payment.completed", stored, event, map[string]any{
		"payment_id": payment.ID.String(),
		"kind":       string(payment.Kind),
	})
	return nil
}

func (s *Service) settleRegistration(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, amount int64, now time.Time) error {
	if payment.RegistrationID == nil {
		return regdomain.ErrRegistrationNotFound
	}
	reg, err := s.regRepo.FindRegistration(ctx, tx, *payment.RegistrationID)
	if err != nil {
		return err
	}
	if reg == nil {
		return regdomain.ErrRegistrationNotFound
	}
	if err := s.regRepo.MarkPaid(ctx, tx, reg.ID, payment.ID, amount, payment.DiscountCents, payment.DiscountCodeID, now); err != nil {
		return err
	}
	return s.recordDiscount(ctx, tx, payment, reg.SeasonID, &reg.ID)
}

func (s *Service) settleMembership(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, now time.Time) error {
	if payment.MembershipCategoryID == nil {
		return regdomain.ErrCategoryNotFound
	}
	category, err := s.regRepo.FindCategory(ctx, tx, *payment.MembershipCategoryID)
	if err != nil {
		return err
	}
	if category == nil {
		return regdomain.ErrCategoryNotFound
	}
	season, err := s.regRepo.FindSeason(ctx, tx, category.SeasonID)
	if err != nil {
		return err
	}
	if season == nil {
		return regdomain.ErrSeasonNotFound
	}

	intentID := payment.IntentID()
	if intentID == "" {
		return paymentdomain.ErrMissingPaymentIntent
	}
	inserted, err := s.regRepo.InsertMembership(ctx, tx, &regdomain.Membership{
		ID:                    s.genID.Generate(),
		UserID:                payment.UserID,
		SeasonID:              season.ID,
		CategoryID:            category.ID,
		PaymentID:             payment.ID,
		StripePaymentIntentID: intentID,
		ValidFrom:             season.StartsAt,
		ValidUntil:            season.EndsAt,
		CreatedAt:             now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.regRepo.FindMembershipByIntent(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New("membership_conflict_unresolved")
		}
		s.log.Debug("membership already recorded", zap.String("membership_id", existing.ID.String()))
	}
	return s.recordDiscount(ctx, tx, payment, season.ID, nil)
}

// settleCategoryChange promotes the drafts staged for the change and moves
// the registration to its new category, re-booking any discount difference.
func (s *Service) settleCategoryChange(ctx context.Context, payment *paymentdomain.Payment) error {
	if _, err := s.staging.PromoteDrafts(ctx, payment.ID); err != nil {
		return err
	}
	invoice, err := s.staging.FindForPayment(ctx, payment.ID, stagingdomain.ReasonCategoryChange)
	if err != nil {
		return err
	}
	if invoice == nil {
		return stagingdomain.ErrInvoiceNotFound
	}
	meta, err := stagingdomain.DecodeMetadata(invoice.Metadata)
	if err != nil {
		return err
	}
	change, ok := meta.(stagingdomain.CategoryChangeMetadata)
	if !ok {
		return stagingdomain.ErrInvalidMetadata
	}
	return s.staging.ApplyCategoryChange(ctx, change, invoice.ID)
}

func (s *Service) recordDiscount(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, seasonID snowflake.ID, registrationID *snowflake.ID) error {
	if payment.DiscountCodeID == nil || payment.DiscountCents <= 0 {
		return nil
	}
	_, err := s.discountSvc.RecordUsage(ctx, tx, discountservice.UsageInput{
		UserID:         payment.UserID,
		CodeID:         *payment.DiscountCodeID,
		SeasonID:       seasonID,
		RegistrationID: registrationID,
		PaymentID:      &payment.ID,
		Amount:         payment.DiscountCents,
	})
	return err
}

func (s *Service) failPayment(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	payment, err := s.resolvePayment(ctx, event)
	if err != nil {
		return err
	}
	if payment.Status == paymentdomain.PaymentStatusCompleted {
		s.log.Warn("ignoring failure for completed payment", zap.String("payment_id", payment.ID.String()))
		return nil
	}

	reason := strings.TrimSpace(event.FailureReason)
	if reason == "" {
		reason = "payment_failed"
	}
	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.MarkFailed(ctx, tx, payment.ID, reason, now); err != nil {
			return err
		}
		if payment.Kind == paymentdomain.PaymentKindRegistration && payment.RegistrationID != nil {
			return s.regRepo.MarkFailed(ctx, tx, *payment.RegistrationID, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	removed, err := s.staging.DeleteDrafts(ctx, payment.ID)
	if err != nil {
		return err
	}
	s.writeAuditLog(ctx, "payment.failed", stored, event, map[string]any{
		"payment_id":     payment.ID.String(),
		"reason":         reason,
		"drafts_removed": removed,
	})
	return nil
}

func (s *Service) updateRefund(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	refund, err := s.refundSvc.HandleProviderUpdate(ctx, refundservice.ProviderUpdate{
		RefundID:         event.RefundID,
		ProviderRefundID: strings.TrimSpace(event.ProviderRefundID),
		State:            event.RefundState,
		FailureReason:    event.FailureReason,
	})
	switch {
	case errors.Is(err, refunddomain.ErrRefundNotFound):
		s.log.Info("refund event for unknown refund", zap.String("provider_refund_id", event.ProviderRefundID))
		return nil
	case errors.Is(err, refunddomain.ErrInvalidRefundStatus):
		s.log.Warn("refund event out of order", zap.String("provider_refund_id", event.ProviderRefundID), zap.String("state", event.RefundState))
		return nil
	case err != nil:
		return err
	}
	s.writeAuditLog(ctx, "refund.provider_updated", stored, event, map[string]any{
		"refund_id": refund.ID.String(),
		"state":     event.RefundState,
		"status":    string(refund.Status),
	})
	return nil
}

func (s *Service) resolvePayment(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.Payment, error) {
	var (
		payment *paymentdomain.Payment
		err     error
	)
	if event.PaymentID != nil {
		payment, err = s.repo.FindPayment(ctx, s.db, *event.PaymentID)
	} else {
		payment, err = s.repo.FindPaymentByIntent(ctx, s.db, event.ProviderPaymentID)
	}
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.StripePaymentIntentID == nil && event.ProviderPaymentID != "" {
		if err := s.repo.AttachIntent(ctx, s.db, payment.ID, event.ProviderPaymentID, s.clock.Now()); err != nil {
			return nil, err
		}
		intent := event.ProviderPaymentID
		payment.StripePaymentIntentID = &intent
	}
	return payment, nil
}

func (s *Service) tenantID(ctx context.Context) string {
	if s.tenants == nil {
		return ""
	}
	tenant, err := s.tenants.DefaultTenant(ctx)
	if err != nil || tenant == nil {
		return ""
	}
	return tenant.ID
}

func (s *Service) sendReceipt(ctx context.Context, payment *paymentdomain.Payment, event *paymentdomain.PaymentEvent) {
	if s.receipts == nil {
		return
	}
	description := "Payment"
	switch payment.Kind {
	case paymentdomain.PaymentKindRegistration:
		description = "Registration"
	case paymentdomain.PaymentKindMembership:
		description = "Membership"
	case paymentdomain.PaymentKindCategoryChange:
		description = "Category change"
	}
	s.receipts.Notify(ctx, email.Receipt{
		To:          event.ReceiptEmail,
		Description: description,
		Reference:   payment.ID.String(),
		AmountCents: payment.AmountCents,
		Discount:    payment.DiscountCents,
		Currency:    payment.Currency,
		PaidAt:      event.OccurredAt,
	})
}

func (s *Service) writeAuditLog(ctx context.Context, action string, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":          stored.Provider,
		"provider_event_id": stored.ProviderEventID,
		"event_type":        stored.EventType,
		"amount":            event.Amount,
		"currency":          event.Currency,
		"payment_event_id":  stored.ID.String(),
		"occurred_at":       event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if event.UserID != "" {
		metadata["user_id"] = event.UserID
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := stored.ID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeStripe), nil, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

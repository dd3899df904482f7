package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	"github.com/smallbiznis/registrar/internal/clock"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	"github.com/smallbiznis/registrar/internal/refund/domain"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             domain.Repository
	PaymentRepo      paymentdomain.Repository
	RegistrationRepo regdomain.Repository
	Staging          *stagingservice.Service
	Gateway          paymentdomain.RefundGateway `optional:"true"`
	AuditSvc         auditdomain.Service         `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics         `optional:"true"`
	Clock            clock.Clock                 `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	regRepo     regdomain.Repository
	staging     *stagingservice.Service
	gateway     paymentdomain.RefundGateway
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
	clock       clock.Clock
	validate    *validator.Validate
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("refund.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		regRepo:     p.RegistrationRepo,
		staging:     p.Staging,
		gateway:     p.Gateway,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
		clock:       clk,
		validate:    validator.New(),
	}
}

type PreviewRequest struct {
	PaymentID      snowflake.ID  `json:"payment_id" validate:"required"`
	Type           domain.Type   `json:"type" validate:"required,oneof=proportional discount_code"`
	Amount         int64         `json:"amount" validate:"gte=0"`
	DiscountCodeID *snowflake.ID `json:"discount_code_id,omitempty"`
	Reason         string        `json:"reason" validate:"max=500"`
	CreatedBy      string        `json:"-"`
}

type Preview struct {
	Refund     *domain.Refund         `json:"refund"`
	CreditNote *stagingdomain.Invoice `json:"credit_note"`
	Refundable int64                  `json:"refundable"`
}

// Preview stages a refund and its draft credit note for operator review.
// Nothing is sent to the processor until Confirm.
func (s *Service) Preview(ctx context.Context, tenantID string, req PreviewRequest) (*Preview, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, err.Error())
	}

	payment, err := s.loadPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	refundable, err := s.refundable(ctx, payment)
	if err != nil {
		return nil, err
	}
	if req.Amount > refundable {
		return nil, domain.ErrRefundExceedsBalance
	}

	input := stagingservice.RefundInput{
		RefundID:     s.genID.Generate(),
		PaymentID:    payment.ID,
		UserID:       payment.UserID,
		Proportional: req.Type == domain.TypeProportional,
		Amount:       req.Amount,
	}
	refund := &domain.Refund{
		ID:          input.RefundID,
		PaymentID:   payment.ID,
		UserID:      payment.UserID,
		Type:        req.Type,
		AmountCents: req.Amount,
		Status:      domain.StatusStaged,
		Reason:      optional(req.Reason),
		CreatedBy:   optional(req.CreatedBy),
	}
	if req.Type == domain.TypeDiscountCode {
		codeID := req.DiscountCodeID
		if codeID == nil {
			codeID = payment.DiscountCodeID
		}
		if codeID == nil {
			return nil, domain.ErrDiscountCodeRequired
		}
		seasonID, err := s.seasonOf(ctx, payment)
		if err != nil {
			return nil, err
		}
		input.DiscountCodeID = codeID
		input.SeasonID = seasonID
		refund.DiscountCodeID = codeID
	}

	note, err := s.staging.CreateRefundCreditNote(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}
	refund.StagingInvoiceID = &note.ID

	now := s.clock.Now()
	refund.CreatedAt = now
	refund.UpdatedAt = now
	if err := s.repo.Insert(ctx, s.db, refund); err != nil {
		if delErr := s.staging.DeleteDraft(ctx, note.ID); delErr != nil {
			s.log.Warn("failed to remove orphaned credit note", zap.String("invoice_id", note.ID.String()), zap.Error(delErr))
		}
		return nil, err
	}

	s.record(ctx, refund, "refund.previewed")
	return &Preview{Refund: refund, CreditNote: note, Refundable: refundable}, nil
}

// CategoryChangeInput stages the refund owed after a downgrade.
type CategoryChangeInput struct {
	PaymentID  snowflake.ID
	CreditNote *stagingdomain.Invoice
	CreatedBy  string
}

// CreateForCreditNote registers a staged refund for an existing draft
// credit note produced by a category downgrade.
func (s *Service) CreateForCreditNote(ctx context.Context, in CategoryChangeInput) (*domain.Refund, error) {
	if in.CreditNote == nil || in.CreditNote.Type != stagingdomain.DocumentTypeCreditNote {
		return nil, domain.ErrInvalidRequest
	}
	payment, err := s.loadPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, err
	}
	refundable, err := s.refundable(ctx, payment)
	if err != nil {
		return nil, err
	}
	if in.CreditNote.NetAmount > refundable {
		return nil, domain.ErrRefundExceedsBalance
	}

	now := s.clock.Now()
	refund := &domain.Refund{
		ID:               s.genID.Generate(),
		PaymentID:        payment.ID,
		UserID:           payment.UserID,
		Type:             domain.TypeCategoryChange,
		AmountCents:      in.CreditNote.NetAmount,
		Status:           domain.StatusStaged,
		StagingInvoiceID: &in.CreditNote.ID,
		Reason:           optional("category change"),
		CreatedBy:        optional(in.CreatedBy),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, refund); err != nil {
		return nil, err
	}
	if err := s.staging.AttachRefund(ctx, in.CreditNote.ID, refund.ID); err != nil {
		return nil, err
	}
	s.record(ctx, refund, "refund.previewed")
	return refund, nil
}

// Confirm sends a staged refund to the processor. Zero-amount refunds
// complete immediately.
func (s *Service) Confirm(ctx context.Context, refundID snowflake.ID) (*domain.Refund, error) {
	refund, err := s.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}
	switch refund.Status {
	case domain.StatusStaged:
	case domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted:
		return refund, nil
	default:
		return nil, domain.ErrInvalidRefundStatus
	}

	if refund.AmountCents == 0 {
		// The credit note is promoted first so a failed promotion leaves the
		// refund staged and retryable.
		if err := s.promoteCreditNote(ctx, refund); err != nil {
			return nil, err
		}
		ok, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusStaged}, domain.StatusCompleted, s.clock.Now())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidRefundStatus
		}
		refund.Status = domain.StatusCompleted
		s.record(ctx, refund, "refund.completed")
		return refund, nil
	}

	if s.gateway == nil {
		return nil, paymentdomain.ErrRefundGatewayDisabled
	}
	payment, err := s.loadPayment(ctx, refund.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.IntentID() == "" {
		return nil, paymentdomain.ErrMissingPaymentIntent
	}

	ok, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusStaged}, domain.StatusPending, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidRefundStatus
	}
	refund.Status = domain.StatusPending

	result, err := s.gateway.CreateRefund(ctx, paymentdomain.RefundRequest{
		PaymentIntentID: payment.IntentID(),
		Amount:          refund.AmountCents,
		IdempotencyKey:  "refund-" + refund.ID.String(),
		Metadata: map[string]string{
			"refundId":  refund.ID.String(),
			"paymentId": payment.ID.String(),
			"userId":    refund.UserID,
		},
	})
	if err != nil {
		if failErr := s.fail(ctx, refund, err.Error()); failErr != nil {
			s.log.Error("failed to record refund failure", zap.String("refund_id", refund.ID.String()), zap.Error(failErr))
		}
		return nil, fmt.Errorf("create provider refund: %w", err)
	}

	now := s.clock.Now()
	if err := s.repo.SetProviderRefund(ctx, s.db, refund.ID, result.ProviderRefundID, now); err != nil {
		return nil, err
	}
	refund.StripeRefundID = &result.ProviderRefundID

	switch result.Status {
	case paymentdomain.RefundStateSucceeded:
		return s.complete(ctx, refund)
	case paymentdomain.RefundStateFailed, paymentdomain.RefundStateCanceled:
		if err := s.fail(ctx, refund, "provider reported "+result.Status); err != nil {
			return nil, err
		}
		return refund, nil
	}

	if _, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusPending}, domain.StatusProcessing, now); err != nil {
		return nil, err
	}
	refund.Status = domain.StatusProcessing
	s.record(ctx, refund, "refund.confirmed")
	return refund, nil
}

// Cancel abandons a staged refund and its draft credit note.
func (s *Service) Cancel(ctx context.Context, refundID snowflake.ID) (*domain.Refund, error) {
	refund, err := s.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status == domain.StatusCancelled {
		return refund, nil
	}
	ok, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusStaged}, domain.StatusCancelled, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidRefundStatus
	}
	if refund.StagingInvoiceID != nil {
		if err := s.staging.DeleteDraft(ctx, *refund.StagingInvoiceID); err != nil {
			return nil, err
		}
	}
	refund.Status = domain.StatusCancelled
	s.record(ctx, refund, "refund.cancelled")
	return refund, nil
}

// ProviderUpdate is a refund state change reported by the processor.
type ProviderUpdate struct {
	RefundID         *snowflake.ID
	ProviderRefundID string
	State            string
	FailureReason    string
}

// HandleProviderUpdate applies a processor refund event. Repeated events for
// a settled refund are no-ops.
func (s *Service) HandleProviderUpdate(ctx context.Context, update ProviderUpdate) (*domain.Refund, error) {
	var (
		refund *domain.Refund
		err    error
	)
	if update.RefundID != nil {
		refund, err = s.repo.Find(ctx, s.db, *update.RefundID)
	} else {
		refund, err = s.repo.FindByProviderID(ctx, s.db, update.ProviderRefundID)
	}
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	if refund.StripeRefundID == nil && update.ProviderRefundID != "" {
		if err := s.repo.SetProviderRefund(ctx, s.db, refund.ID, update.ProviderRefundID, s.clock.Now()); err != nil {
			return nil, err
		}
		refund.StripeRefundID = &update.ProviderRefundID
	}

	switch update.State {
	case paymentdomain.RefundStateSucceeded:
		if refund.Status == domain.StatusCompleted {
			return refund, nil
		}
		if !refund.Status.Open() {
			return nil, domain.ErrInvalidRefundStatus
		}
		return s.complete(ctx, refund)
	case paymentdomain.RefundStateFailed, paymentdomain.RefundStateCanceled:
		if refund.Status == domain.StatusFailed {
			return refund, nil
		}
		if !refund.Status.Open() {
			return nil, domain.ErrInvalidRefundStatus
		}
		reason := strings.TrimSpace(update.FailureReason)
		if reason == "" {
			reason = "provider reported " + update.State
		}
		if err := s.fail(ctx, refund, reason); err != nil {
			return nil, err
		}
		return refund, nil
	default:
		if refund.Status == domain.StatusPending {
			if _, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusPending}, domain.StatusProcessing, s.clock.Now()); err != nil {
				return nil, err
			}
			refund.Status = domain.StatusProcessing
		}
		return refund, nil
	}
}

func (s *Service) Get(ctx context.Context, refundID snowflake.ID) (*domain.Refund, error) {
	refund, err := s.repo.Find(ctx, s.db, refundID)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		return nil, domain.ErrRefundNotFound
	}
	return refund, nil
}

func (s *Service) complete(ctx context.Context, refund *domain.Refund) (*domain.Refund, error) {
	ok, err := s.repo.Transition(ctx, s.db, refund.ID, []domain.Status{domain.StatusPending, domain.StatusProcessing}, domain.StatusCompleted, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.Get(ctx, refund.ID)
	}
	if err := s.promoteCreditNote(ctx, refund); err != nil {
		return nil, err
	}
	refund.Status = domain.StatusCompleted
	s.record(ctx, refund, "refund.completed")
	return refund, nil
}

func (s *Service) fail(ctx context.Context, refund *domain.Refund, reason string) error {
	_, err := s.repo.MarkFailed(ctx, s.db, refund.ID, []domain.Status{domain.StatusPending, domain.StatusProcessing}, truncate(reason, 1000), s.clock.Now())
	if err != nil {
		return err
	}
	if refund.StagingInvoiceID != nil {
		if err := s.staging.DeleteDraft(ctx, *refund.StagingInvoiceID); err != nil {
			return err
		}
	}
	refund.Status = domain.StatusFailed
	refund.FailureReason = &reason
	s.record(ctx, refund, "refund.failed")
	return nil
}

func (s *Service) promoteCreditNote(ctx context.Context, refund *domain.Refund) error {
	if refund.StagingInvoiceID == nil {
		return nil
	}
	if _, err := s.staging.Promote(ctx, *refund.StagingInvoiceID); err != nil {
		if errors.Is(err, stagingdomain.ErrInvoiceNotFound) {
			s.log.Warn("credit note missing for completed refund", zap.String("refund_id", refund.ID.String()))
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) loadPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	payment, err := s.paymentRepo.FindPayment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		return nil, domain.ErrPaymentNotRefundable
	}
	return payment, nil
}

func (s *Service) refundable(ctx context.Context, payment *paymentdomain.Payment) (int64, error) {
	committed, err := s.repo.SumCommitted(ctx, s.db, payment.ID)
	if err != nil {
		return 0, err
	}
	remaining := payment.AmountCents - committed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *Service) seasonOf(ctx context.Context, payment *paymentdomain.Payment) (snowflake.ID, error) {
	if payment.RegistrationID != nil {
		reg, err := s.regRepo.FindRegistration(ctx, s.db, *payment.RegistrationID)
		if err != nil {
			return 0, err
		}
		if reg != nil {
			return reg.SeasonID, nil
		}
	}
	if payment.MembershipCategoryID != nil {
		category, err := s.regRepo.FindCategory(ctx, s.db, *payment.MembershipCategoryID)
		if err != nil {
			return 0, err
		}
		if category != nil {
			return category.SeasonID, nil
		}
	}
	return 0, regdomain.ErrSeasonNotFound
}

func (s *Service) record(ctx context.Context, refund *domain.Refund, action string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRefund(ctx, string(refund.Type), string(refund.Status))
	}
	s.log.Info(action,
		zap.String("refund_id", refund.ID.String()),
		zap.String("payment_id", refund.PaymentID.String()),
		zap.String("status", string(refund.Status)),
		zap.Int64("amount_cents", refund.AmountCents),
	)
	if s.auditSvc == nil {
		return
	}
	targetID := refund.ID.String()
	_ = s.auditSvc.AuditLog(ctx, "", nil, action, "refund", &targetID, map[string]any{
		"payment_id":   refund.PaymentID.String(),
		"type":         string(refund.Type),
		"status":       string(refund.Status),
		"amount_cents": refund.AmountCents,
	})
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// truncate cuts value to at most max bytes without splitting a rune.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := 0
	for i := range value {
		if i > max {
			break
		}
		cut = i
	}
	return value[:cut]
}

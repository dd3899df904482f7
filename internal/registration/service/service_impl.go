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
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
	"github.com/smallbiznis/registrar/internal/registration/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	PaymentRepo paymentdomain.Repository
	Staging     *stagingservice.Service
	RefundSvc   *refundservice.Service
	Charges     paymentdomain.ChargeGateway `optional:"true"`
	AuditSvc    auditdomain.Service         `optional:"true"`
	Clock       clock.Clock                 `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	paymentRepo paymentdomain.Repository
	staging     *stagingservice.Service
	refundSvc   *refundservice.Service
	charges     paymentdomain.ChargeGateway
	auditSvc    auditdomain.Service
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
		log:         p.Log.Named("registration.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		paymentRepo: p.PaymentRepo,
		staging:     p.Staging,
		refundSvc:   p.RefundSvc,
		charges:     p.Charges,
		auditSvc:    p.AuditSvc,
		clock:       clk,
		validate:    validator.New(),
	}
}

type ChangeCategoryRequest struct {
	RegistrationID snowflake.ID `json:"-" validate:"required"`
	NewCategoryID  snowflake.ID `json:"new_category_id" validate:"required"`
	RequestedBy    string       `json:"-"`
}

type ChangeCategoryResult struct {
	Change       *stagingservice.ChangeResult `json:"change"`
	Registration *domain.Registration         `json:"registration"`
	Payment      *paymentdomain.Payment       `json:"payment,omitempty"`
	Refund       *refunddomain.Refund         `json:"refund,omitempty"`
	ChargeError  string                       `json:"charge_error,omitempty"`
	RefundError  string                       `json:"refund_error,omitempty"`
}

// ChangeCategory moves a paid registration to another category. Upgrades
// create a payment and charge the card of the original payment off session;
// the registration stays in place until that payment settles, and a failed
// charge leaves the payment awaiting checkout. Downgrades send a refund for
// the difference to the processor and then move the registration; a refund
// the processor rejects leaves the registration where it was.
func (s *Service) ChangeCategory(ctx context.Context, tenantID string, req ChangeCategoryRequest) (*ChangeCategoryResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidRequest, err.Error())
	}

	reg, err := s.repo.FindRegistration(ctx, s.db, req.RegistrationID)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, domain.ErrRegistrationNotFound
	}

	change, err := s.staging.ChangeCategory(ctx, tenantID, stagingservice.ChangeRequest{
		RegistrationID: req.RegistrationID,
		NewCategoryID:  req.NewCategoryID,
	})
	if err != nil {
		return nil, err
	}
	result := &ChangeCategoryResult{Change: change}

	switch change.Kind {
	case stagingservice.ChangeKindUpgrade:
		payment, err := s.createChangePayment(ctx, reg, change)
		if err != nil {
			s.discardDraft(ctx, change)
			return nil, err
		}
		result.Payment = payment
		if err := s.chargeChange(ctx, reg, payment); err != nil {
			s.log.Warn("category change charge failed",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
			result.ChargeError = err.Error()
		}
	case stagingservice.ChangeKindDowngrade:
		if reg.PaymentID == nil {
			s.discardDraft(ctx, change)
			return nil, domain.ErrRegistrationNotPaid
		}
		refund, err := s.refundSvc.CreateForCreditNote(ctx, refundservice.CategoryChangeInput{
			PaymentID:  *reg.PaymentID,
			CreditNote: change.Invoice,
			CreatedBy:  req.RequestedBy,
		})
		if err != nil {
			s.discardDraft(ctx, change)
			return nil, err
		}
		result.Refund = refund
		confirmed, err := s.refundSvc.Confirm(ctx, refund.ID)
		switch {
		case errors.Is(err, paymentdomain.ErrRefundGatewayDisabled):
			// The refund stays staged for an operator to confirm later.
			s.log.Warn("category change refund left staged", zap.String("refund_id", refund.ID.String()), zap.Error(err))
			result.RefundError = err.Error()
		case err != nil:
			return nil, err
		default:
			result.Refund = confirmed
		}
		if err := s.move(ctx, reg, req.NewCategoryID, change); err != nil {
			return nil, err
		}
	default:
		if err := s.move(ctx, reg, req.NewCategoryID, change); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.FindRegistration(ctx, s.db, reg.ID)
	if err != nil {
		return nil, err
	}
	result.Registration = updated

	s.writeAuditLog(ctx, req, reg, result)
	return result, nil
}

func (s *Service) createChangePayment(ctx context.Context, reg *domain.Registration, change *stagingservice.ChangeResult) (*paymentdomain.Payment, error) {
	if change.Invoice == nil {
		return nil, errors.New("category_upgrade_without_invoice")
	}
	now := s.clock.Now()
	regID := reg.ID
	payment := &paymentdomain.Payment{
		ID:             s.genID.Generate(),
		UserID:         reg.UserID,
		Kind:           paymentdomain.PaymentKindCategoryChange,
		RegistrationID: &regID,
		AmountCents:    change.AmountToCharge,
		Currency:       strings.ToLower(change.Invoice.Currency),
		Status:         paymentdomain.PaymentStatusAwaitingPayment,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.paymentRepo.InsertPayment(ctx, s.db, payment); err != nil {
		return nil, err
	}
	if err := s.staging.AttachPayment(ctx, change.Invoice.ID, payment.ID); err != nil {
		return nil, err
	}
	return payment, nil
}

// chargeChange charges an upgrade against the card behind the registration's
// original payment. Without a gateway or a prior intent the payment simply
// waits for checkout.
func (s *Service) chargeChange(ctx context.Context, reg *domain.Registration, payment *paymentdomain.Payment) error {
	if s.charges == nil || reg.PaymentID == nil {
		return nil
	}
	source, err := s.paymentRepo.FindPayment(ctx, s.db, *reg.PaymentID)
	if err != nil {
		return err
	}
	if source == nil || source.IntentID() == "" {
		return nil
	}

	charge, err := s.charges.CreateCharge(ctx, paymentdomain.ChargeRequest{
		SourceIntentID: source.IntentID(),
		Amount:         payment.AmountCents,
		Currency:       payment.Currency,
		IdempotencyKey: "category-change-" + payment.ID.String(),
		Metadata: map[string]string{
			"paymentId":      payment.ID.String(),
			"registrationId": reg.ID.String(),
			"userId":         reg.UserID,
			"kind":           string(paymentdomain.PaymentKindCategoryChange),
		},
	})
	if err != nil {
		return err
	}
	if err := s.paymentRepo.AttachIntent(ctx, s.db, payment.ID, charge.ProviderPaymentID, s.clock.Now()); err != nil {
		return err
	}
	payment.StripePaymentIntentID = &charge.ProviderPaymentID
	return nil
}

func (s *Service) move(ctx context.Context, reg *domain.Registration, categoryID snowflake.ID, change *stagingservice.ChangeResult) error {
	adjustmentID := s.genID.Generate()
	if change.Invoice != nil {
		adjustmentID = change.Invoice.ID
	}
	return s.staging.ApplyCategoryChange(ctx, stagingdomain.CategoryChangeMetadata{
		UserID:         reg.UserID,
		RegistrationID: reg.ID,
		OldCategoryID:  reg.CategoryID,
		NewCategoryID:  categoryID,
		NewAmountPaid:  change.NewEffective,
		NewDiscount:    change.NewDiscount,
	}, adjustmentID)
}

func (s *Service) discardDraft(ctx context.Context, change *stagingservice.ChangeResult) {
	if change.Invoice == nil {
		return
	}
	if err := s.staging.DeleteDraft(ctx, change.Invoice.ID); err != nil {
		s.log.Warn("failed to discard category change draft", zap.String("invoice_id", change.Invoice.ID.String()), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Registration, error) {
	reg, err := s.repo.FindRegistration(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, domain.ErrRegistrationNotFound
	}
	return reg, nil
}

func (s *Service) writeAuditLog(ctx context.Context, req ChangeCategoryRequest, before *domain.Registration, result *ChangeCategoryResult) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"old_category_id": before.CategoryID.String(),
		"new_category_id": req.NewCategoryID.String(),
		"kind":            string(result.Change.Kind),
		"difference":      result.Change.PriceDifference,
	}
	if result.Payment != nil {
		metadata["payment_id"] = result.Payment.ID.String()
	}
	if result.Refund != nil {
		metadata["refund_id"] = result.Refund.ID.String()
	}
	var actorID *string
	if req.RequestedBy != "" {
		actorID = &req.RequestedBy
	}
	targetID := before.ID.String()
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAdmin), actorID, "registration.category_changed", "registration", &targetID, metadata); err != nil {
		s.log.Warn("failed to write registration audit log", zap.Error(err))
	}
}

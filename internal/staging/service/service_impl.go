package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/config"
	discountdomain "github.com/smallbiznis/registrar/internal/discount/domain"
	discountservice "github.com/smallbiznis/registrar/internal/discount/service"
	obsmetrics "github.com/smallbiznis/registrar/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"github.com/smallbiznis/registrar/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             stagingdomain.Repository
	RegistrationRepo regdomain.Repository
	PaymentRepo      paymentdomain.Repository
	DiscountSvc      *discountservice.Service
	AccountingConfig *config.AccountingConfigHolder
	ObsMetrics       *obsmetrics.Metrics `optional:"true"`
	Clock            clock.Clock         `optional:"true"`
}

// Service is the staging manager. It turns completed payments, refunds and
// category changes into balanced staging documents.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        stagingdomain.Repository
	regRepo     regdomain.Repository
	paymentRepo paymentdomain.Repository
	discountSvc *discountservice.Service
	cfg         *config.AccountingConfigHolder
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
		log:         p.Log.Named("staging.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		regRepo:     p.RegistrationRepo,
		paymentRepo: p.PaymentRepo,
		discountSvc: p.DiscountSvc,
		cfg:         p.AccountingConfig,
		obsMetrics:  p.ObsMetrics,
		clock:       clk,
	}
}

// CreateForPayment stages the sales invoice for a completed registration or
// membership payment. An existing staging for the same payment and reason is
// returned unchanged.
func (s *Service) CreateForPayment(ctx context.Context, tenantID string, paymentID snowflake.ID, reason stagingdomain.Reason) (*stagingdomain.Invoice, error) {
	if reason != stagingdomain.ReasonNewRegistration && reason != stagingdomain.ReasonMembership {
		return nil, stagingdomain.ErrUnsupportedReason
	}

	existing, err := s.repo.FindByPaymentReason(ctx, s.db, paymentID, reason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	payment, err := s.paymentRepo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if payment.Status != paymentdomain.PaymentStatusCompleted {
		return nil, stagingdomain.ErrPaymentNotCompleted
	}

	var (
		categoryID     snowflake.ID
		registrationID *snowflake.ID
		metadata       stagingdomain.Metadata
	)
	switch reason {
	case stagingdomain.ReasonNewRegistration:
		if payment.RegistrationID == nil {
			return nil, regdomain.ErrRegistrationNotFound
		}
		reg, err := s.regRepo.FindRegistration(ctx, s.db, *payment.RegistrationID)
		if err != nil {
			return nil, err
		}
		if reg == nil {
			return nil, regdomain.ErrRegistrationNotFound
		}
		categoryID = reg.CategoryID
		registrationID = &reg.ID
		metadata = stagingdomain.NewRegistrationMetadata{
			UserID:         payment.UserID,
			RegistrationID: reg.ID,
			CategoryID:     reg.CategoryID,
			DiscountCodeID: payment.DiscountCodeID,
		}
	case stagingdomain.ReasonMembership:
		if payment.MembershipCategoryID == nil {
			return nil, regdomain.ErrCategoryNotFound
		}
		categoryID = *payment.MembershipCategoryID
		metadata = stagingdomain.MembershipMetadata{
			UserID:     payment.UserID,
			CategoryID: categoryID,
		}
	}

	category, err := s.loadCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if category.Code() == "" {
		return nil, missingCategoryCode(category)
	}

	cfg := s.cfg.Get()
	gross := payment.AmountCents + payment.DiscountCents
	builder := newLineBuilder(s.genID, cfg.TaxType)
	builder.add(category.Name, gross, category.Code())
	if payment.DiscountCents > 0 {
		discountCode, err := s.discountAccountCode(ctx, payment.DiscountCodeID)
		if err != nil {
			return nil, err
		}
		builder.add("Discount", -payment.DiscountCents, discountCode)
	}

	invoice, err := s.newInvoice(tenantID, stagingdomain.DocumentTypeInvoice, reason, metadata)
	if err != nil {
		return nil, err
	}
	invoice.Status = stagingdomain.StatusPending
	if payment.AmountCents == 0 {
		invoice.Status = stagingdomain.StatusStaged
	}
	invoice.Currency = currencyOr(payment.Currency, cfg.DefaultCurrency)
	invoice.PaymentID = &payment.ID
	invoice.RegistrationID = registrationID
	invoice.UserID = payment.UserID
	invoice.Reference = reference(cfg.ReferencePrefix, payment.ID)
	invoice.LineItems = builder.lines

	if err := s.insert(ctx, invoice); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.repo.FindByPaymentReason(ctx, s.db, paymentID, reason)
		}
		return nil, err
	}
	if invoice.NetAmount != payment.AmountCents {
		s.log.Error("staged invoice does not match payment amount",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("net_amount", invoice.NetAmount),
			zap.Int64("payment_amount", payment.AmountCents),
		)
	}
	return invoice, nil
}

// RefundInput describes the refund a credit note is staged for.
type RefundInput struct {
	RefundID       snowflake.ID
	PaymentID      snowflake.ID
	UserID         string
	Proportional   bool
	Amount         int64
	DiscountCodeID *snowflake.ID
	SeasonID       snowflake.ID
}

// CreateRefundCreditNote stages a draft credit note for a refund.
func (s *Service) CreateRefundCreditNote(ctx context.Context, tenantID string, in RefundInput) (*stagingdomain.Invoice, error) {
	if in.Amount < 0 {
		return nil, stagingdomain.ErrInvalidRefundAmount
	}
	existing, err := s.repo.FindByRefund(ctx, s.db, in.RefundID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	cfg := s.cfg.Get()
	builder := newLineBuilder(s.genID, cfg.TaxType)

	var (
		reason   stagingdomain.Reason
		metadata stagingdomain.Metadata
		currency = cfg.DefaultCurrency
		regID    *snowflake.ID
	)
	if in.Proportional {
		source, err := s.repo.FindByPaymentReason(ctx, s.db, in.PaymentID, stagingdomain.ReasonNewRegistration, stagingdomain.ReasonMembership)
		if err != nil {
			return nil, err
		}
		if source == nil {
			return nil, stagingdomain.ErrSourceInvoiceNotFound
		}
		if in.Amount > source.NetAmount {
			return nil, stagingdomain.ErrRefundExceedsSource
		}
		weights := make([]int64, len(source.LineItems))
		for i, line := range source.LineItems {
			weights[i] = line.LineAmount
		}
		for i, part := range Distribute(in.Amount, weights) {
			line := source.LineItems[i]
			builder.add("Refund: "+line.Description, part, line.AccountCode)
		}
		if len(builder.lines) == 0 && len(source.LineItems) > 0 {
			line := source.LineItems[0]
			builder.put("Refund: "+line.Description, 0, line.AccountCode)
		}
		reason = stagingdomain.ReasonRefundProportional
		metadata = stagingdomain.RefundProportionalMetadata{
			UserID:          in.UserID,
			RefundID:        in.RefundID,
			SourceInvoiceID: source.ID,
		}
		currency = source.Currency
		regID = source.RegistrationID
	} else {
		if in.DiscountCodeID == nil {
			return nil, stagingdomain.ErrInvalidMetadata
		}
		code, err := s.discountAccountCode(ctx, in.DiscountCodeID)
		if err != nil {
			return nil, err
		}
		builder.put("Discount refund", in.Amount, code)
		reason = stagingdomain.ReasonRefundDiscountCode
		metadata = stagingdomain.RefundDiscountCodeMetadata{
			UserID:         in.UserID,
			RefundID:       in.RefundID,
			DiscountCodeID: *in.DiscountCodeID,
			SeasonID:       in.SeasonID,
		}
	}

	invoice, err := s.newInvoice(tenantID, stagingdomain.DocumentTypeCreditNote, reason, metadata)
	if err != nil {
		return nil, err
	}
	invoice.Status = stagingdomain.StatusDraft
	invoice.Currency = currency
	invoice.PaymentID = &in.PaymentID
	invoice.RefundID = &in.RefundID
	invoice.RegistrationID = regID
	invoice.UserID = in.UserID
	invoice.Reference = reference(cfg.ReferencePrefix+"-RF", in.RefundID)
	invoice.LineItems = builder.lines

	if err := s.insert(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Promote moves a draft to pending so the next sync run pushes it. Promoting
// a discount-code refund credit note returns the refunded amount to the
// user's seasonal discount allowance.
func (s *Service) Promote(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error) {
	invoice, err := s.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == stagingdomain.StatusPending {
		return invoice, nil
	}
	if invoice.Status != stagingdomain.StatusDraft {
		return nil, stagingdomain.ErrNotDraft
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.TransitionInvoice(ctx, tx, invoice.ID, []stagingdomain.Status{stagingdomain.StatusDraft}, stagingdomain.StatusPending, now)
		if err != nil {
			return err
		}
		if !ok {
			return stagingdomain.ErrNotDraft
		}
		if invoice.Reason != stagingdomain.ReasonRefundDiscountCode || invoice.NetAmount == 0 {
			return nil
		}
		meta, err := stagingdomain.DecodeMetadata(invoice.Metadata)
		if err != nil {
			return err
		}
		refundMeta, ok := meta.(stagingdomain.RefundDiscountCodeMetadata)
		if !ok {
			return stagingdomain.ErrInvalidMetadata
		}
		return s.discountSvc.RestoreForRefund(ctx, tx, refundMeta.UserID, refundMeta.DiscountCodeID, refundMeta.SeasonID, refundMeta.RefundID, invoice.NetAmount)
	})
	if err != nil {
		return nil, err
	}

	invoice.Status = stagingdomain.StatusPending
	invoice.UpdatedAt = now
	return invoice, nil
}

// PromoteDrafts promotes every draft staged against a payment.
func (s *Service) PromoteDrafts(ctx context.Context, paymentID snowflake.ID) ([]stagingdomain.Invoice, error) {
	drafts, err := s.repo.ListDraftsByPayment(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	promoted := make([]stagingdomain.Invoice, 0, len(drafts))
	for _, draft := range drafts {
		invoice, err := s.Promote(ctx, draft.ID)
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, *invoice)
	}
	return promoted, nil
}

// DeleteDrafts removes abandoned drafts for a failed payment.
func (s *Service) DeleteDrafts(ctx context.Context, paymentID snowflake.ID) (int, error) {
	drafts, err := s.repo.ListDraftsByPayment(ctx, s.db, paymentID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, draft := range drafts {
		ok, err := s.repo.DeleteDraft(ctx, s.db, draft.ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func (s *Service) DeleteDraft(ctx context.Context, invoiceID snowflake.ID) error {
	ok, err := s.repo.DeleteDraft(ctx, s.db, invoiceID)
	if err != nil {
		return err
	}
	if !ok {
		invoice, err := s.repo.FindInvoice(ctx, s.db, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return nil
		}
		return stagingdomain.ErrNotDraft
	}
	return nil
}

// AttachPayment links a draft staged before its payment row existed.
func (s *Service) AttachPayment(ctx context.Context, invoiceID snowflake.ID, paymentID snowflake.ID) error {
	return s.repo.AttachPayment(ctx, s.db, invoiceID, paymentID, s.clock.Now())
}

func (s *Service) AttachRefund(ctx context.Context, invoiceID snowflake.ID, refundID snowflake.ID) error {
	return s.repo.AttachRefund(ctx, s.db, invoiceID, refundID, s.clock.Now())
}

// EnsurePayment stages the payment application for a synced invoice that
// moved money. Zero-net invoices never get one.
func (s *Service) EnsurePayment(ctx context.Context, invoice *stagingdomain.Invoice, accountCode string) (*stagingdomain.Payment, error) {
	if invoice == nil {
		return nil, stagingdomain.ErrInvoiceNotFound
	}
	if invoice.NetAmount == 0 {
		return nil, nil
	}
	if invoice.RemoteID() == "" {
		return nil, stagingdomain.ErrInvoiceNotSynced
	}
	accountCode = strings.TrimSpace(accountCode)
	if accountCode == "" {
		return nil, &stagingdomain.MissingAccountingCodeError{Kind: "bank_account", Name: "bank account code"}
	}

	now := s.clock.Now()
	payment := &stagingdomain.Payment{
		ID:          s.genID.Generate(),
		TenantID:    invoice.TenantID,
		InvoiceID:   invoice.ID,
		Amount:      invoice.NetAmount,
		AccountCode: accountCode,
		Reference:   invoice.Reference,
		Status:      stagingdomain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	inserted, err := s.repo.InsertPayment(ctx, s.db, payment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.repo.FindPaymentByInvoice(ctx, s.db, invoice.ID)
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordStagingCreated(ctx, "payment", string(invoice.Reason))
	}
	return payment, nil
}

// Ignore parks a row so sync runs skip it. Synced rows cannot be ignored.
func (s *Service) Ignore(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error) {
	ok, err := s.repo.TransitionInvoice(ctx, s.db, invoiceID, []stagingdomain.Status{
		stagingdomain.StatusDraft,
		stagingdomain.StatusStaged,
		stagingdomain.StatusPending,
		stagingdomain.StatusFailed,
	}, stagingdomain.StatusIgnore, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Get(ctx, invoiceID); err != nil {
			return nil, err
		}
		return nil, stagingdomain.ErrInvalidTransition
	}
	return s.Get(ctx, invoiceID)
}

// Requeue makes a failed or ignored row selectable on the next run.
func (s *Service) Requeue(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error) {
	ok, err := s.repo.RequeueInvoice(ctx, s.db, invoiceID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.Get(ctx, invoiceID); err != nil {
			return nil, err
		}
		return nil, stagingdomain.ErrInvalidTransition
	}
	return s.Get(ctx, invoiceID)
}

func (s *Service) Get(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Invoice, error) {
	invoice, err := s.repo.FindInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, stagingdomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) FindByRefund(ctx context.Context, refundID snowflake.ID) (*stagingdomain.Invoice, error) {
	return s.repo.FindByRefund(ctx, s.db, refundID)
}

// FindForPayment returns the document staged for a payment under one of
// the given reasons.
func (s *Service) FindForPayment(ctx context.Context, paymentID snowflake.ID, reasons ...stagingdomain.Reason) (*stagingdomain.Invoice, error) {
	return s.repo.FindByPaymentReason(ctx, s.db, paymentID, reasons...)
}

func (s *Service) FindPayment(ctx context.Context, invoiceID snowflake.ID) (*stagingdomain.Payment, error) {
	return s.repo.FindPaymentByInvoice(ctx, s.db, invoiceID)
}

func (s *Service) insert(ctx context.Context, invoice *stagingdomain.Invoice) error {
	invoice.NetAmount = invoice.LineTotal()
	if invoice.Type == stagingdomain.DocumentTypeInvoice && invoice.NetAmount < 0 {
		return stagingdomain.ErrUnbalancedInvoice
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.InsertInvoice(ctx, tx, invoice)
	})
	if err != nil {
		return err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordStagingCreated(ctx, string(invoice.Type), string(invoice.Reason))
	}
	s.log.Info("staging document created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("type", string(invoice.Type)),
		zap.String("reason", string(invoice.Reason)),
		zap.String("status", string(invoice.Status)),
		zap.Int64("net_amount", invoice.NetAmount),
	)
	return nil
}

func (s *Service) newInvoice(tenantID string, docType stagingdomain.DocumentType, reason stagingdomain.Reason, metadata stagingdomain.Metadata) (*stagingdomain.Invoice, error) {
	if metadata == nil || metadata.Reason() != reason {
		return nil, stagingdomain.ErrInvalidMetadata
	}
	encoded, err := stagingdomain.EncodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return &stagingdomain.Invoice{
		ID:        s.genID.Generate(),
		TenantID:  strings.TrimSpace(tenantID),
		Type:      docType,
		Reason:    reason,
		Metadata:  encoded,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) loadCategory(ctx context.Context, id snowflake.ID) (*regdomain.Category, error) {
	category, err := s.regRepo.FindCategory(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if category == nil {
		return nil, regdomain.ErrCategoryNotFound
	}
	return category, nil
}

func (s *Service) discountAccountCode(ctx context.Context, codeID *snowflake.ID) (string, error) {
	if codeID == nil {
		return "", &stagingdomain.MissingAccountingCodeError{Kind: "discount_category", Name: "unknown discount"}
	}
	code, err := s.discountSvc.FindCode(ctx, *codeID)
	if err != nil {
		return "", err
	}
	if code == nil {
		return "", fmt.Errorf("discount code %s: %w", codeID.String(), discountdomain.ErrDiscountCodeNotFound)
	}
	category, err := s.discountSvc.FindCategory(ctx, code.DiscountCategoryID)
	if err != nil {
		return "", err
	}
	if category == nil || category.Code() == "" {
		name := code.Code
		id := code.DiscountCategoryID.String()
		if category != nil {
			name = category.Name
		}
		return "", &stagingdomain.MissingAccountingCodeError{Kind: "discount_category", ID: id, Name: name}
	}
	return category.Code(), nil
}

func missingCategoryCode(category *regdomain.Category) error {
	return &stagingdomain.MissingAccountingCodeError{
		Kind: "category",
		ID:   category.ID.String(),
		Name: category.Name,
	}
}

func currencyOr(value, fallback string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return strings.ToUpper(fallback)
	}
	return value
}

func reference(prefix string, id snowflake.ID) *string {
	prefix = strings.TrimSpace(prefix)
	ref := id.String()
	if prefix != "" {
		ref = prefix + "-" + ref
	}
	return &ref
}

type lineBuilder struct {
	genID   *snowflake.Node
	taxType string
	lines   []stagingdomain.LineItem
}

func newLineBuilder(genID *snowflake.Node, taxType string) *lineBuilder {
	return &lineBuilder{genID: genID, taxType: taxType}
}

// add appends a single-quantity line; zero amounts are skipped.
func (b *lineBuilder) add(description string, amount int64, accountCode string) {
	if amount == 0 {
		return
	}
	b.put(description, amount, accountCode)
}

// put appends a single-quantity line even when the amount is zero.
func (b *lineBuilder) put(description string, amount int64, accountCode string) {
	b.lines = append(b.lines, stagingdomain.LineItem{
		ID:          b.genID.Generate(),
		Position:    len(b.lines) + 1,
		Description: description,
		Quantity:    1,
		UnitAmount:  amount,
		LineAmount:  amount,
		AccountCode: accountCode,
		TaxType:     b.taxType,
	})
}

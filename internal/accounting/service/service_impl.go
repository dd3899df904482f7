package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/accounting/domain"
	"github.com/smallbiznis/registrar/internal/accounting/xero"
	"github.com/smallbiznis/registrar/internal/clock"
	"github.com/smallbiznis/registrar/internal/config"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// Gateway is the remote accounting API.
type Gateway interface {
	CreateInvoice(ctx context.Context, tenantID string, invoice xero.Invoice) (*xero.Invoice, error)
	CreateCreditNote(ctx context.Context, tenantID string, note xero.CreditNote) (*xero.CreditNote, error)
	AuthoriseInvoice(ctx context.Context, tenantID string, invoiceID string) error
	AuthoriseCreditNote(ctx context.Context, tenantID string, creditNoteID string) error
	CreatePayment(ctx context.Context, tenantID string, payment xero.Payment) (*xero.Payment, error)
	ListAccounts(ctx context.Context, tenantID string) ([]xero.Account, error)
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Repo             domain.Repository
	Gateway          Gateway
	AccountingConfig *config.AccountingConfigHolder
	Clock            clock.Clock `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	gateway Gateway
	cfg     *config.AccountingConfigHolder
	clock   clock.Clock
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("accounting.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		gateway: p.Gateway,
		cfg:     p.AccountingConfig,
		clock:   clk,
	}
}

// SubmitInvoice pushes a staged invoice or credit note. Zero-net documents
// are created AUTHORISED since no payment will ever be applied to them.
func (s *Service) SubmitInvoice(ctx context.Context, tenant domain.Tenant, invoice *stagingdomain.Invoice) (*domain.SubmitResult, error) {
	if invoice == nil || len(invoice.LineItems) == 0 {
		return nil, domain.ErrEmptyDocument
	}
	cfg := s.cfg.Get()

	status := xero.StatusDraft
	if invoice.NetAmount == 0 {
		status = xero.StatusAuthorised
	}
	date := invoice.CreatedAt.UTC()
	if date.IsZero() {
		date = s.clock.Now().UTC()
	}
	contact := &xero.Contact{Name: contactName(invoice)}
	if invoice.ContactEmail != nil {
		contact.EmailAddress = strings.TrimSpace(*invoice.ContactEmail)
	}
	var ref string
	if invoice.Reference != nil {
		ref = *invoice.Reference
	}
	lines := mapLines(invoice.LineItems)

	if invoice.Type == stagingdomain.DocumentTypeCreditNote {
		created, err := s.gateway.CreateCreditNote(ctx, tenant.ID, xero.CreditNote{
			Type:            xero.CreditNoteTypeSales,
			Contact:         contact,
			Date:            date.Format(dateLayout),
			LineAmountTypes: cfg.LineAmountTypes,
			Reference:       ref,
			CurrencyCode:    invoice.Currency,
			Status:          status,
			LineItems:       lines,
		})
		if err != nil {
			return nil, wrapRemote("create credit note", err)
		}
		if created.CreditNoteID == "" {
			return nil, wrapRemote("create credit note", domain.ErrUnexpectedPayload)
		}
		return &domain.SubmitResult{RemoteID: created.CreditNoteID, RemoteStatus: statusOr(created.Status, status)}, nil
	}

	created, err := s.gateway.CreateInvoice(ctx, tenant.ID, xero.Invoice{
		Type:            xero.InvoiceTypeSales,
		Contact:         contact,
		Date:            date.Format(dateLayout),
		DueDate:         date.AddDate(0, 0, cfg.DueDays).Format(dateLayout),
		LineAmountTypes: cfg.LineAmountTypes,
		Reference:       ref,
		CurrencyCode:    invoice.Currency,
		Status:          status,
		LineItems:       lines,
	})
	if err != nil {
		return nil, wrapRemote("create invoice", err)
	}
	if created.InvoiceID == "" {
		return nil, wrapRemote("create invoice", domain.ErrUnexpectedPayload)
	}
	return &domain.SubmitResult{RemoteID: created.InvoiceID, RemoteStatus: statusOr(created.Status, status)}, nil
}

// SubmitPayment applies a staged payment to its synced document, authorising
// the remote document first when it is still a draft.
func (s *Service) SubmitPayment(ctx context.Context, tenant domain.Tenant, payment *stagingdomain.Payment, invoice *stagingdomain.Invoice) (*domain.SubmitResult, error) {
	if payment == nil || invoice == nil {
		return nil, stagingdomain.ErrInvoiceNotFound
	}
	remoteID := invoice.RemoteID()
	if remoteID == "" {
		return nil, stagingdomain.ErrInvoiceNotSynced
	}
	cfg := s.cfg.Get()

	remoteStatus := ""
	if invoice.RemoteStatus != nil {
		remoteStatus = *invoice.RemoteStatus
	}
	if remoteStatus == "" || remoteStatus == xero.StatusDraft {
		var err error
		if invoice.Type == stagingdomain.DocumentTypeCreditNote {
			err = s.gateway.AuthoriseCreditNote(ctx, tenant.ID, remoteID)
		} else {
			err = s.gateway.AuthoriseInvoice(ctx, tenant.ID, remoteID)
		}
		if err != nil {
			return nil, wrapRemote("authorise document", err)
		}
	}

	code := strings.TrimSpace(payment.AccountCode)
	if code == "" {
		code = cfg.BankAccountCode
	}
	req := xero.Payment{
		Account: &xero.AccountRef{Code: code},
		Date:    s.clock.Now().UTC().Format(dateLayout),
		Amount:  xero.FromCents(payment.Amount),
	}
	if payment.Reference != nil {
		req.Reference = *payment.Reference
	}
	if invoice.Type == stagingdomain.DocumentTypeCreditNote {
		req.CreditNote = &xero.CreditNoteRef{CreditNoteID: remoteID}
	} else {
		req.Invoice = &xero.InvoiceRef{InvoiceID: remoteID}
	}

	created, err := s.gateway.CreatePayment(ctx, tenant.ID, req)
	if err != nil {
		return nil, wrapRemote("create payment", err)
	}
	if created.PaymentID == "" {
		return nil, wrapRemote("create payment", domain.ErrUnexpectedPayload)
	}
	return &domain.SubmitResult{RemoteID: created.PaymentID, RemoteStatus: created.Status}, nil
}

// SyncAccounts refreshes the cached chart of accounts from the remote.
// Only ACTIVE remote accounts are kept.
func (s *Service) SyncAccounts(ctx context.Context, tenant domain.Tenant) (*domain.SyncAccountsResult, error) {
	remote, err := s.gateway.ListAccounts(ctx, tenant.ID)
	if err != nil {
		return nil, wrapRemote("list accounts", err)
	}
	now := s.clock.Now()
	result := &domain.SyncAccountsResult{TenantID: tenant.ID}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		local, err := s.repo.ListAccounts(ctx, tx, tenant.ID)
		if err != nil {
			return err
		}
		byRemote := make(map[string]domain.Account, len(local))
		for _, account := range local {
			byRemote[account.RemoteAccountID] = account
		}

		seen := make(map[string]struct{}, len(remote))
		for _, item := range remote {
			if !strings.EqualFold(item.Status, xero.AccountStatusActive) || strings.TrimSpace(item.AccountID) == "" {
				continue
			}
			seen[item.AccountID] = struct{}{}
			incoming := domain.Account{
				TenantID:        tenant.ID,
				RemoteAccountID: item.AccountID,
				Code:            strings.TrimSpace(item.Code),
				Name:            strings.TrimSpace(item.Name),
				Type:            strings.TrimSpace(item.Type),
				Active:          true,
				SyncedAt:        now,
			}
			existing, ok := byRemote[item.AccountID]
			if !ok {
				incoming.ID = s.genID.Generate()
				if err := s.repo.InsertAccount(ctx, tx, &incoming); err != nil {
					return err
				}
				result.Added++
				continue
			}
			if existing.SameAs(incoming) {
				continue
			}
			incoming.ID = existing.ID
			if err := s.repo.UpdateAccount(ctx, tx, &incoming); err != nil {
				return err
			}
			result.Updated++
		}

		var stale []snowflake.ID
		for _, account := range local {
			if _, ok := seen[account.RemoteAccountID]; !ok {
				stale = append(stale, account.ID)
			}
		}
		removed, err := s.repo.DeleteAccounts(ctx, tx, tenant.ID, stale)
		if err != nil {
			return err
		}
		result.Removed = int(removed)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("accounts synced",
		zap.String("tenant_id", tenant.ID),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
	)
	return result, nil
}

func (s *Service) ActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	conns, err := s.repo.ListActiveConnections(ctx, s.db)
	if err != nil {
		return nil, err
	}
	tenants := make([]domain.Tenant, 0, len(conns))
	for _, conn := range conns {
		tenants = append(tenants, conn.Tenant())
	}
	return tenants, nil
}

func (s *Service) DefaultTenant(ctx context.Context) (*domain.Tenant, error) {
	conn, err := s.repo.FindDefaultConnection(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, domain.ErrNoDefaultTenant
	}
	tenant := conn.Tenant()
	return &tenant, nil
}

// Tenant resolves an active connection by id.
func (s *Service) Tenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	conn, err := s.repo.FindConnection(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.IsActive {
		return nil, domain.ErrTenantNotFound
	}
	tenant := conn.Tenant()
	return &tenant, nil
}

// Connect records a tenant connection; it is the only writer of xero_connections.
func (s *Service) Connect(ctx context.Context, tenant domain.Tenant, isDefault bool) error {
	if strings.TrimSpace(tenant.ID) == "" {
		return domain.ErrTenantNotFound
	}
	return s.repo.UpsertConnection(ctx, s.db, &domain.Connection{
		ID:          s.genID.Generate(),
		TenantID:    strings.TrimSpace(tenant.ID),
		TenantName:  strings.TrimSpace(tenant.Name),
		IsActive:    true,
		IsDefault:   isDefault,
		ConnectedAt: s.clock.Now(),
	})
}

func (s *Service) ListAccounts(ctx context.Context, tenantID string) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx, s.db, tenantID)
}

func (s *Service) FindAccountByCode(ctx context.Context, tenantID string, code string) (*domain.Account, error) {
	return s.repo.FindAccountByCode(ctx, s.db, tenantID, code)
}

// BankAccountCode is the clearing account payments are applied against.
func (s *Service) BankAccountCode() string {
	return s.cfg.Get().BankAccountCode
}

func mapLines(items []stagingdomain.LineItem) []xero.LineItem {
	lines := make([]xero.LineItem, 0, len(items))
	for _, item := range items {
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		lines = append(lines, xero.LineItem{
			Description: item.Description,
			Quantity:    qty,
			UnitAmount:  xero.FromCents(item.UnitAmount),
			LineAmount:  xero.FromCents(item.LineAmount),
			AccountCode: item.AccountCode,
			TaxType:     item.TaxType,
		})
	}
	return lines
}

func contactName(invoice *stagingdomain.Invoice) string {
	if invoice.ContactName != nil {
		if name := strings.TrimSpace(*invoice.ContactName); name != "" {
			return name
		}
	}
	return invoice.UserID
}

func statusOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func wrapRemote(op string, err error) error {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		return err
	}
	out := &domain.RemoteError{Op: op, Err: err}
	var apiErr *xero.APIError
	if errors.As(err, &apiErr) {
		out.StatusCode = apiErr.StatusCode
		out.Messages = apiErr.Messages
		if len(out.Messages) == 0 && apiErr.Message != "" {
			out.Messages = []string{apiErr.Message}
		}
	}
	return out
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/staging/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, tenant_id, type, status, reason, net_amount, currency, payment_id,
	refund_id, registration_id, user_id, contact_name, contact_email, reference, metadata,
	remote_invoice_id, remote_status, last_sync_error, sync_attempts, next_attempt_at,
	claim_token, claimed_until, synced_at, created_at, updated_at`

const paymentColumns = `id, tenant_id, invoice_id, amount, account_code, reference, status,
	remote_payment_id, last_sync_error, sync_attempts, next_attempt_at, claim_token,
	claimed_until, synced_at, created_at, updated_at`

// selectableClause matches rows a sync run may pick up: open statuses, or
// failed rows whose retry time has passed, and no live claim.
const selectableClause = `(status IN (?, ?) OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)))
	AND (claimed_until IS NULL OR claimed_until <= ?)`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func selectableArgs(now time.Time) []any {
	return []any{domain.StatusStaged, domain.StatusPending, domain.StatusFailed, now, now}
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	if invoice == nil {
		return nil
	}
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO xero_invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.TenantID,
		invoice.Type,
		invoice.Status,
		invoice.Reason,
		invoice.NetAmount,
		invoice.Currency,
		invoice.PaymentID,
		invoice.RefundID,
		invoice.RegistrationID,
		invoice.UserID,
		invoice.ContactName,
		invoice.ContactEmail,
		invoice.Reference,
		invoice.Metadata,
		invoice.RemoteInvoiceID,
		invoice.RemoteStatus,
		invoice.LastSyncError,
		invoice.SyncAttempts,
		invoice.NextAttemptAt,
		invoice.ClaimToken,
		invoice.ClaimedUntil,
		invoice.SyncedAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error; err != nil {
		return err
	}

	for i := range invoice.LineItems {
		line := &invoice.LineItems[i]
		line.InvoiceID = invoice.ID
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO xero_invoice_line_items (
				id, invoice_id, position, description, quantity, unit_amount,
				line_amount, account_code, tax_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.InvoiceID,
			line.Position,
			line.Description,
			line.Quantity,
			line.UnitAmount,
			line.LineAmount,
			line.AccountCode,
			line.TaxType,
		).Error; err != nil {
			return fmt.Errorf("insert line %d: %w", line.Position, err)
		}
	}
	return nil
}

func (r *repo) FindInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByPaymentReason(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, reasons ...domain.Reason) (*domain.Invoice, error) {
	if len(reasons) == 0 {
		return r.findOne(ctx, db, `payment_id = ?`, paymentID)
	}
	return r.findOne(ctx, db, `payment_id = ? AND reason IN ?`, paymentID, reasons)
}

func (r *repo) FindByRefund(ctx context.Context, db *gorm.DB, refundID snowflake.ID) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `refund_id = ?`, refundID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM xero_invoices
		 WHERE `+where+`
		 ORDER BY id
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	lines, err := r.ListLines(ctx, db, item.ID)
	if err != nil {
		return nil, err
	}
	item.LineItems = lines
	return &item, nil
}

func (r *repo) ListDraftsByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM xero_invoices
		 WHERE payment_id = ? AND status = ?
		 ORDER BY id`,
		paymentID,
		domain.StatusDraft,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.LineItem, error) {
	var lines []domain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, position, description, quantity, unit_amount,
			line_amount, account_code, tax_type
		 FROM xero_invoice_line_items
		 WHERE invoice_id = ?
		 ORDER BY position`,
		invoiceID,
	).Scan(&lines).Error
	return lines, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Invoice, error) {
	var items []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Reason != "" {
		stmt = stmt.Where("reason = ?", filter.Reason)
	}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		stmt = stmt.Where("user_id = ?", userID)
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id < ?", filter.AfterID)
	}
	stmt = stmt.Order("id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) TransitionInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE xero_invoices
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequeueInvoice makes a failed or ignored row immediately selectable again.
func (r *repo) RequeueInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE xero_invoices
		 SET status = ?, next_attempt_at = NULL, claim_token = NULL, claimed_until = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusPending,
		now,
		id,
		domain.StatusFailed,
		domain.StatusIgnore,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AttachPayment(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, paymentID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE xero_invoices
		 SET payment_id = ?, updated_at = ?
		 WHERE id = ?`,
		paymentID,
		now,
		invoiceID,
	).Error
}

func (r *repo) AttachRefund(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, refundID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE xero_invoices
		 SET refund_id = ?, updated_at = ?
		 WHERE id = ?`,
		refundID,
		now,
		invoiceID,
	).Error
}

func (r *repo) DeleteDraft(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	var deleted bool
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(
			`DELETE FROM xero_invoices
			 WHERE id = ? AND status = ?`,
			id,
			domain.StatusDraft,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Exec(
			`DELETE FROM xero_invoice_line_items
			 WHERE invoice_id = ?`,
			id,
		).Error
	})
	return deleted, err
}

func (r *repo) SelectInvoices(ctx context.Context, db *gorm.DB, filter domain.SelectFilter) ([]domain.Invoice, error) {
	var items []domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).
		Where(selectableClause, selectableArgs(filter.Now)...).
		Where("id > ?", filter.AfterID)
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountSelectableInvoices(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.Invoice{}).Where(selectableClause, selectableArgs(now)...)
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repo) ClaimInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, until time.Time) (bool, error) {
	return claim(ctx, db, "xero_invoices", id, token, now, until)
}

func (r *repo) CompleteInvoice(ctx context.Context, db *gorm.DB, outcome domain.Outcome) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE xero_invoices
		 SET status = ?, remote_invoice_id = ?, remote_status = ?, synced_at = ?,
			last_sync_error = NULL, next_attempt_at = NULL, claim_token = NULL,
			claimed_until = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ?`,
		domain.StatusSynced,
		nullable(outcome.RemoteID),
		nullable(outcome.RemoteStatus),
		outcome.Now,
		outcome.Now,
		outcome.ID,
		outcome.ClaimToken,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FailInvoice(ctx context.Context, db *gorm.DB, outcome domain.Outcome) (bool, error) {
	return fail(ctx, db, "xero_invoices", outcome)
}

// AdoptOrphans assigns rows staged before any tenant was connected to the
// given tenant. Synced and ignored rows keep their tenant.
func (r *repo) AdoptOrphans(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"xero_invoices", "xero_payments"} {
		res := db.WithContext(ctx).Exec(
			`UPDATE `+table+`
			 SET tenant_id = ?, updated_at = ?
			 WHERE (tenant_id IS NULL OR tenant_id = '') AND status IN (?, ?, ?, ?)`,
			tenantID,
			now,
			domain.StatusDraft,
			domain.StatusStaged,
			domain.StatusPending,
			domain.StatusFailed,
		)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
	}
	return total, nil
}

// ListSyncedWithoutPayment finds synced documents that moved money but have
// no staged payment yet.
func (r *repo) ListSyncedWithoutPayment(ctx context.Context, db *gorm.DB, tenantID string, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT xi.id
		 FROM xero_invoices xi
		 LEFT JOIN xero_payments xp ON xp.invoice_id = xi.id
		 WHERE xi.status = ? AND xi.net_amount <> 0 AND xi.tenant_id = ?
		   AND xi.remote_invoice_id IS NOT NULL AND xp.id IS NULL
		 ORDER BY xi.id
		 LIMIT ?`,
		domain.StatusSynced,
		tenantID,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO xero_payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (invoice_id) DO NOTHING`,
		payment.ID,
		payment.TenantID,
		payment.InvoiceID,
		payment.Amount,
		payment.AccountCode,
		payment.Reference,
		payment.Status,
		payment.RemotePaymentID,
		payment.LastSyncError,
		payment.SyncAttempts,
		payment.NextAttemptAt,
		payment.ClaimToken,
		payment.ClaimedUntil,
		payment.SyncedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPaymentByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM xero_payments
		 WHERE invoice_id = ?
		 LIMIT 1`,
		invoiceID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SelectPayments(ctx context.Context, db *gorm.DB, filter domain.SelectFilter) ([]domain.Payment, error) {
	var items []domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{}).
		Where(selectableClause, selectableArgs(filter.Now)...).
		Where("id > ?", filter.AfterID)
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountSelectablePayments(ctx context.Context, db *gorm.DB, tenantID string, now time.Time) (int64, error) {
	var count int64
	stmt := db.WithContext(ctx).Model(&domain.Payment{}).Where(selectableClause, selectableArgs(now)...)
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		stmt = stmt.Where("tenant_id = ?", tenantID)
	}
	err := stmt.Count(&count).Error
	return count, err
}

func (r *repo) ClaimPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, until time.Time) (bool, error) {
	return claim(ctx, db, "xero_payments", id, token, now, until)
}

func (r *repo) CompletePayment(ctx context.Context, db *gorm.DB, outcome domain.Outcome) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE xero_payments
		 SET status = ?, remote_payment_id = ?, synced_at = ?, last_sync_error = NULL,
			next_attempt_at = NULL, claim_token = NULL, claimed_until = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ?`,
		domain.StatusSynced,
		nullable(outcome.RemoteID),
		outcome.Now,
		outcome.Now,
		outcome.ID,
		outcome.ClaimToken,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FailPayment(ctx context.Context, db *gorm.DB, outcome domain.Outcome) (bool, error) {
	return fail(ctx, db, "xero_payments", outcome)
}

// claim takes an optimistic lease on a row that is still selectable.
func claim(ctx context.Context, db *gorm.DB, table string, id snowflake.ID, token string, now time.Time, until time.Time) (bool, error) {
	args := []any{token, until, now, id}
	args = append(args, selectableArgs(now)...)
	res := db.WithContext(ctx).Exec(
		`UPDATE `+table+`
		 SET claim_token = ?, claimed_until = ?, updated_at = ?
		 WHERE id = ? AND `+selectableClause,
		args...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func fail(ctx context.Context, db *gorm.DB, table string, outcome domain.Outcome) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE `+table+`
		 SET status = ?, last_sync_error = ?, sync_attempts = sync_attempts + 1,
			next_attempt_at = ?, claim_token = NULL, claimed_until = NULL, updated_at = ?
		 WHERE id = ? AND claim_token = ?`,
		domain.StatusFailed,
		truncate(outcome.Error, 2000),
		outcome.NextAttemptAt,
		outcome.Now,
		outcome.ID,
		outcome.ClaimToken,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/registrar/internal/accounting/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const connectionColumns = `id, tenant_id, tenant_name, is_active, is_default, connected_at`

const accountColumns = `id, tenant_id, remote_account_id, code, name, type, active, synced_at`

func (r *repo) ListActiveConnections(ctx context.Context, db *gorm.DB) ([]domain.Connection, error) {
	var items []domain.Connection
	err := db.WithContext(ctx).Raw(
		`SELECT `+connectionColumns+`
		 FROM xero_connections
		 WHERE is_active = ?
		 ORDER BY is_default DESC, tenant_id`,
		true,
	).Scan(&items).Error
	return items, err
}

func (r *repo) FindConnection(ctx context.Context, db *gorm.DB, tenantID string) (*domain.Connection, error) {
	return r.findConnection(ctx, db, `tenant_id = ?`, strings.TrimSpace(tenantID))
}

func (r *repo) FindDefaultConnection(ctx context.Context, db *gorm.DB) (*domain.Connection, error) {
	return r.findConnection(ctx, db, `is_default = ? AND is_active = ?`, true, true)
}

func (r *repo) findConnection(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Connection, error) {
	var item domain.Connection
	err := db.WithContext(ctx).Raw(
		`SELECT `+connectionColumns+`
		 FROM xero_connections
		 WHERE `+where+`
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// UpsertConnection inserts or refreshes a tenant connection. Marking a
// connection default clears the flag on every other tenant.
func (r *repo) UpsertConnection(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if conn.IsDefault {
			if err := tx.Exec(
				`UPDATE xero_connections SET is_default = ? WHERE tenant_id <> ?`,
				false,
				conn.TenantID,
			).Error; err != nil {
				return err
			}
		}
		return tx.Exec(
			`INSERT INTO xero_connections (`+connectionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (tenant_id) DO UPDATE
			 SET tenant_name = excluded.tenant_name,
			     is_active = excluded.is_active,
			     is_default = excluded.is_default`,
			conn.ID,
			conn.TenantID,
			conn.TenantName,
			conn.IsActive,
			conn.IsDefault,
			conn.ConnectedAt,
		).Error
	})
}

func (r *repo) ListAccounts(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.Account, error) {
	var items []domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+`
		 FROM xero_accounts
		 WHERE tenant_id = ?
		 ORDER BY code, id`,
		strings.TrimSpace(tenantID),
	).Scan(&items).Error
	return items, err
}

func (r *repo) FindAccountByCode(ctx context.Context, db *gorm.DB, tenantID string, code string) (*domain.Account, error) {
	var item domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+`
		 FROM xero_accounts
		 WHERE tenant_id = ? AND code = ?
		 LIMIT 1`,
		strings.TrimSpace(tenantID),
		strings.TrimSpace(code),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO xero_accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.TenantID,
		account.RemoteAccountID,
		account.Code,
		account.Name,
		account.Type,
		account.Active,
		account.SyncedAt,
	).Error
}

func (r *repo) UpdateAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`UPDATE xero_accounts
		 SET code = ?, name = ?, type = ?, active = ?, synced_at = ?
		 WHERE id = ?`,
		account.Code,
		account.Name,
		account.Type,
		account.Active,
		account.SyncedAt,
		account.ID,
	).Error
}

func (r *repo) DeleteAccounts(ctx context.Context, db *gorm.DB, tenantID string, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`DELETE FROM xero_accounts WHERE tenant_id = ? AND id IN ?`,
		strings.TrimSpace(tenantID),
		ids,
	)
	return res.RowsAffected, res.Error
}

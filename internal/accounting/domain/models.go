// Package domain models accounting-system connections and the cached chart of accounts.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Tenant identifies the accounting organisation a call is made against.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Connection struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID    string       `json:"tenant_id"`
	TenantName  string       `json:"tenant_name"`
	IsActive    bool         `json:"is_active"`
	IsDefault   bool         `json:"is_default"`
	ConnectedAt time.Time    `json:"connected_at"`
}

func (Connection) TableName() string { return "xero_connections" }

func (c Connection) Tenant() Tenant {
	return Tenant{ID: c.TenantID, Name: c.TenantName}
}

type Account struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID        string       `json:"tenant_id"`
	RemoteAccountID string       `json:"remote_account_id"`
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Type            string       `json:"type"`
	Active          bool         `json:"active"`
	SyncedAt        time.Time    `json:"synced_at"`
}

func (Account) TableName() string { return "xero_accounts" }

// SameAs reports whether the cached row already matches the remote values.
func (a Account) SameAs(other Account) bool {
	return a.Code == other.Code && a.Name == other.Name && a.Type == other.Type && a.Active == other.Active
}

type SyncAccountsResult struct {
	TenantID string `json:"tenant_id"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Removed  int    `json:"removed"`
}

// SubmitResult is the remote identity assigned to a pushed document.
type SubmitResult struct {
	RemoteID     string `json:"remote_id"`
	RemoteStatus string `json:"remote_status"`
}

type Repository interface {
	ListActiveConnections(ctx context.Context, db *gorm.DB) ([]Connection, error)
	FindConnection(ctx context.Context, db *gorm.DB, tenantID string) (*Connection, error)
	FindDefaultConnection(ctx context.Context, db *gorm.DB) (*Connection, error)
	UpsertConnection(ctx context.Context, db *gorm.DB, conn *Connection) error

	ListAccounts(ctx context.Context, db *gorm.DB, tenantID string) ([]Account, error)
	FindAccountByCode(ctx context.Context, db *gorm.DB, tenantID string, code string) (*Account, error)
	InsertAccount(ctx context.Context, db *gorm.DB, account *Account) error
	UpdateAccount(ctx context.Context, db *gorm.DB, account *Account) error
	DeleteAccounts(ctx context.Context, db *gorm.DB, tenantID string, ids []snowflake.ID) (int64, error)
}

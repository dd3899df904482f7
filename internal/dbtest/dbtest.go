// Package dbtest opens in-memory sqlite databases carrying the production schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/registrar/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var sqliteRewrites = []struct {
	from string
	to   string
}{
	{"TIMESTAMPTZ", "DATETIME"},
	{"JSONB", "TEXT"},
	{"DEFAULT NOW()", "DEFAULT CURRENT_TIMESTAMP"},
}

// Open returns an isolated sqlite database with every migration applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	scripts, err := migration.UpScripts()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	for _, script := range scripts {
		for _, stmt := range splitStatements(script) {
			if err := db.Exec(stmt).Error; err != nil {
				t.Fatalf("apply schema: %v\n%s", err, stmt)
			}
		}
	}
	return db
}

// Node returns a snowflake generator for fixtures.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func splitStatements(script string) []string {
	for _, rewrite := range sqliteRewrites {
		script = strings.ReplaceAll(script, rewrite.from, rewrite.to)
	}
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

package main

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/registrar/internal/config"
	"github.com/smallbiznis/registrar/internal/migration"
	"github.com/smallbiznis/registrar/internal/observability"
	"github.com/smallbiznis/registrar/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg  config.Config
				conn *gorm.DB
			)
			app := fx.New(
				config.Module,
				observability.Module,
				fx.NopLogger,
				db.Module,
				fx.Populate(&cfg, &conn),
			)
			if err := app.Err(); err != nil {
				return err
			}
			if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
				return fmt.Errorf("migrations target postgres, configured database is %q", cfg.DBType)
			}

			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			defer sqlDB.Close()

			if !statusOnly {
				if err := migration.RunMigrations(sqlDB); err != nil {
					return err
				}
			}
			version, dirty, err := migration.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "print the applied version without migrating")
	return cmd
}

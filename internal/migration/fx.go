package migration

import (
	"strings"

	"github.com/smallbiznis/registrar/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("auto migration disabled")
			return nil
		}
		if !strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
			log.Warn("auto migration skipped for non-postgres database", zap.String("type", cfg.DBType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)

package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if err := seed.EnsureDefaultFeeConfig(conn, cfg.Fees); err != nil {
			return err
		}
		return seed.EnsureDefaultTemplates(conn)
	}),
)

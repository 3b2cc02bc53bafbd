package migration

import (
	"github.com/croftlabs/croft/internal/config"
	"github.com/croftlabs/croft/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Migrations run against postgres only; the sqlite test setup
		// prepares its own schema.
		if cfg.DBType != "postgres" {
			return seed.EnsurePlans(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		return seed.EnsurePlans(conn)
	}),
)

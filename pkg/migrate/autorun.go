package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/resale-ledger/pkg/config"
	"github.com/angelmondragon/resale-ledger/pkg/db"
	"github.com/angelmondragon/resale-ledger/pkg/logger"
)

// MaybeRunDev prepares the schema at startup. SQLite is always built from the
// models; Postgres runs the embedded SQL only in dev with AUTO_MIGRATE on.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg.DB.IsSQLite() {
		logg.Info(logg.WithField(ctx, "driver", config.DBDriverSQLite), "auto-migrating sqlite schema")
		if err := AutoMigrate(client.DB()); err != nil {
			return fmt.Errorf("auto-migrating sqlite: %w", err)
		}
		return nil
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	runner, err := NewRunner(sqlDB, Source{}, logg)
	if err != nil {
		return err
	}
	if err := runner.Up(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "dev migrations up to date")
	return nil
}

package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cartcache-backend/pkg/config"
	"github.com/angelmondragon/cartcache-backend/pkg/db"
	"github.com/angelmondragon/cartcache-backend/pkg/db/models"
	"github.com/angelmondragon/cartcache-backend/pkg/logger"
)

// MaybeRunDev prepares the cart schema when the app runs in dev mode with the
// auto-migrate flag on. Postgres runs the goose migrations; SQLite, which the
// SQL files do not target, uses gorm's AutoMigrate on the cart models.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if cfg.FeatureFlags.UseSQLite {
		ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": "sqlite"})
		logg.Info(ctx, "running gorm auto-migrate (dev auto-run)")
		if err := client.DB().WithContext(ctx).AutoMigrate(&models.CartRecord{}, &models.CartItem{}); err != nil {
			return fmt.Errorf("auto-migrate cart models: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	logg.Info(ctx, "running Goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

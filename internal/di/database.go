package di

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arcana-labs/jobcore/internal/config"
)

// DatabaseModule provides the *gorm.DB backing the durable status store and
// audit sink. A memory-driver configuration provides a nil *gorm.DB; the
// status store and audit sink providers fall back to in-memory
// implementations in that case.
var DatabaseModule = fx.Module("database",
	fx.Provide(provideGormDB),
)

func provideGormDB(lc fx.Lifecycle, cfg *config.StatusStoreConfig, logger *zap.Logger) (*gorm.DB, error) {
	if cfg.Driver == config.StatusStoreMemory {
		return nil, nil
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.StatusStoreMySQL:
		dialector = mysql.Open(cfg.DSN())
	case config.StatusStorePostgres:
		dialector = postgres.Open(cfg.DSN())
	case config.StatusStoreSQLite:
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unknown status_store.driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open status store database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("connected to status store database", zap.String("driver", string(cfg.Driver)))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("closing status store database connection")
			return sqlDB.Close()
		},
	})

	return db, nil
}

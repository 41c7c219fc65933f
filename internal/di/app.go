package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/config"
)

// AppModule aggregates every module the job core needs: configuration,
// logging, the status store database, the job pipeline (C1-C9, A6, A8),
// auth middleware and the HTTP server.
var AppModule = fx.Options(
	ConfigModule,
	LoggerModule,
	DatabaseModule,
	MiddlewareModule,
	JobsModule,
	HTTPServerModule,
)

// PrintBanner logs the startup banner once the app is fully wired.
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("===========================================")
	logger.Info("   jobcore - background job orchestration  ")
	logger.Info("===========================================")
	logger.Info("application info",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	logger.Info("jobs config",
		zap.Int("maxConcurrency", cfg.Jobs.MaxConcurrency),
		zap.Int("maxQueueSize", cfg.Jobs.MaxQueueSize),
		zap.String("statusStoreDriver", string(cfg.StatusStore.Driver)),
	)
	logger.Info("===========================================")
}

package di

import (
	"go.uber.org/fx"

	"github.com/arcana-labs/jobcore/internal/config"
)

// ConfigModule provides configuration dependencies
var ConfigModule = fx.Module("config",
	fx.Provide(
		config.Load,
		provideAppConfig,
		provideServerConfig,
		provideJWTConfig,
		provideAuthConfig,
		provideJobsConfig,
		provideStatusStoreConfig,
		provideAuditLogConfig,
	),
)

func provideAppConfig(cfg *config.Config) *config.AppConfig {
	return &cfg.App
}

func provideServerConfig(cfg *config.Config) *config.ServerConfig {
	return &cfg.Server
}

func provideJWTConfig(cfg *config.Config) *config.JWTConfig {
	return &cfg.JWT
}

func provideAuthConfig(cfg *config.Config) *config.AuthConfig {
	return &cfg.Auth
}

func provideJobsConfig(cfg *config.Config) *config.JobsConfig {
	return &cfg.Jobs
}

func provideStatusStoreConfig(cfg *config.Config) *config.StatusStoreConfig {
	return &cfg.StatusStore
}

func provideAuditLogConfig(cfg *config.Config) *config.AuditLogConfig {
	return &cfg.AuditLog
}

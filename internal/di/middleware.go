package di

import (
	"go.uber.org/fx"

	"github.com/arcana-labs/jobcore/internal/config"
	"github.com/arcana-labs/jobcore/internal/middleware"
	"github.com/arcana-labs/jobcore/internal/security"
)

// MiddlewareModule provides the A4 auth gate over the job core's mutating
// endpoints.
var MiddlewareModule = fx.Module("middleware",
	fx.Provide(
		provideJWTProvider,
		provideAuthMiddleware,
	),
)

func provideJWTProvider(cfg *config.JWTConfig) *security.JWTProvider {
	return security.NewJWTProvider(cfg)
}

func provideAuthMiddleware(jwtProvider *security.JWTProvider, cfg *config.AuthConfig) *middleware.AuthMiddleware {
	return middleware.NewAuthMiddleware(jwtProvider, cfg.Enabled)
}

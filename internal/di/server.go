package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arcana-labs/jobcore/internal/config"
	httpctrl "github.com/arcana-labs/jobcore/internal/controller/http"
	"github.com/arcana-labs/jobcore/internal/middleware"
	"github.com/arcana-labs/jobcore/internal/observability"
)

// HTTPServerModule provides the A3/A4 HTTP surface: the gin engine with its
// global middleware stack, the *http.Server listener, and route
// registration/startup lifecycle hooks.
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(
		provideTracingConfig,
		provideTracingProvider,
		provideGinEngine,
		provideHTTPServer,
	),
	fx.Invoke(
		registerHTTPRoutes,
		startHTTPServer,
	),
)

func provideTracingConfig(appCfg *config.AppConfig) *observability.TracingConfig {
	cfg := observability.DefaultTracingConfig()
	cfg.ServiceName = appCfg.Name
	cfg.ServiceVersion = appCfg.Version
	cfg.Environment = appCfg.Environment
	return cfg
}

func provideTracingProvider(lc fx.Lifecycle, cfg *observability.TracingConfig, logger *zap.Logger) (*observability.TracingProvider, error) {
	tp, err := observability.NewTracingProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return tp, nil
}

func provideGinEngine(appCfg *config.AppConfig, logger *zap.Logger) *gin.Engine {
	if !appCfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(observability.TracingMiddleware(appCfg.Name))

	return router
}

func provideHTTPServer(cfg *config.ServerConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func registerHTTPRoutes(router *gin.Engine, controller *httpctrl.JobController) {
	controller.RegisterRoutes(router)
}

func startHTTPServer(lc fx.Lifecycle, server *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("address", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

package di

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arcana-labs/jobcore/internal/config"
	httpctrl "github.com/arcana-labs/jobcore/internal/controller/http"
	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/jobs/handler"
	"github.com/arcana-labs/jobcore/internal/jobs/statusstore"
	"github.com/arcana-labs/jobcore/internal/jobs/worker"
	"github.com/arcana-labs/jobcore/internal/middleware"
	"github.com/arcana-labs/jobcore/internal/resilience"
)

// JobsModule wires C1-C9 and A6/A8: the queue, dispatcher, worker pool,
// ingress adapter, status store, audit trail, retention sweeper and metrics.
var JobsModule = fx.Module("jobs",
	fx.Provide(
		provideRetryPolicy,
		provideQueue,
		provideDedup,
		provideStatusStore,
		provideAuditSink,
		provideAuditLogger,
		provideDispatcher,
		provideTaskStore,
		provideCircuitBreakerRegistry,
		provideIngressRateLimiter,
		provideIngressAdapter,
		provideHealthCheckService,
		provideMetricsProvider,
		provideWorkerPool,
		provideJobController,
	),
	fx.Invoke(
		registerJobHandlers,
		startWorkerPool,
		scheduleRetentionSweep,
	),
)

func provideRetryPolicy(cfg *config.JobsConfig) jobs.RetryPolicy {
	rp := cfg.RetryPolicy
	return jobs.RetryPolicy{
		Enabled:         rp.Enabled,
		MaxRetries:      rp.MaxRetries,
		BackoffStrategy: jobs.BackoffStrategy(rp.BackoffStrategy),
		BaseDelayMs:     rp.BaseDelayMs,
		MaxDelayMs:      rp.MaxDelayMs,
		MinJitterFactor: rp.MinJitterFactor,
		MaxJitterFactor: rp.MaxJitterFactor,
	}
}

func provideQueue(cfg *config.JobsConfig) *jobs.Queue {
	q := jobs.NewQueue(cfg.MaxQueueSize)
	q.SetPrioritization(cfg.EnablePrioritization)
	return q
}

func provideDedup() *jobs.Deduplicator {
	return jobs.NewDeduplicator()
}

// provideStatusStore selects the durable GORM-backed store when db is
// non-nil (a SQL driver was configured), and the in-memory store otherwise.
func provideStatusStore(db *gorm.DB) (jobs.StatusStore, error) {
	if db == nil {
		return jobs.NewMemoryStatusStore(), nil
	}
	store, err := statusstore.New(db)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// provideAuditSink wires the durable A5 audit backend. A nil db (memory
// driver) yields a nil jobs.AuditSink: the audit logger's in-memory ring
// buffer remains the only destination, and the retention sweeper is never
// scheduled (see scheduleRetentionSweep).
func provideAuditSink(db *gorm.DB) (jobs.AuditSink, error) {
	if db == nil {
		return nil, nil
	}
	sink, err := statusstore.NewAuditSink(db)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

func provideAuditLogger(lc fx.Lifecycle, logger *zap.Logger, sink jobs.AuditSink) *jobs.AuditLogger {
	auditLogger := jobs.NewAuditLogger(logger, sink)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			auditLogger.Close()
			return nil
		},
	})
	return auditLogger
}

func provideDispatcher(store jobs.StatusStore, queue *jobs.Queue, dedup *jobs.Deduplicator, audit *jobs.AuditLogger, logger *zap.Logger) *jobs.Dispatcher {
	d := jobs.NewDispatcher(store, queue, dedup, audit, logger)
	return d
}

func provideTaskStore() *jobs.TaskStore {
	return jobs.NewTaskStore()
}

func provideCircuitBreakerRegistry(logger *zap.Logger) *resilience.CircuitBreakerRegistry {
	return resilience.NewCircuitBreakerRegistry(logger)
}

func provideIngressRateLimiter() *resilience.TokenBucketLimiter {
	return resilience.NewTokenBucketLimiter(resilience.DefaultRateLimiterConfig("ingress"))
}

func provideIngressAdapter(dispatcher *jobs.Dispatcher, tasks *jobs.TaskStore, limiter *resilience.TokenBucketLimiter) *jobs.IngressAdapter {
	adapter := jobs.NewIngressAdapter(dispatcher, tasks)
	adapter.SetRateLimiter(limiter)
	return adapter
}

func provideHealthCheckService(queue *jobs.Queue, store jobs.StatusStore) *jobs.HealthCheckService {
	return jobs.NewHealthCheckService(queue, store)
}

func provideMetricsProvider(lc fx.Lifecycle, logger *zap.Logger, appCfg *config.AppConfig, queue *jobs.Queue) (*jobs.MetricsProvider, error) {
	mp, err := jobs.NewMetricsProvider(logger, appCfg.Name, func() int64 { return int64(queue.Len()) })
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})
	return mp, nil
}

func provideWorkerPool(
	cfg *config.JobsConfig,
	queue *jobs.Queue,
	dispatcher *jobs.Dispatcher,
	store jobs.StatusStore,
	audit *jobs.AuditLogger,
	metrics *jobs.MetricsProvider,
	breakers *resilience.CircuitBreakerRegistry,
	logger *zap.Logger,
) *worker.Pool {
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second

	pool := worker.NewPool(queue, dispatcher, store, audit, logger, cfg.MaxConcurrency, shutdownTimeout, 0)
	pool.SetMetrics(metrics)
	pool.SetCircuitBreakers(breakers)

	if cfg.PlanTimeoutSeconds > 0 {
		pool.SetHandlerTimeout("GeneratePlan", time.Duration(cfg.PlanTimeoutSeconds)*time.Second)
	}
	if cfg.ExecutionTimeoutSeconds > 0 {
		pool.SetHandlerTimeout("ExecutePlan", time.Duration(cfg.ExecutionTimeoutSeconds)*time.Second)
	}

	return pool
}

func provideJobController(
	store jobs.StatusStore,
	queue *jobs.Queue,
	health *jobs.HealthCheckService,
	ingress *jobs.IngressAdapter,
	metrics *jobs.MetricsProvider,
	authMiddleware *middleware.AuthMiddleware,
) *httpctrl.JobController {
	return httpctrl.NewJobController(store, queue, health, ingress, metrics, authMiddleware)
}

// noopPayload is the "Noop" handler's payload: an always-succeeding handler
// that exercises the full dispatch/execute/status pipeline without any
// domain-specific side effects, useful for liveness probes and onboarding.
type noopPayload struct{}

// registerJobHandlers binds the built-in job types every deployment carries
// regardless of which external handlers (plan generation, execution,
// container orchestration, etc.) a caller registers against the same
// dispatcher out-of-process.
func registerJobHandlers(dispatcher *jobs.Dispatcher, logger *zap.Logger) {
	handler.Register(dispatcher, logger, "Noop", func(ctx context.Context, job *jobs.Job, payload noopPayload) jobs.Result {
		return jobs.Success(nil)
	})
}

func startWorkerPool(lc fx.Lifecycle, pool *worker.Pool) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return pool.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return pool.Stop()
		},
	})
}

// scheduleRetentionSweep wires A6 onto a daily cron schedule. It is a no-op
// when the status store is in-memory: there is no durable audit_logs table
// to prune, and the ring buffer already self-truncates on overwrite.
func scheduleRetentionSweep(lc fx.Lifecycle, sink jobs.AuditSink, auditCfg *config.AuditLogConfig, logger *zap.Logger) {
	purger, ok := sink.(jobs.AuditRetentionPurger)
	if sink == nil || !ok {
		logger.Info("audit retention sweep disabled: no durable audit sink configured")
		return
	}

	sweeper := jobs.NewRetentionSweeper(purger, auditCfg.RetentionDays, logger)
	c := cron.New()
	if _, err := c.AddFunc("0 0 * * *", func() {
		sweeper.Sweep(context.Background())
	}); err != nil {
		logger.Error("failed to schedule retention sweep", zap.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			c.Start()
			logger.Info("retention sweep scheduled", zap.Int("retentionDays", auditCfg.RetentionDays))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			<-c.Stop().Done()
			return nil
		},
	})
}

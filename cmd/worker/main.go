package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/arcana-labs/jobcore/internal/config"
	"github.com/arcana-labs/jobcore/internal/jobs"
	"github.com/arcana-labs/jobcore/internal/jobs/handler"
	"github.com/arcana-labs/jobcore/internal/jobs/statusstore"
	"github.com/arcana-labs/jobcore/internal/jobs/worker"
	"github.com/arcana-labs/jobcore/internal/resilience"
	"github.com/arcana-labs/jobcore/pkg/logger"
)

// main wires the job core by hand instead of through fx: a worker-only
// deployment that runs the queue, dispatcher and pool but not the ingress
// HTTP API, suited to a dedicated processing node behind a separate ingress
// tier. Its ops endpoints (/health, /metrics) listen on a
// separate port from cmd/server's public API.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: cfg.App.Debug,
		Encoding:    "json",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting jobcore worker",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	db, err := openStatusStoreDB(&cfg.StatusStore)
	if err != nil {
		log.Fatal("failed to open status store database", zap.Error(err))
	}

	store, auditSink, err := buildStorage(db)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}

	queue := jobs.NewQueue(cfg.Jobs.MaxQueueSize)
	queue.SetPrioritization(cfg.Jobs.EnablePrioritization)
	dedup := jobs.NewDeduplicator()
	auditLogger := jobs.NewAuditLogger(log, auditSink)
	defer auditLogger.Close()

	dispatcher := jobs.NewDispatcher(store, queue, dedup, auditLogger, log)
	handler.Register(dispatcher, log, "Noop", func(ctx context.Context, job *jobs.Job, payload struct{}) jobs.Result {
		return jobs.Success(nil)
	})

	metrics, err := jobs.NewMetricsProvider(log, cfg.App.Name, func() int64 { return int64(queue.Len()) })
	if err != nil {
		log.Fatal("failed to initialize metrics", zap.Error(err))
	}
	defer metrics.Shutdown(context.Background())

	concurrency := cfg.Jobs.MaxConcurrency
	if override := os.Getenv("JOBCORE_WORKER_CONCURRENCY"); override != "" {
		fmt.Sscanf(override, "%d", &concurrency)
	}

	breakers := resilience.NewCircuitBreakerRegistry(log)
	shutdownTimeout := time.Duration(cfg.Jobs.ShutdownTimeoutSeconds) * time.Second

	pool := worker.NewPool(queue, dispatcher, store, auditLogger, log, concurrency, shutdownTimeout, 0)
	pool.SetMetrics(metrics)
	pool.SetCircuitBreakers(breakers)

	health := jobs.NewHealthCheckService(queue, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		log.Fatal("failed to start worker pool", zap.Error(err))
	}

	var sweepCron *cron.Cron
	if purger, ok := auditSink.(jobs.AuditRetentionPurger); ok {
		sweeper := jobs.NewRetentionSweeper(purger, cfg.AuditLog.RetentionDays, log)
		sweepCron = cron.New()
		if _, err := sweepCron.AddFunc("0 0 * * *", func() { sweeper.Sweep(context.Background()) }); err != nil {
			log.Error("failed to schedule retention sweep", zap.Error(err))
		} else {
			sweepCron.Start()
			log.Info("retention sweep scheduled", zap.Int("retentionDays", cfg.AuditLog.RetentionDays))
		}
	}

	go serveOpsEndpoints(log, health, metrics)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received, stopping worker pool")
	cancel()

	if sweepCron != nil {
		<-sweepCron.Stop().Done()
	}
	if err := pool.Stop(); err != nil {
		log.Error("error stopping worker pool", zap.Error(err))
	}

	log.Info("worker shutdown complete")
}

func openStatusStoreDB(cfg *config.StatusStoreConfig) (*gorm.DB, error) {
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
	return gorm.Open(dialector, &gorm.Config{})
}

func buildStorage(db *gorm.DB) (jobs.StatusStore, jobs.AuditSink, error) {
	if db == nil {
		return jobs.NewMemoryStatusStore(), nil, nil
	}
	store, err := statusstore.New(db)
	if err != nil {
		return nil, nil, err
	}
	sink, err := statusstore.NewAuditSink(db)
	if err != nil {
		return nil, nil, err
	}
	return store, sink, nil
}

func serveOpsEndpoints(log *zap.Logger, health *jobs.HealthCheckService, metrics *jobs.MetricsProvider) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := health.Check(r.Context())
		w.WriteHeader(report.Status.HTTPStatus())
		fmt.Fprintf(w, `{"status":"%s","queueDepth":%d,"failureRate":%f}`, report.Status, report.QueueDepth, report.FailureRate)
	})

	port := os.Getenv("JOBCORE_WORKER_OPS_PORT")
	if port == "" {
		port = "9100"
	}

	log.Info("starting worker ops server", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("worker ops server error", zap.Error(err))
	}
}

package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the structured logger configuration shared by cmd/server and
// cmd/worker.
type Config struct {
	Level       string
	Development bool
	Encoding    string // "json" or "console"
}

// New builds the zap logger the server and worker processes log job
// dispatch, status transitions, and resilience events through.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config

	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	if cfg.Encoding != "" {
		zapConfig.Encoding = cfg.Encoding
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	return zapConfig.Build()
}

// Default builds a logger from LOG_LEVEL/APP_ENV, used when a process starts
// before its full config file has been loaded (e.g. to log config load errors).
func Default() *zap.Logger {
	logger, err := New(Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Development: os.Getenv("APP_ENV") != "production",
		Encoding:    "console",
	})
	if err != nil {
		// Fallback to a basic logger
		return zap.NewExample()
	}
	return logger
}

// WithContext returns a logger annotated with fields such as job_id or
// job_type, so every subsequent log line for that job carries them.
func WithContext(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	return logger.With(fields...)
}

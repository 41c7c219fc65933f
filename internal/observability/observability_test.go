package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ── TracingConfig ─────────────────────────────────────────────────────────────

func TestDefaultTracingConfig_CoreFields(t *testing.T) {
	cfg := DefaultTracingConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "jobcore", cfg.ServiceName)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.Equal(t, float64(1.0), cfg.SamplingRate)
}

func TestNewTracingProvider_DisabledDefaultConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = false
	tp, err := NewTracingProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, tp)
}

func TestNewTracingProvider_Stdout(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.ExporterType = "stdout"
	tp, err := NewTracingProvider(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTracingProvider_Shutdown_DisabledDefaultConfig(t *testing.T) {
	cfg := DefaultTracingConfig()
	tp, _ := NewTracingProvider(cfg, zap.NewNop())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

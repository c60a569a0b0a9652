package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "health_score", cfg.Router.RoutingStrategy)
	assert.Equal(t, 50, cfg.Router.RoutingTimeoutMs)
	assert.True(t, cfg.Router.EnableFallbackRouting)
	assert.Equal(t, 10, cfg.Router.CircuitBreakerThreshold)
	assert.Equal(t, 60, cfg.Router.CircuitBreakerTimeoutSeconds)

	assert.Equal(t, "immediate", cfg.Channels.Tick.Batching.Strategy)
	assert.Equal(t, "size_based", cfg.Channels.OHLCV.Batching.Strategy)
	assert.Equal(t, 100, cfg.Channels.OHLCV.Batching.MaxBatchSize)
	assert.Equal(t, "hybrid", cfg.Channels.FMV.Batching.Strategy)
	assert.Equal(t, 50, cfg.Channels.FMV.Batching.MaxBatchSize)
	assert.Equal(t, 500, cfg.Channels.FMV.Batching.MaxWaitTimeMs)

	assert.Equal(t, 0.01, cfg.Channels.Tick.Detection.HighLow.MinPriceChange)
	assert.Equal(t, 0.1, cfg.Channels.Tick.Detection.HighLow.MinPercentChange)
	assert.Equal(t, 8, cfg.Channels.Tick.Detection.Trend.WindowSize)
	assert.Equal(t, 3.0, cfg.Channels.Tick.Detection.Surge.VolumeThreshold)
	assert.Equal(t, 3.0, cfg.Channels.OHLCV.Detection.OHLCV.VolumeSurgeMultiplier)
	assert.Equal(t, 2.0, cfg.Channels.OHLCV.Detection.OHLCV.SignificantMoveThreshold)
	assert.Equal(t, 0.8, cfg.Channels.FMV.Detection.FMV.ConfidenceThreshold)
	assert.Equal(t, 1.0, cfg.Channels.FMV.Detection.FMV.DeviationThreshold)

	assert.Equal(t, 100, cfg.Persistence.BatchSize)
	assert.Equal(t, 5, cfg.Persistence.FlushIntervalSeconds)
	assert.Equal(t, 1000, cfg.Persistence.QueueCapacity)
	assert.Equal(t, 1, cfg.Persistence.Database.MinConnections)
	assert.Equal(t, 5, cfg.Persistence.Database.MaxConnections)

	assert.Equal(t, 10, cfg.Monitor.SampleIntervalSeconds)
	assert.Equal(t, 300.0, cfg.Monitor.AlertCooldownSeconds)
	assert.Equal(t, 0.95, cfg.Monitor.MinSuccessRate)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "health_score", cfg.Router.RoutingStrategy)
	assert.True(t, cfg.Channels.Tick.Enabled)
}

func TestDBConfig_DSN(t *testing.T) {
	dsn := DBConfig{
		Host: "db.local", Port: 5433, User: "core", Password: "secret",
		Name: "ticks", SSLMode: "disable", ConnectTimeoutSeconds: 10,
	}.DSN()
	assert.Contains(t, dsn, "host=db.local")
	assert.Contains(t, dsn, "port=5433")
	assert.Contains(t, dsn, "dbname=ticks")
	assert.Contains(t, dsn, "connect_timeout=10")
}

func TestInitLogger(t *testing.T) {
	cfg := DefaultConfig()
	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	cfg.Log.Level = "nope"
	_, err = InitLogger(cfg)
	assert.Error(t, err)
}

package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

func tick(ticker string, price float64, volume int64, ts float64) models.TickRecord {
	return models.TickRecord{
		Ticker:       ticker,
		Price:        price,
		Volume:       volume,
		Timestamp:    ts,
		MarketStatus: models.MarketStatusRegular,
	}
}

func startedTickChannel(t *testing.T, cfg config.ChannelConfig) *TickChannel {
	t.Helper()
	c := NewTickChannel("tick-test", cfg, zaptest.NewLogger(t))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestTickChannel_SessionHighScenario(t *testing.T) {
	c := startedTickChannel(t, config.DefaultTickChannelConfig())

	var all []models.Event
	// timestamps start at 1: records require a positive timestamp
	for i, price := range []float64{150.00, 150.20, 150.60} {
		result := c.ProcessWithMetrics(tick("AAPL", price, 1000, float64(i+1)))
		require.True(t, result.Success)
		all = append(all, result.Events...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, models.EventSessionHigh, all[0].Kind)
	assert.Equal(t, 150.60, all[0].Price)

	state, ok := c.SymbolState("AAPL")
	require.True(t, ok)
	assert.Equal(t, 150.60, state.SessionHigh)
}

func TestTickChannel_CooldownScenario(t *testing.T) {
	cfg := config.DefaultTickChannelConfig()
	cfg.Detection.HighLow.CooldownSeconds = 5
	c := startedTickChannel(t, cfg)

	submit := func(price, ts float64) []models.Event {
		result := c.ProcessWithMetrics(tick("AAPL", price, 1000, ts))
		require.True(t, result.Success)
		return result.Events
	}

	assert.Empty(t, submit(150.00, 1))

	events := submit(150.50, 2)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionHigh, events[0].Kind)

	// cooldown suppresses
	assert.Empty(t, submit(151.00, 4))

	events = submit(151.00, 7)
	require.Len(t, events, 1)
	assert.Equal(t, 151.00, events[0].Price)
}

func TestTickChannel_ImmediateSubmit(t *testing.T) {
	c := startedTickChannel(t, config.DefaultTickChannelConfig())

	var mu sync.Mutex
	var forwarded []models.Event
	c.SetEventSink(func(events []models.Event) {
		mu.Lock()
		forwarded = append(forwarded, events...)
		mu.Unlock()
	})

	assert.True(t, c.Submit(tick("AAPL", 150.00, 1000, 1)))
	assert.True(t, c.Submit(tick("AAPL", 150.60, 1000, 2)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, forwarded, 1)
	assert.Equal(t, models.EventSessionHigh, forwarded[0].Kind)
}

func TestTickChannel_InvalidDataFailsResult(t *testing.T) {
	c := startedTickChannel(t, config.DefaultTickChannelConfig())

	result := c.ProcessWithMetrics(map[string]interface{}{"ticker": "AAPL"})
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, "invalid_data", result.Metadata["error_type"])
}

func TestChannel_CircuitBreakerOpensAndRecovers(t *testing.T) {
	cfg := config.DefaultTickChannelConfig()
	cfg.CircuitBreakerThreshold = 3
	cfg.CircuitBreakerTimeoutSeconds = 1
	c := startedTickChannel(t, cfg)

	// consecutive validation failures trip the breaker
	for i := 0; i < 3; i++ {
		result := c.ProcessWithMetrics(42)
		assert.False(t, result.Success)
	}

	result := c.ProcessWithMetrics(tick("AAPL", 150.00, 1000, 0))
	assert.False(t, result.Success)
	assert.Equal(t, true, result.Metadata["circuit_breaker"])

	snap := c.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.CircuitOpens)
	assert.GreaterOrEqual(t, snap.CircuitRejections, int64(1))

	// after the timeout the breaker lets work through again
	time.Sleep(1100 * time.Millisecond)
	result = c.ProcessWithMetrics(tick("AAPL", 150.00, 1000, 10))
	assert.True(t, result.Success)
}

func TestChannel_SubmitRejectedWhileOpen(t *testing.T) {
	cfg := config.DefaultTickChannelConfig()
	cfg.CircuitBreakerThreshold = 2
	c := startedTickChannel(t, cfg)

	c.ProcessWithMetrics(42)
	c.ProcessWithMetrics(42)

	assert.False(t, c.Submit(tick("AAPL", 150.00, 1000, 0)))
}

func TestChannel_QueueBoundAndOverflow(t *testing.T) {
	cfg := config.DefaultOHLCVChannelConfig()
	cfg.MaxQueueSize = 4
	c := NewOHLCVChannel("ohlcv-test", cfg, nil, zaptest.NewLogger(t))
	// not started: the queue is not drained, so it fills deterministically
	c.setStatus(StatusActive)

	accepted := 0
	for i := 0; i < 10; i++ {
		if c.Submit(bar("MSFT", float64(i)*60, 300, 1000)) {
			accepted++
		}
	}

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 4, c.QueueSize())
	assert.Equal(t, int64(6), c.Metrics().Snapshot().QueueOverflows)
}

func TestChannel_PauseResume(t *testing.T) {
	c := startedTickChannel(t, config.DefaultTickChannelConfig())

	c.Pause()
	assert.Equal(t, StatusPaused, c.Status())
	assert.False(t, c.Submit(tick("AAPL", 150.00, 1000, 0)))
	// paused channels still count as healthy
	assert.True(t, c.IsHealthy())

	c.Resume()
	assert.Equal(t, StatusActive, c.Status())
	assert.True(t, c.Submit(tick("AAPL", 150.00, 1000, 1)))
}

func TestChannel_NotActiveRejectsSubmit(t *testing.T) {
	c := NewTickChannel("tick-test", config.DefaultTickChannelConfig(), zaptest.NewLogger(t))
	assert.Equal(t, StatusInitializing, c.Status())
	assert.False(t, c.Submit(tick("AAPL", 150.00, 1000, 0)))
}

func TestChannel_IsHealthy(t *testing.T) {
	c := startedTickChannel(t, config.DefaultTickChannelConfig())
	assert.True(t, c.IsHealthy())

	// error rate above the threshold flips health
	for i := 0; i < 20; i++ {
		c.ProcessWithMetrics(tick("AAPL", 150.00, 1000, float64(i+1)))
	}
	for i := 0; i < 4; i++ {
		c.ProcessWithMetrics(42)
	}
	assert.False(t, c.IsHealthy())
}

func TestOHLCVChannel_SizeBasedBatchFlush(t *testing.T) {
	cfg := config.DefaultOHLCVChannelConfig()
	cfg.Batching.MaxBatchSize = 5
	c := NewOHLCVChannel("ohlcv-test", cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop(context.Background())

	for i := 0; i < 5; i++ {
		require.True(t, c.Submit(bar("MSFT", float64(i+1)*60, 300, 1000)))
	}

	// the drainer collects the batch and flushes it through the pool
	assert.Eventually(t, func() bool {
		return c.Metrics().Snapshot().Processed == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.Metrics().Snapshot().BatchesProcessed, int64(1))
}

func TestOHLCVChannel_FeedsPersistence(t *testing.T) {
	sink := &capturingSink{}
	cfg := config.DefaultOHLCVChannelConfig()
	c := NewOHLCVChannel("ohlcv-test", cfg, sink, zaptest.NewLogger(t))

	result := c.ProcessWithMetrics(bar("MSFT", 1700000095, 300, 1000))
	require.True(t, result.Success)

	records := sink.records()
	require.Len(t, records, 1)
	// the persisted record is minute-truncated
	assert.Equal(t, float64(1700000040), records[0].Timestamp)
	assert.Equal(t, models.Timeframe1m, records[0].Timeframe)
}

func TestFMVChannel_LowConfidenceFiltered(t *testing.T) {
	c := NewFMVChannel("fmv-test", config.DefaultFMVChannelConfig(), zaptest.NewLogger(t))

	result := c.ProcessWithMetrics(models.FMVRecord{
		Ticker: "NVDA", Timestamp: 1, FMV: 150.0, MarketPrice: 150.0, Confidence: 0.5,
	})
	require.True(t, result.Success)
	assert.Empty(t, result.Events)
	assert.Equal(t, "filtered_low_confidence", result.Metadata["status"])
}

func TestFMVChannel_DeviationEvent(t *testing.T) {
	c := NewFMVChannel("fmv-test", config.DefaultFMVChannelConfig(), zaptest.NewLogger(t))

	result := c.ProcessWithMetrics(models.FMVRecord{
		Ticker: "NVDA", Timestamp: 1, FMV: 160.0, MarketPrice: 150.0, Confidence: 0.9,
	})
	require.True(t, result.Success)

	var deviation *models.Event
	for i := range result.Events {
		if result.Events[i].Kind == models.EventFMVDeviation {
			deviation = &result.Events[i]
		}
	}
	require.NotNil(t, deviation)
	assert.InDelta(t, 6.67, deviation.Fields["deviation_percent"].(float64), 0.01)
	assert.Equal(t, true, deviation.Fields["is_undervalued"])
}

func TestChannel_StopDrainsQueue(t *testing.T) {
	cfg := config.DefaultOHLCVChannelConfig()
	cfg.Batching.MaxBatchSize = 100
	c := NewOHLCVChannel("ohlcv-test", cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, c.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.True(t, c.Submit(bar("MSFT", float64(i+1)*60, 300, 1000)))
	}
	require.NoError(t, c.Stop(context.Background()))

	// every submitted bar was processed during drain
	assert.Equal(t, int64(10), c.Metrics().Snapshot().Processed)
	assert.Equal(t, StatusShutdown, c.Status())
}

type capturingSink struct {
	mu   sync.Mutex
	recs []models.OHLCVRecord
}

func (s *capturingSink) Submit(record models.OHLCVRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, record)
	return true
}

func (s *capturingSink) records() []models.OHLCVRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OHLCVRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

func bar(ticker string, ts, price float64, volume int64) models.OHLCVRecord {
	return models.OHLCVRecord{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      price,
		High:      price * 1.01,
		Low:       price * 0.99,
		Close:     price,
		Volume:    volume,
		AvgVolume: float64(volume),
	}
}

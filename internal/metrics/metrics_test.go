package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelMetrics_Counters(t *testing.T) {
	m := NewChannelMetrics()

	m.RecordProcessing(10, true, 2)
	m.RecordProcessing(20, false, 0)
	m.RecordProcessing(30, true, 1)

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Processed)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(3), snap.EventsGenerated)
	assert.InDelta(t, 1.0/3.0, snap.ErrorRate, 1e-9)
	assert.Equal(t, 30.0, snap.LastLatencyMs)
	assert.Equal(t, 10.0, snap.MinLatencyMs)
	assert.Equal(t, 30.0, snap.MaxLatencyMs)
}

func TestChannelMetrics_EMA(t *testing.T) {
	m := NewChannelMetrics()

	m.RecordProcessing(100, true, 0)
	snap := m.Snapshot()
	// first sample seeds the EMA
	assert.Equal(t, 100.0, snap.EMALatencyMs)

	m.RecordProcessing(200, true, 0)
	snap = m.Snapshot()
	assert.InDelta(t, 0.1*200+0.9*100, snap.EMALatencyMs, 1e-9)
}

func TestChannelMetrics_SnapshotImmutable(t *testing.T) {
	m := NewChannelMetrics()
	m.RecordProcessing(10, true, 1)

	snap := m.Snapshot()
	m.RecordProcessing(50, false, 3)
	m.RecordOverflow()

	// the earlier snapshot is unaffected by later updates
	assert.Equal(t, int64(1), snap.Processed)
	assert.Equal(t, int64(0), snap.Errors)
	assert.Equal(t, int64(0), snap.QueueOverflows)
}

func TestChannelMetrics_Percentiles(t *testing.T) {
	m := NewChannelMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordProcessing(float64(i), true, 0)
	}
	snap := m.Snapshot()
	assert.InDelta(t, 50, snap.P50LatencyMs, 2)
	assert.InDelta(t, 95, snap.P95LatencyMs, 2)
	assert.InDelta(t, 99, snap.P99LatencyMs, 2)
}

func TestChannelMetrics_CircuitCounters(t *testing.T) {
	m := NewChannelMetrics()
	m.RecordCircuitOpen()
	m.RecordCircuitRejection()
	m.RecordCircuitRejection()
	m.RecordCircuitClose()

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.CircuitOpens)
	assert.Equal(t, int64(1), snap.CircuitCloses)
	assert.Equal(t, int64(2), snap.CircuitRejections)
}

func TestRouterMetrics(t *testing.T) {
	m := NewRouterMetrics()

	m.RecordRoute("tick", true, 5)
	m.RecordRoute("tick", false, 10)
	m.RecordRoute("ohlcv", true, 2)
	m.RecordRoutingError()
	m.RecordTimeout()
	m.RecordFallback()

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Routed)
	assert.Equal(t, int64(2), snap.RoutedByType["tick"])
	assert.Equal(t, int64(1), snap.RoutedByType["ohlcv"])
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(1), snap.RoutingErrors)
	assert.Equal(t, int64(1), snap.Timeouts)
	assert.Equal(t, int64(1), snap.FallbackUsed)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate(), 1e-9)
}

func TestSnapshot_SuccessRateEmpty(t *testing.T) {
	assert.Equal(t, 1.0, Snapshot{}.SuccessRate())
	assert.Equal(t, 1.0, RouterSnapshot{}.SuccessRate())
}

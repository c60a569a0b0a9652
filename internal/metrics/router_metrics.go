package metrics

import (
	"sync"
	"time"
)

// RouterMetrics tracks routing-level counters across all channel types
type RouterMetrics struct {
	mu sync.Mutex

	routed        int64
	routedByType  map[string]int64
	failures      int64
	routingErrors int64
	timeouts      int64
	fallbackUsed  int64
	retries       int64

	emaLatencyMs float64
	lastActivity time.Time
}

// NewRouterMetrics creates a zeroed router metrics instance
func NewRouterMetrics() *RouterMetrics {
	return &RouterMetrics{
		routedByType: make(map[string]int64),
	}
}

// RecordRoute records one completed dispatch
func (m *RouterMetrics) RecordRoute(dataType string, success bool, latencyMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routed++
	m.routedByType[dataType]++
	if !success {
		m.failures++
	}
	if m.emaLatencyMs == 0 {
		m.emaLatencyMs = latencyMs
	} else {
		m.emaLatencyMs = emaAlpha*latencyMs + (1-emaAlpha)*m.emaLatencyMs
	}
	m.lastActivity = time.Now()
}

// RecordRoutingError records an unclassifiable item
func (m *RouterMetrics) RecordRoutingError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routingErrors++
}

// RecordTimeout records a dispatch that exceeded the routing deadline
func (m *RouterMetrics) RecordTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

// RecordFallback records a dispatch served by the fallback path
func (m *RouterMetrics) RecordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbackUsed++
}

// RecordRetry records a retry against a peer instance
func (m *RouterMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

// Snapshot copies the counters into an immutable value
func (m *RouterMetrics) Snapshot() RouterSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]int64, len(m.routedByType))
	for k, v := range m.routedByType {
		byType[k] = v
	}
	return RouterSnapshot{
		Routed:        m.routed,
		RoutedByType:  byType,
		Failures:      m.failures,
		RoutingErrors: m.routingErrors,
		Timeouts:      m.timeouts,
		FallbackUsed:  m.fallbackUsed,
		Retries:       m.retries,
		EMALatencyMs:  m.emaLatencyMs,
		LastActivity:  m.lastActivity,
	}
}

// RouterSnapshot is a point-in-time copy of router counters
type RouterSnapshot struct {
	Routed        int64
	RoutedByType  map[string]int64
	Failures      int64
	RoutingErrors int64
	Timeouts      int64
	FallbackUsed  int64
	Retries       int64
	EMALatencyMs  float64
	LastActivity  time.Time
}

// SuccessRate returns the fraction of dispatches that succeeded
func (s RouterSnapshot) SuccessRate() float64 {
	if s.Routed == 0 {
		return 1.0
	}
	return float64(s.Routed-s.Failures) / float64(s.Routed)
}

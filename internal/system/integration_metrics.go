package system

import (
	"sync"
	"time"
)

// emaAlpha is the smoothing factor for end-to-end latency averaging
const emaAlpha = 0.1

// IntegrationMetrics tracks system-wide submission counters. Throughput is
// measured over one-second windows.
type IntegrationMetrics struct {
	mu sync.Mutex

	totalProcessed int64
	byType         map[string]int64
	successes      int64
	failures       int64
	emaLatencyMs   float64

	windowStart    time.Time
	windowCount    int64
	currentPerSec  float64
	peakPerSec     float64
}

// NewIntegrationMetrics creates a zeroed metrics instance
func NewIntegrationMetrics() *IntegrationMetrics {
	return &IntegrationMetrics{
		byType:      make(map[string]int64),
		windowStart: time.Now(),
	}
}

// Record tracks one submission outcome
func (m *IntegrationMetrics) Record(dataType string, success bool, latencyMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalProcessed++
	m.byType[dataType]++
	if success {
		m.successes++
	} else {
		m.failures++
	}
	if m.emaLatencyMs == 0 {
		m.emaLatencyMs = latencyMs
	} else {
		m.emaLatencyMs = emaAlpha*latencyMs + (1-emaAlpha)*m.emaLatencyMs
	}

	now := time.Now()
	if now.Sub(m.windowStart) >= time.Second {
		m.currentPerSec = float64(m.windowCount) / now.Sub(m.windowStart).Seconds()
		if m.currentPerSec > m.peakPerSec {
			m.peakPerSec = m.currentPerSec
		}
		m.windowStart = now
		m.windowCount = 0
	}
	m.windowCount++
}

// Snapshot copies the counters into an immutable value
func (m *IntegrationMetrics) Snapshot() IntegrationSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[string]int64, len(m.byType))
	for k, v := range m.byType {
		byType[k] = v
	}
	return IntegrationSnapshot{
		TotalProcessed:    m.totalProcessed,
		ByType:            byType,
		Successes:         m.successes,
		Failures:          m.failures,
		EMALatencyMs:      m.emaLatencyMs,
		CurrentThroughput: m.currentPerSec,
		PeakThroughput:    m.peakPerSec,
	}
}

// IntegrationSnapshot is a point-in-time copy of system counters
type IntegrationSnapshot struct {
	TotalProcessed    int64            `json:"total_processed"`
	ByType            map[string]int64 `json:"by_type"`
	Successes         int64            `json:"successes"`
	Failures          int64            `json:"failures"`
	EMALatencyMs      float64          `json:"ema_latency_ms"`
	CurrentThroughput float64          `json:"current_throughput"`
	PeakThroughput    float64          `json:"peak_throughput"`
}

// SuccessRate returns the fraction of submissions that succeeded
func (s IntegrationSnapshot) SuccessRate() float64 {
	if s.TotalProcessed == 0 {
		return 1.0
	}
	return float64(s.Successes) / float64(s.TotalProcessed)
}

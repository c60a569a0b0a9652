package metrics

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// emaAlpha is the smoothing factor for latency averaging
const emaAlpha = 0.1

// latencyRingSize bounds the per-channel latency sample ring
const latencyRingSize = 100

// ChannelMetrics tracks processing counters for one channel instance. All
// mutation goes through a single mutex; readers take point-in-time snapshots.
type ChannelMetrics struct {
	mu sync.Mutex

	processed       int64
	errors          int64
	eventsGenerated int64

	lastLatencyMs float64
	emaLatencyMs  float64
	minLatencyMs  float64
	maxLatencyMs  float64
	latencyRing   []float64

	batchesProcessed int64
	batchesFailed    int64
	queueOverflows   int64

	circuitOpens      int64
	circuitCloses     int64
	circuitRejections int64

	startedAt    time.Time
	stoppedAt    time.Time
	lastActivity time.Time
}

// NewChannelMetrics creates a zeroed metrics instance
func NewChannelMetrics() *ChannelMetrics {
	return &ChannelMetrics{
		latencyRing: make([]float64, 0, latencyRingSize),
	}
}

// MarkStarted records the channel start time
func (m *ChannelMetrics) MarkStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startedAt = time.Now()
}

// MarkStopped records the channel stop time
func (m *ChannelMetrics) MarkStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stoppedAt = time.Now()
}

// RecordProcessing records one processed item with its latency and event count
func (m *ChannelMetrics) RecordProcessing(latencyMs float64, success bool, events int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed++
	if !success {
		m.errors++
	}
	m.eventsGenerated += int64(events)
	m.lastActivity = time.Now()

	m.lastLatencyMs = latencyMs
	if m.emaLatencyMs == 0 {
		m.emaLatencyMs = latencyMs
	} else {
		m.emaLatencyMs = emaAlpha*latencyMs + (1-emaAlpha)*m.emaLatencyMs
	}
	if m.minLatencyMs == 0 || latencyMs < m.minLatencyMs {
		m.minLatencyMs = latencyMs
	}
	if latencyMs > m.maxLatencyMs {
		m.maxLatencyMs = latencyMs
	}

	if len(m.latencyRing) == latencyRingSize {
		m.latencyRing = m.latencyRing[1:]
	}
	m.latencyRing = append(m.latencyRing, latencyMs)
}

// RecordBatch records one batch flush
func (m *ChannelMetrics) RecordBatch(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.batchesProcessed++
	} else {
		m.batchesFailed++
	}
}

// RecordOverflow records a rejected enqueue on a full queue
func (m *ChannelMetrics) RecordOverflow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueOverflows++
}

// RecordCircuitOpen records a circuit breaker transition to open
func (m *ChannelMetrics) RecordCircuitOpen() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitOpens++
}

// RecordCircuitClose records a circuit breaker transition to closed
func (m *ChannelMetrics) RecordCircuitClose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitCloses++
}

// RecordCircuitRejection records a call rejected by an open breaker
func (m *ChannelMetrics) RecordCircuitRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitRejections++
}

// Snapshot copies the counters into an immutable value
func (m *ChannelMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Processed:         m.processed,
		Errors:            m.errors,
		EventsGenerated:   m.eventsGenerated,
		LastLatencyMs:     m.lastLatencyMs,
		EMALatencyMs:      m.emaLatencyMs,
		MinLatencyMs:      m.minLatencyMs,
		MaxLatencyMs:      m.maxLatencyMs,
		BatchesProcessed:  m.batchesProcessed,
		BatchesFailed:     m.batchesFailed,
		QueueOverflows:    m.queueOverflows,
		CircuitOpens:      m.circuitOpens,
		CircuitCloses:     m.circuitCloses,
		CircuitRejections: m.circuitRejections,
		StartedAt:         m.startedAt,
		StoppedAt:         m.stoppedAt,
		LastActivity:      m.lastActivity,
	}
	if m.processed > 0 {
		s.ErrorRate = float64(m.errors) / float64(m.processed)
	}
	if len(m.latencyRing) > 0 {
		samples := make([]float64, len(m.latencyRing))
		copy(samples, m.latencyRing)
		sort.Float64s(samples)
		s.P50LatencyMs = stat.Quantile(0.50, stat.Empirical, samples, nil)
		s.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, samples, nil)
		s.P99LatencyMs = stat.Quantile(0.99, stat.Empirical, samples, nil)
	}
	return s
}

// Snapshot is a point-in-time copy of channel counters. It is unaffected by
// later metric updates.
type Snapshot struct {
	Processed       int64
	Errors          int64
	ErrorRate       float64
	EventsGenerated int64

	LastLatencyMs float64
	EMALatencyMs  float64
	MinLatencyMs  float64
	MaxLatencyMs  float64
	P50LatencyMs  float64
	P95LatencyMs  float64
	P99LatencyMs  float64

	BatchesProcessed int64
	BatchesFailed    int64
	QueueOverflows   int64

	CircuitOpens      int64
	CircuitCloses     int64
	CircuitRejections int64

	StartedAt    time.Time
	StoppedAt    time.Time
	LastActivity time.Time
}

// SuccessRate returns the fraction of processed items that succeeded
func (s Snapshot) SuccessRate() float64 {
	if s.Processed == 0 {
		return 1.0
	}
	return float64(s.Processed-s.Errors) / float64(s.Processed)
}

// Uptime returns the wall-clock time since the channel started
func (s Snapshot) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.StoppedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/quantstream/tickcore/internal/channels"
	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/metrics"
)

// percentileRingSize bounds the per-channel latency sample ring kept by the
// monitor
const percentileRingSize = 1000

// percentileMinSamples is the sample count required before percentiles are
// reported
const percentileMinSamples = 10

// RouterStats exposes the router counters the monitor samples
type RouterStats interface {
	Metrics() *metrics.RouterMetrics
}

// ChannelMonitor samples registered channels on a fixed interval, raises
// threshold alerts and produces dashboard snapshots. It holds lookup-only
// references to the channels.
type ChannelMonitor struct {
	logger *zap.Logger
	cfg    config.MonitorConfig

	alerts   *AlertManager
	exporter *metrics.PrometheusExporter
	router   RouterStats

	mu           sync.RWMutex
	channels     map[string]channels.Channel
	latencyRings map[string][]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannelMonitor creates a monitor with the given thresholds
func NewChannelMonitor(cfg config.MonitorConfig, exporter *metrics.PrometheusExporter, logger *zap.Logger) *ChannelMonitor {
	return &ChannelMonitor{
		logger: logger.With(zap.String("component", "monitor")),
		cfg:    cfg,
		alerts: NewAlertManager(
			time.Duration(cfg.AlertCooldownSeconds*float64(time.Second)),
			time.Duration(cfg.AlertHistoryHours)*time.Hour,
			logger,
		),
		exporter:     exporter,
		channels:     make(map[string]channels.Channel),
		latencyRings: make(map[string][]float64),
	}
}

// RegisterChannel adds a channel to the sampling set
func (m *ChannelMonitor) RegisterChannel(c channels.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.Name()] = c
}

// SetRouter attaches the router whose counters are sampled
func (m *ChannelMonitor) SetRouter(r RouterStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.router = r
}

// Alerts exposes the alert manager for handler registration
func (m *ChannelMonitor) Alerts() *AlertManager { return m.alerts }

// Start spawns the sampling loop
func (m *ChannelMonitor) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.sampleLoop()
	m.logger.Info("Channel monitor started",
		zap.Int("interval_seconds", m.cfg.SampleIntervalSeconds))
	return nil
}

// Stop cancels the sampling loop
func (m *ChannelMonitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Channel monitor stopped")
	return nil
}

func (m *ChannelMonitor) sampleLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(m.cfg.SampleIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample performs one sampling pass over all registered channels
func (m *ChannelMonitor) Sample() {
	m.mu.RLock()
	registered := make(map[string]channels.Channel, len(m.channels))
	for name, c := range m.channels {
		registered[name] = c
	}
	router := m.router
	m.mu.RUnlock()

	for name, c := range registered {
		snap := c.Metrics().Snapshot()
		m.recordLatency(name, snap.LastLatencyMs)
		m.checkThresholds(name, c, snap)
		if m.exporter != nil {
			m.exporter.UpdateChannel(name, snap, c.QueueSize())
		}
	}

	if router != nil && m.exporter != nil {
		m.exporter.UpdateRouter(router.Metrics().Snapshot())
	}
}

func (m *ChannelMonitor) recordLatency(name string, latencyMs float64) {
	if latencyMs <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ring := m.latencyRings[name]
	if len(ring) == percentileRingSize {
		ring = ring[1:]
	}
	m.latencyRings[name] = append(ring, latencyMs)
}

// Percentiles returns p50/p95/p99 for a channel once enough samples exist
func (m *ChannelMonitor) Percentiles(name string) (p50, p95, p99 float64, ok bool) {
	m.mu.RLock()
	ring := m.latencyRings[name]
	m.mu.RUnlock()
	if len(ring) < percentileMinSamples {
		return 0, 0, 0, false
	}
	samples := make([]float64, len(ring))
	copy(samples, ring)
	sort.Float64s(samples)
	return stat.Quantile(0.50, stat.Empirical, samples, nil),
		stat.Quantile(0.95, stat.Empirical, samples, nil),
		stat.Quantile(0.99, stat.Empirical, samples, nil),
		true
}

func (m *ChannelMonitor) checkThresholds(name string, c channels.Channel, snap metrics.Snapshot) {
	if status := c.Status(); status == channels.StatusError || status == channels.StatusShutdown {
		m.alerts.Trigger(AlertChannelFailure, SeverityCritical, name,
			fmt.Sprintf("Channel %s is %s", name, status),
			map[string]interface{}{"status": string(status)})
	}

	if snap.EMALatencyMs > m.cfg.MaxLatencyMs {
		m.alerts.Trigger(AlertHighLatency, SeverityWarning, name,
			fmt.Sprintf("Channel %s latency %.2fms exceeds %.2fms", name, snap.EMALatencyMs, m.cfg.MaxLatencyMs),
			map[string]interface{}{"ema_latency_ms": snap.EMALatencyMs})
	}

	if snap.Processed > 0 && snap.SuccessRate() < m.cfg.MinSuccessRate {
		m.alerts.Trigger(AlertLowSuccessRate, SeverityError, name,
			fmt.Sprintf("Channel %s success rate %.2f%% below %.2f%%", name, snap.SuccessRate()*100, m.cfg.MinSuccessRate*100),
			map[string]interface{}{"success_rate": snap.SuccessRate()})
	}

	if snap.Processed > 0 && snap.ErrorRate > m.cfg.MaxErrorRate {
		m.alerts.Trigger(AlertPerformanceDegradation, SeverityWarning, name,
			fmt.Sprintf("Channel %s error rate %.2f%% above %.2f%%", name, snap.ErrorRate*100, m.cfg.MaxErrorRate*100),
			map[string]interface{}{"error_rate": snap.ErrorRate})
	}

	if capacity := c.QueueCapacity(); capacity > 0 {
		utilization := float64(c.QueueSize()) / float64(capacity)
		if utilization > m.cfg.MaxQueueUtilization {
			m.alerts.Trigger(AlertQueueOverflow, SeverityWarning, name,
				fmt.Sprintf("Channel %s queue %.0f%% full", name, utilization*100),
				map[string]interface{}{"utilization": utilization, "queue_size": c.QueueSize()})
		}
	}

	if usedGb := memoryUsedGb(); usedGb > m.cfg.MaxMemoryGb {
		m.alerts.Trigger(AlertMemoryUsage, SeverityWarning, name,
			fmt.Sprintf("Process memory %.2fGB above %.2fGB", usedGb, m.cfg.MaxMemoryGb),
			map[string]interface{}{"memory_gb": usedGb})
	}
}

func memoryUsedGb() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Alloc) / (1024 * 1024 * 1024)
}

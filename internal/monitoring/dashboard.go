package monitoring

import (
	"runtime"
	"time"

	"github.com/quantstream/tickcore/internal/channels"
	"github.com/quantstream/tickcore/internal/metrics"
)

// DashboardSnapshot is the full monitoring view served to operators
type DashboardSnapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Overview    SystemOverview          `json:"overview"`
	Channels    map[string]ChannelView  `json:"channels"`
	Router      *metrics.RouterSnapshot `json:"router,omitempty"`
	Alerts      AlertsView              `json:"alerts"`
	Thresholds  ThresholdsView          `json:"thresholds"`
}

// SystemOverview summarizes system-wide health
type SystemOverview struct {
	ChannelCount    int     `json:"channel_count"`
	HealthyChannels int     `json:"healthy_channels"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	MemoryGb        float64 `json:"memory_gb"`
	Goroutines      int     `json:"goroutines"`
}

// ChannelView is the per-channel dashboard detail
type ChannelView struct {
	Type         string           `json:"type"`
	Status       string           `json:"status"`
	Healthy      bool             `json:"healthy"`
	QueueSize    int              `json:"queue_size"`
	QueueCap     int              `json:"queue_capacity"`
	Metrics      metrics.Snapshot `json:"metrics"`
	P50LatencyMs float64          `json:"p50_latency_ms"`
	P95LatencyMs float64          `json:"p95_latency_ms"`
	P99LatencyMs float64          `json:"p99_latency_ms"`
}

// AlertsView groups active and recent alerts
type AlertsView struct {
	Active []*Alert `json:"active"`
	Recent []*Alert `json:"recent"`
}

// ThresholdsView echoes the configured alert thresholds
type ThresholdsView struct {
	MaxLatencyMs        float64 `json:"max_latency_ms"`
	MinSuccessRate      float64 `json:"min_success_rate"`
	MaxMemoryGb         float64 `json:"max_memory_gb"`
	MaxQueueUtilization float64 `json:"max_queue_utilization"`
	MaxErrorRate        float64 `json:"max_error_rate"`
	MaxProcessingMs     float64 `json:"max_processing_ms"`
}

// Dashboard assembles the current monitoring snapshot
func (m *ChannelMonitor) Dashboard() DashboardSnapshot {
	m.mu.RLock()
	registered := make(map[string]channels.Channel, len(m.channels))
	for name, c := range m.channels {
		registered[name] = c
	}
	router := m.router
	m.mu.RUnlock()

	views := make(map[string]ChannelView, len(registered))
	var healthy int
	var totalProcessed, totalErrors int64
	var latencySum float64

	for name, c := range registered {
		snap := c.Metrics().Snapshot()
		view := ChannelView{
			Type:      string(c.Type()),
			Status:    string(c.Status()),
			Healthy:   c.IsHealthy(),
			QueueSize: c.QueueSize(),
			QueueCap:  c.QueueCapacity(),
			Metrics:   snap,
		}
		if p50, p95, p99, ok := m.Percentiles(name); ok {
			view.P50LatencyMs, view.P95LatencyMs, view.P99LatencyMs = p50, p95, p99
		}
		views[name] = view

		if view.Healthy {
			healthy++
		}
		totalProcessed += snap.Processed
		totalErrors += snap.Errors
		latencySum += snap.EMALatencyMs
	}

	overview := SystemOverview{
		ChannelCount:    len(registered),
		HealthyChannels: healthy,
		SuccessRate:     1.0,
		MemoryGb:        memoryUsedGb(),
		Goroutines:      runtime.NumGoroutine(),
	}
	if totalProcessed > 0 {
		overview.SuccessRate = float64(totalProcessed-totalErrors) / float64(totalProcessed)
	}
	if len(registered) > 0 {
		overview.AvgLatencyMs = latencySum / float64(len(registered))
	}

	snapshot := DashboardSnapshot{
		GeneratedAt: time.Now(),
		Overview:    overview,
		Channels:    views,
		Alerts: AlertsView{
			Active: m.alerts.Active(),
			Recent: m.alerts.Recent(),
		},
		Thresholds: ThresholdsView{
			MaxLatencyMs:        m.cfg.MaxLatencyMs,
			MinSuccessRate:      m.cfg.MinSuccessRate,
			MaxMemoryGb:         m.cfg.MaxMemoryGb,
			MaxQueueUtilization: m.cfg.MaxQueueUtilization,
			MaxErrorRate:        m.cfg.MaxErrorRate,
			MaxProcessingMs:     m.cfg.MaxProcessingMs,
		},
	}
	if router != nil {
		rs := router.Metrics().Snapshot()
		snapshot.Router = &rs
	}
	return snapshot
}

package system

import (
	"time"

	"github.com/quantstream/tickcore/internal/metrics"
	"github.com/quantstream/tickcore/internal/persistence"
)

// latencyTargetMs is the end-to-end latency target surfaced in status
const latencyTargetMs = 50.0

// successRateTarget is the system success rate target surfaced in status
const successRateTarget = 0.95

// SystemStatus is the point-in-time view returned by Status. It may be
// requested in any lifecycle state.
type SystemStatus struct {
	State       State                       `json:"state"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Channels    map[string]ChannelStatus    `json:"channels"`
	Router      metrics.RouterSnapshot      `json:"router"`
	Persistence persistence.Stats           `json:"persistence"`
	Integration IntegrationSnapshot         `json:"integration"`
	Targets     PerformanceTargets          `json:"targets"`
	HealthIssues int                        `json:"health_issues"`
}

// ChannelStatus is one channel's entry in the status view
type ChannelStatus struct {
	Type      string           `json:"type"`
	Status    string           `json:"status"`
	Healthy   bool             `json:"healthy"`
	QueueSize int              `json:"queue_size"`
	Metrics   metrics.Snapshot `json:"metrics"`
}

// PerformanceTargets flags whether the system meets its operating targets
type PerformanceTargets struct {
	LatencyMet      bool `json:"latency_met"`
	SuccessRateMet  bool `json:"success_rate_met"`
	ChannelsHealthy bool `json:"channels_healthy"`
}

// Status assembles the current system snapshot
func (s *MultiChannelSystem) Status() SystemStatus {
	s.refreshState()

	channelStatuses := make(map[string]ChannelStatus)
	allHealthy := true
	for _, c := range s.enabledChannels() {
		healthy := c.IsHealthy()
		if !healthy {
			allHealthy = false
		}
		channelStatuses[c.Name()] = ChannelStatus{
			Type:      string(c.Type()),
			Status:    string(c.Status()),
			Healthy:   healthy,
			QueueSize: c.QueueSize(),
			Metrics:   c.Metrics().Snapshot(),
		}
	}

	integration := s.integration.Snapshot()

	return SystemStatus{
		State:        s.CurrentState(),
		GeneratedAt:  time.Now(),
		Channels:     channelStatuses,
		Router:       s.router.Metrics().Snapshot(),
		Persistence:  s.PersistenceStats(),
		Integration:  integration,
		HealthIssues: s.healthIssues(),
		Targets: PerformanceTargets{
			LatencyMet:      integration.EMALatencyMs <= latencyTargetMs,
			SuccessRateMet:  integration.SuccessRate() >= successRateTarget,
			ChannelsHealthy: allHealthy,
		},
	}
}

package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertType identifies the condition that raised an alert
type AlertType string

const (
	// AlertChannelFailure marks a channel in a failed state
	AlertChannelFailure AlertType = "channel_failure"

	// AlertPerformanceDegradation marks an error rate above the threshold
	AlertPerformanceDegradation AlertType = "performance_degradation"

	// AlertHighLatency marks latency above the threshold
	AlertHighLatency AlertType = "high_latency"

	// AlertLowSuccessRate marks a success rate below the threshold
	AlertLowSuccessRate AlertType = "low_success_rate"

	// AlertMemoryUsage marks memory consumption above the threshold
	AlertMemoryUsage AlertType = "memory_usage"

	// AlertQueueOverflow marks queue utilization above the threshold
	AlertQueueOverflow AlertType = "queue_overflow"

	// AlertRoutingErrors marks accumulating router errors
	AlertRoutingErrors AlertType = "routing_errors"

	// AlertSystemHealth marks system-wide health problems
	AlertSystemHealth AlertType = "system_health"
)

// AlertSeverity ranks alert urgency
type AlertSeverity string

const (
	// SeverityInfo is informational
	SeverityInfo AlertSeverity = "info"

	// SeverityWarning needs attention
	SeverityWarning AlertSeverity = "warning"

	// SeverityError needs action
	SeverityError AlertSeverity = "error"

	// SeverityCritical needs immediate action
	SeverityCritical AlertSeverity = "critical"
)

// Alert is one threshold breach observed by the monitor
type Alert struct {
	ID          string
	Type        AlertType
	Severity    AlertSeverity
	Message     string
	Details     map[string]interface{}
	ChannelName string
	Timestamp   time.Time
	Resolved    bool
}

// AlertHandler is invoked for each newly raised alert
type AlertHandler func(alert *Alert)

// cooldownKey deduplicates alerts per condition and channel
type cooldownKey struct {
	Type    AlertType
	Channel string
}

// AlertManager raises, deduplicates and retains alerts. Identical
// (type, channel) alerts are suppressed inside the cooldown window.
type AlertManager struct {
	logger   *zap.Logger
	cooldown time.Duration
	history  time.Duration

	mu        sync.RWMutex
	handlers  map[string]AlertHandler
	alerts    []*Alert
	lastFired map[cooldownKey]time.Time
}

// NewAlertManager creates an alert manager with the given cooldown and
// retention windows
func NewAlertManager(cooldown, history time.Duration, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		logger:    logger.With(zap.String("component", "alerts")),
		cooldown:  cooldown,
		history:   history,
		handlers:  make(map[string]AlertHandler),
		lastFired: make(map[cooldownKey]time.Time),
	}
}

// RegisterHandler registers a named alert handler
func (m *AlertManager) RegisterHandler(name string, handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = handler
}

// Trigger raises an alert unless an identical one fired inside the cooldown
// window. It returns the alert when one was raised.
func (m *AlertManager) Trigger(alertType AlertType, severity AlertSeverity, channelName, message string, details map[string]interface{}) *Alert {
	m.mu.Lock()

	key := cooldownKey{Type: alertType, Channel: channelName}
	now := time.Now()
	if last, ok := m.lastFired[key]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		return nil
	}
	m.lastFired[key] = now

	alert := &Alert{
		ID:          uuid.NewString(),
		Type:        alertType,
		Severity:    severity,
		Message:     message,
		Details:     details,
		ChannelName: channelName,
		Timestamp:   now,
	}
	m.alerts = append(m.alerts, alert)
	m.pruneLocked(now)

	handlers := make([]AlertHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.logAlert(alert)
	for _, h := range handlers {
		h(alert)
	}
	return alert
}

// Active returns unresolved alerts, newest last
func (m *AlertManager) Active() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}

// Recent returns all retained alerts, newest last
func (m *AlertManager) Recent() []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Resolve marks an alert resolved
func (m *AlertManager) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			a.Resolved = true
			return nil
		}
	}
	return fmt.Errorf("alert not found: %s", id)
}

// pruneLocked drops alerts older than the retention window
func (m *AlertManager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.history)
	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

func (m *AlertManager) logAlert(alert *Alert) {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("channel", alert.ChannelName),
	}
	switch alert.Severity {
	case SeverityInfo:
		m.logger.Info(alert.Message, fields...)
	case SeverityWarning:
		m.logger.Warn(alert.Message, fields...)
	default:
		m.logger.Error(alert.Message, fields...)
	}
}

package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/channels"
	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/events"
	"github.com/quantstream/tickcore/internal/identifier"
	"github.com/quantstream/tickcore/internal/metrics"
	"github.com/quantstream/tickcore/internal/models"
	"github.com/quantstream/tickcore/internal/monitoring"
	"github.com/quantstream/tickcore/internal/persistence"
	"github.com/quantstream/tickcore/internal/router"
)

// degradedIssueThreshold is the health issue count that degrades the system
const degradedIssueThreshold = 3

// State is the lifecycle state of the whole system
type State string

const (
	// StateInitializing marks a system that has not started
	StateInitializing State = "initializing"

	// StateReady marks a started, idle system
	StateReady State = "ready"

	// StateProcessing marks a system actively handling submissions
	StateProcessing State = "processing"

	// StateDegraded marks a system with accumulating health issues
	StateDegraded State = "degraded"

	// StateError marks a system that failed to initialize
	StateError State = "error"

	// StateShutdown marks a stopped system
	StateShutdown State = "shutdown"
)

// Params carries the dependencies for building a MultiChannelSystem. Store
// may be nil when persistence is disabled.
type Params struct {
	Config *config.Config
	Logger *zap.Logger
	Store  persistence.Store
}

// MultiChannelSystem is the composition root: it owns the channels, the
// router, the persistence writer, the event bus and the monitor, and exposes
// the submit/status/lifecycle surface.
type MultiChannelSystem struct {
	logger *zap.Logger
	cfg    *config.Config

	identifier  *identifier.DataIdentifier
	bus         *events.Bus
	writer      *persistence.Writer
	tick        *channels.TickChannel
	ohlcv       *channels.OHLCVChannel
	fmv         *channels.FMVChannel
	router      *router.ChannelRouter
	monitor     *monitoring.ChannelMonitor
	exporter    *metrics.PrometheusExporter
	integration *IntegrationMetrics

	mu    sync.Mutex
	state State
}

// NewMultiChannelSystem wires the system from configuration. Channels are
// built for every enabled type; persistence requires a store.
func NewMultiChannelSystem(p Params) *MultiChannelSystem {
	logger := p.Logger.With(zap.String("component", "multi_channel_system"))
	exporter := metrics.NewPrometheusExporter()
	bus := events.NewBus(p.Logger)

	s := &MultiChannelSystem{
		logger:      logger,
		cfg:         p.Config,
		identifier:  identifier.NewDataIdentifier(p.Logger),
		bus:         bus,
		exporter:    exporter,
		integration: NewIntegrationMetrics(),
		state:       StateInitializing,
	}

	if p.Config.Persistence.Enabled && p.Store != nil {
		s.writer = persistence.NewWriter(p.Config.Persistence, p.Store, p.Logger)
	}

	sink := func(evts []models.Event) {
		if err := bus.Publish(evts); err != nil {
			logger.Error("Failed to publish channel events", zap.Error(err))
		}
	}

	if p.Config.Channels.Tick.Enabled {
		s.tick = channels.NewTickChannel("tick-1", p.Config.Channels.Tick, p.Logger)
		s.tick.SetEventSink(sink)
	}
	if p.Config.Channels.OHLCV.Enabled {
		var persistenceSink channels.PersistenceSink
		if s.writer != nil {
			persistenceSink = s.writer
		}
		s.ohlcv = channels.NewOHLCVChannel("ohlcv-1", p.Config.Channels.OHLCV, persistenceSink, p.Logger)
		s.ohlcv.SetEventSink(sink)
	}
	if p.Config.Channels.FMV.Enabled {
		s.fmv = channels.NewFMVChannel("fmv-1", p.Config.Channels.FMV, p.Logger)
		s.fmv.SetEventSink(sink)
	}

	s.router = router.NewChannelRouter(p.Config.Router, s.identifier, bus, p.Logger)
	s.monitor = monitoring.NewChannelMonitor(p.Config.Monitor, exporter, p.Logger)

	return s
}

// Start brings up persistence, channels, router registrations and the
// monitor, in that order.
func (s *MultiChannelSystem) Start(ctx context.Context) error {
	s.logger.Info("Starting multi-channel system")

	if err := s.bus.Start(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	if s.writer != nil {
		if err := s.writer.Start(ctx); err != nil {
			s.setState(StateError)
			return fmt.Errorf("failed to start persistence: %w", err)
		}
	}

	for _, c := range s.enabledChannels() {
		if err := c.Start(ctx); err != nil {
			s.setState(StateError)
			return fmt.Errorf("failed to start channel %s: %w", c.Name(), err)
		}
		s.router.RegisterChannel(c)
		s.monitor.RegisterChannel(c)
	}

	s.monitor.SetRouter(s.router)
	if err := s.monitor.Start(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	s.setState(StateReady)
	s.logger.Info("Multi-channel system ready",
		zap.Int("channels", len(s.enabledChannels())))
	return nil
}

// Stop shuts components down in reverse startup order
func (s *MultiChannelSystem) Stop(ctx context.Context) error {
	s.logger.Info("Stopping multi-channel system")
	s.setState(StateShutdown)

	if err := s.monitor.Stop(ctx); err != nil {
		s.logger.Error("Monitor stop failed", zap.Error(err))
	}
	for _, c := range s.enabledChannels() {
		if err := c.Stop(ctx); err != nil {
			s.logger.Error("Channel stop failed",
				zap.Error(err),
				zap.String("channel", c.Name()))
		}
	}
	if s.writer != nil {
		if err := s.writer.Stop(ctx); err != nil {
			s.logger.Error("Persistence stop failed", zap.Error(err))
		}
	}
	if err := s.bus.Stop(ctx); err != nil {
		s.logger.Error("Event bus stop failed", zap.Error(err))
	}

	s.logger.Info("Multi-channel system stopped")
	return nil
}

// Submit dispatches one datum through the router and tracks system metrics.
// It returns nil for unclassifiable items.
func (s *MultiChannelSystem) Submit(data interface{}) *models.ProcessingResult {
	state := s.CurrentState()
	if state == StateInitializing || state == StateShutdown || state == StateError {
		return models.NewFailureResult(models.ErrNotRunning.Error()).
			WithMeta("state", string(state))
	}

	start := time.Now()
	dataType := s.identifier.Identify(data)
	result := s.router.Route(data)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	if result != nil {
		s.integration.Record(string(dataType), result.Success, latencyMs)
	} else {
		s.integration.Record(string(dataType), false, latencyMs)
	}

	s.refreshState()
	return result
}

// Subscribe attaches a downstream event processor to the core's event stream
func (s *MultiChannelSystem) Subscribe(proc events.Processor) error {
	return s.bus.Subscribe(proc)
}

// Ready reports whether the router exists and every configured channel is
// healthy
func (s *MultiChannelSystem) Ready() bool {
	if s.router == nil {
		return false
	}
	state := s.CurrentState()
	if state == StateInitializing || state == StateShutdown || state == StateError {
		return false
	}
	for _, c := range s.enabledChannels() {
		if !c.IsHealthy() {
			return false
		}
	}
	return true
}

// CurrentState returns the system lifecycle state
func (s *MultiChannelSystem) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Monitor exposes the channel monitor
func (s *MultiChannelSystem) Monitor() *monitoring.ChannelMonitor { return s.monitor }

// Router exposes the channel router
func (s *MultiChannelSystem) Router() *router.ChannelRouter { return s.router }

// Exporter exposes the Prometheus exporter backing /metrics
func (s *MultiChannelSystem) Exporter() *metrics.PrometheusExporter { return s.exporter }

// PersistenceStats returns the writer counters, or a zero value when
// persistence is disabled
func (s *MultiChannelSystem) PersistenceStats() persistence.Stats {
	if s.writer == nil {
		return persistence.Stats{}
	}
	return s.writer.Stats()
}

func (s *MultiChannelSystem) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// refreshState flips between Ready/Processing and Degraded based on the
// current health issue count.
func (s *MultiChannelSystem) refreshState() {
	issues := s.healthIssues()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady, StateProcessing:
		if issues >= degradedIssueThreshold {
			s.state = StateDegraded
		} else {
			s.state = StateProcessing
		}
	case StateDegraded:
		if issues < degradedIssueThreshold {
			s.state = StateProcessing
		}
	}
}

// healthIssues counts independent health problems across components
func (s *MultiChannelSystem) healthIssues() int {
	issues := 0
	for _, c := range s.enabledChannels() {
		if !c.IsHealthy() {
			issues++
		}
	}
	if s.writer != nil && !s.writer.Healthy() {
		issues++
	}
	rs := s.router.Metrics().Snapshot()
	if rs.Routed > 10 && rs.SuccessRate() < 0.5 {
		issues++
	}
	return issues
}

func (s *MultiChannelSystem) enabledChannels() []channels.Channel {
	var out []channels.Channel
	if s.tick != nil {
		out = append(out, s.tick)
	}
	if s.ohlcv != nil {
		out = append(out, s.ohlcv)
	}
	if s.fmv != nil {
		out = append(out, s.fmv)
	}
	return out
}

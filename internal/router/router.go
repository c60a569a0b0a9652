package router

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/channels"
	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/identifier"
	"github.com/quantstream/tickcore/internal/metrics"
	"github.com/quantstream/tickcore/internal/models"
)

// errDispatchFailed signals a failed dispatch through the router breaker
var errDispatchFailed = errors.New("dispatch failed")

// EventSink forwards produced events to the downstream event processor
type EventSink interface {
	Publish(events []models.Event) error
}

// RoutingRule maps a data type to a channel type. Rules are evaluated in
// priority order (lower is higher) and the first predicate match wins.
type RoutingRule struct {
	DataType    identifier.DataType
	ChannelType channels.Type
	Priority    int
	Predicate   func(item interface{}) bool
}

// ChannelRouter classifies incoming data, selects a channel instance,
// dispatches under a deadline and forwards produced events downstream. It
// never propagates errors past its boundary.
type ChannelRouter struct {
	logger *zap.Logger
	cfg    config.RouterConfig

	identifier *identifier.DataIdentifier
	balancer   *LoadBalancer
	sink       EventSink

	mu             sync.RWMutex
	channelsByType map[channels.Type][]channels.Channel
	ordered        []channels.Channel
	rules          []RoutingRule

	breaker *gobreaker.CircuitBreaker
	metrics *metrics.RouterMetrics
}

// NewChannelRouter creates a router with the default routing rules
func NewChannelRouter(cfg config.RouterConfig, ident *identifier.DataIdentifier, sink EventSink, logger *zap.Logger) *ChannelRouter {
	r := &ChannelRouter{
		logger:         logger.With(zap.String("component", "router")),
		cfg:            cfg,
		identifier:     ident,
		balancer:       NewLoadBalancer(Strategy(cfg.RoutingStrategy)),
		sink:           sink,
		channelsByType: make(map[channels.Type][]channels.Channel),
		metrics:        metrics.NewRouterMetrics(),
		rules: []RoutingRule{
			{DataType: identifier.DataTypeTick, ChannelType: channels.TypeTick, Priority: 100},
			{DataType: identifier.DataTypeOHLCV, ChannelType: channels.TypeOHLCV, Priority: 100},
			{DataType: identifier.DataTypeFMV, ChannelType: channels.TypeFMV, Priority: 100},
		},
	}

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "router",
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.CircuitBreakerTimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("Router circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return r
}

// RegisterChannel adds a channel instance to the routing set
func (r *ChannelRouter) RegisterChannel(c channels.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelsByType[c.Type()] = append(r.channelsByType[c.Type()], c)
	r.ordered = append(r.ordered, c)
	r.logger.Info("Channel registered",
		zap.String("name", c.Name()),
		zap.String("type", string(c.Type())))
}

// AddRule installs a custom routing rule. Custom rules are checked before
// the defaults when their priority is lower.
func (r *ChannelRouter) AddRule(rule RoutingRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	sort.SliceStable(r.rules, func(i, j int) bool {
		return r.rules[i].Priority < r.rules[j].Priority
	})
}

// Channels returns all registered channels in insertion order
func (r *ChannelRouter) Channels() []channels.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]channels.Channel, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Metrics returns the live router metrics
func (r *ChannelRouter) Metrics() *metrics.RouterMetrics { return r.metrics }

// Route classifies and dispatches one item. It returns nil for
// unclassifiable items and a ProcessingResult otherwise; errors never
// propagate to the caller.
func (r *ChannelRouter) Route(item interface{}) *models.ProcessingResult {
	start := time.Now()

	dataType := r.identifier.Identify(item)
	if dataType == identifier.DataTypeUnknown {
		r.metrics.RecordRoutingError()
		r.logger.Debug("Dropping unclassifiable item")
		return nil
	}

	channelType, ok := r.resolveChannelType(dataType, item)
	if !ok {
		r.metrics.RecordRoutingError()
		return nil
	}

	target, fallback := r.pickChannel(channelType)
	if target == nil {
		r.metrics.RecordRoute(string(dataType), false, elapsedMs(start))
		return models.NewFailureResult(models.ErrNoAvailableChannel.Error()).
			WithMeta("error_type", "no_available_channel").
			WithMeta("channel_type", string(channelType))
	}
	if fallback {
		r.metrics.RecordFallback()
	}

	value, err := r.breaker.Execute(func() (interface{}, error) {
		result := r.dispatch(target, item)

		// one retry against a peer when the channel itself refused the work
		if !result.Success && r.refusedByChannel(result) {
			if peer := r.peerOf(target, channelType); peer != nil {
				r.metrics.RecordRetry()
				result = r.dispatch(peer, item)
			}
		}

		if !result.Success {
			return result, errDispatchFailed
		}
		return result, nil
	})

	var result *models.ProcessingResult
	switch {
	case err == nil:
		result = value.(*models.ProcessingResult)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		result = models.NewFailureResult(models.ErrRouterUnavailable.Error()).
			WithMeta("error_type", "router_unavailable")
	default:
		if res, ok := value.(*models.ProcessingResult); ok && res != nil {
			result = res
		} else {
			result = models.NewFailureResult(err.Error())
		}
	}

	if result.Success && len(result.Events) > 0 && r.sink != nil {
		if err := r.sink.Publish(result.Events); err != nil {
			r.logger.Error("Failed to forward events", zap.Error(err))
		}
	}

	r.metrics.RecordRoute(string(dataType), result.Success, elapsedMs(start))
	return result
}

// dispatch invokes a channel under the routing deadline. The deadline does
// not abort the channel invocation; a late completion still updates channel
// metrics while the router reports a timeout.
func (r *ChannelRouter) dispatch(target channels.Channel, item interface{}) *models.ProcessingResult {
	if !target.Immediate() {
		if target.Submit(item) {
			return models.NewSuccessResult().
				WithMeta("queued", true).
				WithMeta("channel", target.Name())
		}
		return models.NewFailureResult(models.ErrQueueFull.Error()).
			WithMeta("error_type", "queue_full").
			WithMeta("channel", target.Name())
	}

	timeout := time.Duration(r.cfg.RoutingTimeoutMs) * time.Millisecond
	resultCh := make(chan *models.ProcessingResult, 1)
	go func() {
		resultCh <- target.ProcessWithMetrics(item)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-time.After(timeout):
		r.metrics.RecordTimeout()
		return models.NewFailureResult(models.ErrTimeout.Error()).
			WithMeta("error_type", "timeout").
			WithMeta("channel", target.Name()).
			WithMeta("timeout_ms", r.cfg.RoutingTimeoutMs)
	}
}

func (r *ChannelRouter) resolveChannelType(dataType identifier.DataType, item interface{}) (channels.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.DataType != dataType {
			continue
		}
		if rule.Predicate != nil && !rule.Predicate(item) {
			continue
		}
		return rule.ChannelType, true
	}
	return "", false
}

// pickChannel selects an instance, falling back to any registered instance
// of the type when the balancer yields an unhealthy one and fallback routing
// is enabled.
func (r *ChannelRouter) pickChannel(channelType channels.Type) (channels.Channel, bool) {
	r.mu.RLock()
	candidates := r.channelsByType[channelType]
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, false
	}

	selected := r.balancer.Select(candidates)
	if selected == nil {
		if r.cfg.EnableFallbackRouting {
			return candidates[0], true
		}
		return nil, false
	}
	if !selected.IsHealthy() {
		if r.cfg.EnableFallbackRouting {
			return selected, true
		}
		return nil, false
	}
	return selected, false
}

func (r *ChannelRouter) peerOf(target channels.Channel, channelType channels.Type) channels.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.channelsByType[channelType] {
		if c.ID() != target.ID() && c.IsHealthy() {
			return c
		}
	}
	return nil
}

// refusedByChannel reports whether a failure was a health refusal rather
// than a processing error
func (r *ChannelRouter) refusedByChannel(result *models.ProcessingResult) bool {
	if result.Metadata == nil {
		return false
	}
	if v, ok := result.Metadata["circuit_breaker"].(bool); ok && v {
		return true
	}
	if v, ok := result.Metadata["error_type"].(string); ok && v == "queue_full" {
		return true
	}
	return false
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

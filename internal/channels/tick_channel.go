package channels

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/detectors"
	"github.com/quantstream/tickcore/internal/models"
)

// Tick state is dropped after an hour idle; the janitor sweeps every five
// minutes.
const (
	tickStateTTL   = time.Hour
	tickStateSweep = 5 * time.Minute
)

// TickChannel processes per-trade ticks immediately, maintaining per-symbol
// session state and running the real-time detectors.
type TickChannel struct {
	*BaseChannel

	states  *gocache.Cache
	highLow *detectors.HighLowDetector
	trend   *detectors.TrendDetector
	surge   *detectors.SurgeDetector
}

// NewTickChannel creates a tick channel with the given configuration
func NewTickChannel(name string, cfg config.ChannelConfig, logger *zap.Logger) *TickChannel {
	tc := &TickChannel{
		states:  gocache.New(tickStateTTL, tickStateSweep),
		highLow: detectors.NewHighLowDetector(cfg.Detection.HighLow),
		trend:   detectors.NewTrendDetector(cfg.Detection.Trend),
		surge:   detectors.NewSurgeDetector(cfg.Detection.Surge),
	}
	tc.BaseChannel = newBaseChannel(name, TypeTick, cfg, tc, logger)
	return tc
}

// SymbolState returns a copy of the scalar state for a symbol, for
// inspection by tests and monitors.
func (c *TickChannel) SymbolState(ticker string) (detectors.SymbolTickState, bool) {
	v, ok := c.states.Get(ticker)
	if !ok {
		return detectors.SymbolTickState{}, false
	}
	state := v.(*detectors.SymbolTickState)
	return detectors.SymbolTickState{
		Ticker:      state.Ticker,
		LastPrice:   state.LastPrice,
		LastUpdate:  state.LastUpdate,
		SessionHigh: state.SessionHigh,
		SessionLow:  state.SessionLow,
		DayHigh:     state.DayHigh,
		DayLow:      state.DayLow,
	}, true
}

// TrackedSymbols returns the number of symbols with live state
func (c *TickChannel) TrackedSymbols() int { return c.states.ItemCount() }

func (c *TickChannel) validate(item interface{}) bool {
	switch item.(type) {
	case models.TickRecord, *models.TickRecord, map[string]interface{}:
		return true
	default:
		return false
	}
}

func (c *TickChannel) process(item interface{}) *models.ProcessingResult {
	tick, err := coerceTick(item)
	if err != nil {
		return models.NewFailureResult(err.Error()).WithMeta("error_type", "invalid_data")
	}

	state := c.symbolState(tick.Ticker, tick.Timestamp)
	state.Observe(tick)

	var events []models.Event
	events = append(events, c.highLow.Detect(state, tick)...)
	events = append(events, c.trend.Detect(state, tick)...)
	events = append(events, c.surge.Detect(state, tick)...)

	// refresh idle expiry
	c.states.Set(tick.Ticker, state, gocache.DefaultExpiration)

	result := models.NewSuccessResult(events...)
	result.WithMeta("ticker", tick.Ticker)
	result.WithMeta("price", tick.Price)
	result.WithMeta("events_generated", len(events))
	result.WithMeta("detectors_run", []string{"high_low", "trend", "surge"})
	return result
}

func (c *TickChannel) shutdown() {
	c.states.Flush()
}

func (c *TickChannel) symbolState(ticker string, ts float64) *detectors.SymbolTickState {
	if v, ok := c.states.Get(ticker); ok {
		return v.(*detectors.SymbolTickState)
	}
	state := detectors.NewSymbolTickState(ticker, ts)
	c.states.Set(ticker, state, gocache.DefaultExpiration)
	return state
}

func coerceTick(item interface{}) (models.TickRecord, error) {
	switch v := item.(type) {
	case models.TickRecord:
		return models.NewTickRecord(v)
	case *models.TickRecord:
		return models.NewTickRecord(*v)
	case map[string]interface{}:
		return models.TickFromMap(v)
	default:
		return models.TickRecord{}, fmt.Errorf("%w: unsupported tick shape %T", models.ErrInvalidData, item)
	}
}

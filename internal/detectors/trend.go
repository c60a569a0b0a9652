package detectors

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// TrendDetector emits Trend events when the mean directional return over the
// rolling window clears the configured thresholds. Re-emission in the same
// direction is suppressed until the price retraces a configured fraction of
// the prior trend magnitude.
type TrendDetector struct {
	cfg config.TrendConfig
}

// NewTrendDetector creates a detector with the given parameters
func NewTrendDetector(cfg config.TrendConfig) *TrendDetector {
	return &TrendDetector{cfg: cfg}
}

// Detect evaluates a tick against the symbol state
func (d *TrendDetector) Detect(state *SymbolTickState, tick models.TickRecord) []models.Event {
	if len(state.Prices) < d.cfg.WindowSize+1 {
		return nil
	}
	if tick.Timestamp-state.SessionStart < d.cfg.WarmupSeconds {
		return nil
	}

	returns := d.windowReturns(state)
	if len(returns) < d.cfg.WindowSize {
		return nil
	}

	mean := stat.Mean(returns, nil)
	var strength float64
	for _, r := range returns {
		strength += math.Abs(r)
	}

	if math.Abs(mean) < d.cfg.DirectionThreshold*d.cfg.GlobalSensitivity {
		return nil
	}
	if strength < d.cfg.StrengthThreshold {
		return nil
	}

	direction := models.DirectionUp
	if mean < 0 {
		direction = models.DirectionDown
	}

	if !d.retracementCleared(state, tick, direction) {
		return nil
	}

	state.LastTrendDirection = direction
	state.LastTrendStrength = strength
	state.TrendAnchorPrice = tick.Price
	state.MarkEvent(models.EventTrend, tick.Timestamp)

	ev := models.NewEvent(models.EventTrend, tick.Ticker, tick.Price, tick.Timestamp).
		WithDirection(direction).
		WithField("mean_return", mean).
		WithField("strength", strength).
		WithField("window_size", d.cfg.WindowSize)
	return []models.Event{ev}
}

// windowReturns computes successive returns over the last windowSize+1 prices
func (d *TrendDetector) windowReturns(state *SymbolTickState) []float64 {
	points := state.Prices[len(state.Prices)-d.cfg.WindowSize-1:]
	returns := make([]float64, 0, d.cfg.WindowSize)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Price
		if prev <= 0 {
			continue
		}
		returns = append(returns, (points[i].Price-prev)/prev)
	}
	return returns
}

// retracementCleared reports whether a same-direction trend may re-emit. A
// reversal always clears; a continuation needs a retracement of the prior
// trend magnitude first.
func (d *TrendDetector) retracementCleared(state *SymbolTickState, tick models.TickRecord, direction models.Direction) bool {
	if state.LastTrendDirection == "" || state.LastTrendDirection != direction {
		return true
	}
	if state.TrendAnchorPrice <= 0 {
		return true
	}
	required := d.cfg.RetracementThreshold * state.LastTrendStrength
	moved := math.Abs(tick.Price-state.TrendAnchorPrice) / state.TrendAnchorPrice
	switch direction {
	case models.DirectionUp:
		// needs a pull-back below the anchor before another up trend
		return tick.Price < state.TrendAnchorPrice && moved >= required
	default:
		return tick.Price > state.TrendAnchorPrice && moved >= required
	}
}

package detectors

import (
	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// openingWindowSeconds is the span after session open with raised thresholds
const openingWindowSeconds = 300

// HighLowDetector emits SessionHigh/SessionLow events when a symbol makes a
// significant new session extreme. Thresholds are raised during extended
// hours and in the opening window when market awareness is enabled.
type HighLowDetector struct {
	cfg config.HighLowConfig
}

// NewHighLowDetector creates a detector with the given parameters
func NewHighLowDetector(cfg config.HighLowConfig) *HighLowDetector {
	return &HighLowDetector{cfg: cfg}
}

// Detect evaluates a tick against the symbol state. The first tick for a
// symbol establishes the session baseline and never emits.
//
// A new extreme below the significance thresholds silently advances the
// session extreme; a qualifying move blocked only by cooldown leaves the
// extreme in place so the signal fires once the cooldown expires.
func (d *HighLowDetector) Detect(state *SymbolTickState, tick models.TickRecord) []models.Event {
	if state.SessionHigh == 0 && state.SessionLow == 0 {
		state.SessionHigh = tick.Price
		state.SessionLow = tick.Price
		return nil
	}

	minPrice, minPercent := d.effectiveThresholds(state, tick)
	var events []models.Event

	if tick.Price > state.SessionHigh {
		delta := tick.Price - state.SessionHigh
		pct := delta / state.SessionHigh * 100.0
		if delta >= minPrice && pct >= minPercent {
			if state.CooldownPassed(models.EventSessionHigh, tick.Timestamp, d.cfg.CooldownSeconds) {
				state.SessionHigh = tick.Price
				state.MarkEvent(models.EventSessionHigh, tick.Timestamp)
				ev := models.NewEvent(models.EventSessionHigh, tick.Ticker, tick.Price, tick.Timestamp).
					WithDirection(models.DirectionUp).
					WithField("price_change", delta).
					WithField("percent_change", pct).
					WithField("volume", tick.Volume)
				events = append(events, ev)
			}
		} else {
			state.SessionHigh = tick.Price
		}
	}

	if tick.Price < state.SessionLow {
		delta := state.SessionLow - tick.Price
		pct := delta / state.SessionLow * 100.0
		if delta >= minPrice && pct >= minPercent {
			if state.CooldownPassed(models.EventSessionLow, tick.Timestamp, d.cfg.CooldownSeconds) {
				state.SessionLow = tick.Price
				state.MarkEvent(models.EventSessionLow, tick.Timestamp)
				ev := models.NewEvent(models.EventSessionLow, tick.Ticker, tick.Price, tick.Timestamp).
					WithDirection(models.DirectionDown).
					WithField("price_change", -delta).
					WithField("percent_change", -pct).
					WithField("volume", tick.Volume)
				events = append(events, ev)
			}
		} else {
			state.SessionLow = tick.Price
		}
	}

	return events
}

func (d *HighLowDetector) effectiveThresholds(state *SymbolTickState, tick models.TickRecord) (minPrice, minPercent float64) {
	minPrice = d.cfg.MinPriceChange
	minPercent = d.cfg.MinPercentChange

	if !d.cfg.MarketAware {
		return minPrice, minPercent
	}
	if tick.MarketStatus.Extended() {
		minPrice *= d.cfg.ExtendedHoursMultiplier
		minPercent *= d.cfg.ExtendedHoursMultiplier
	}
	if tick.Timestamp-state.SessionStart < openingWindowSeconds {
		minPrice *= d.cfg.OpeningMultiplier
		minPercent *= d.cfg.OpeningMultiplier
	}
	return minPrice, minPercent
}

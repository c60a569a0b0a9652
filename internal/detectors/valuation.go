package detectors

import (
	"math"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// fmvTrendWindow is the number of trailing deviations scanned for consistency
const fmvTrendWindow = 5

// fmvTrendConsistency is the same-sign share required for a valuation trend
const fmvTrendConsistency = 0.8

// highConfidenceSignal is the minimum signal strength for a high-confidence
// valuation event
const highConfidenceSignal = 0.7

// ValuationAnalyzer inspects fair-value estimates against a symbol's
// valuation history and emits valuation events.
type ValuationAnalyzer struct {
	cfg config.FMVConfig
}

// NewValuationAnalyzer creates an analyzer with the given parameters
func NewValuationAnalyzer(cfg config.FMVConfig) *ValuationAnalyzer {
	return &ValuationAnalyzer{cfg: cfg}
}

// Analyze evaluates the newest estimate, which must already be appended to
// the history.
func (a *ValuationAnalyzer) Analyze(hist *ValuationHistory, r models.FMVRecord) []models.Event {
	var events []models.Event

	if math.Abs(r.DeviationPercent) >= a.cfg.DeviationThreshold {
		ev := models.NewEvent(models.EventFMVDeviation, r.Ticker, r.MarketPrice, r.Timestamp).
			WithField("fmv_price", r.FMV).
			WithField("market_price", r.MarketPrice).
			WithField("deviation_percent", r.DeviationPercent).
			WithField("confidence", r.Confidence).
			WithField("is_undervalued", r.Undervalued()).
			WithField("is_overvalued", !r.Undervalued())
		if r.Undervalued() {
			ev = ev.WithDirection(models.DirectionUp)
		} else {
			ev = ev.WithDirection(models.DirectionDown)
		}
		events = append(events, ev)
	}

	strength := r.Confidence * math.Min(math.Abs(r.DeviationPercent)/10.0, 1.0)
	if strength >= highConfidenceSignal {
		ev := models.NewEvent(models.EventFMVHighConfidence, r.Ticker, r.MarketPrice, r.Timestamp).
			WithField("fmv_price", r.FMV).
			WithField("confidence", r.Confidence).
			WithField("signal_strength", strength).
			WithField("valuation_model", r.ValuationModel)
		events = append(events, ev)
	}

	if ev, ok := a.trendEvent(hist, r); ok {
		events = append(events, ev)
	}

	return events
}

// trendEvent checks the trailing deviations for consistent over/under
// valuation.
func (a *ValuationAnalyzer) trendEvent(hist *ValuationHistory, r models.FMVRecord) (models.Event, bool) {
	devs := hist.RecentDeviations(fmvTrendWindow)
	if len(devs) < fmvTrendWindow {
		return models.Event{}, false
	}

	var positive, negative int
	for _, d := range devs {
		if d > 0 {
			positive++
		} else if d < 0 {
			negative++
		}
	}

	total := float64(len(devs))
	var direction models.Direction
	var undervalued bool
	switch {
	case float64(positive)/total >= fmvTrendConsistency:
		direction, undervalued = models.DirectionUp, true
	case float64(negative)/total >= fmvTrendConsistency:
		direction, undervalued = models.DirectionDown, false
	default:
		return models.Event{}, false
	}

	ev := models.NewEvent(models.EventFMVTrend, r.Ticker, r.MarketPrice, r.Timestamp).
		WithDirection(direction).
		WithField("fmv_price", r.FMV).
		WithField("deviation_percent", r.DeviationPercent).
		WithField("is_undervalued", undervalued).
		WithField("is_overvalued", !undervalued).
		WithField("window_size", len(devs))
	return ev, true
}

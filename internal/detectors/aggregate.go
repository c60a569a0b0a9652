package detectors

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// patternWindow is the number of trailing bars classified into a pattern
const patternWindow = 5

// rollingCloseWindow is the number of trailing closes scanned for extremes
const rollingCloseWindow = 10

// AggregateAnalyzer inspects OHLCV bars against a symbol's bar buffer and
// emits aggregate-level events.
type AggregateAnalyzer struct {
	cfg config.OHLCVConfig
}

// NewAggregateAnalyzer creates an analyzer with the given parameters
func NewAggregateAnalyzer(cfg config.OHLCVConfig) *AggregateAnalyzer {
	return &AggregateAnalyzer{cfg: cfg}
}

// Analyze evaluates the newest bar, which must already be appended to the
// buffer.
func (a *AggregateAnalyzer) Analyze(buf *SymbolBarBuffer, bar models.OHLCVRecord) []models.Event {
	var events []models.Event

	if buf.BaselineVolume > 0 {
		ratio := float64(bar.Volume) / buf.BaselineVolume
		if ratio >= a.cfg.VolumeSurgeMultiplier {
			ev := models.NewEvent(models.EventAggregateVolumeSurge, bar.Ticker, bar.Close, bar.Timestamp).
				WithField("volume", bar.Volume).
				WithField("volume_ratio", ratio).
				WithField("baseline_volume", buf.BaselineVolume)
			events = append(events, ev)
		}
	}

	if math.Abs(bar.PercentChange) >= a.cfg.SignificantMoveThreshold {
		direction := models.DirectionUp
		if bar.PercentChange < 0 {
			direction = models.DirectionDown
		}
		ev := models.NewEvent(models.EventAggregateMove, bar.Ticker, bar.Close, bar.Timestamp).
			WithDirection(direction).
			WithField("percent_change", bar.PercentChange).
			WithField("volume", bar.Volume)
		events = append(events, ev)
	}

	if closes := buf.RecentCloses(rollingCloseWindow); len(closes) >= 2 {
		maxClose, minClose := closes[0], closes[0]
		for _, c := range closes[1:] {
			if c > maxClose {
				maxClose = c
			}
			if c < minClose {
				minClose = c
			}
		}
		if bar.Close == maxClose && maxClose != minClose {
			ev := models.NewEvent(models.EventAggregateHighClose, bar.Ticker, bar.Close, bar.Timestamp).
				WithDirection(models.DirectionUp).
				WithField("window_size", len(closes))
			events = append(events, ev)
		}
		if bar.Close == minClose && maxClose != minClose {
			ev := models.NewEvent(models.EventAggregateLowClose, bar.Ticker, bar.Close, bar.Timestamp).
				WithDirection(models.DirectionDown).
				WithField("window_size", len(closes))
			events = append(events, ev)
		}
	}

	return events
}

// ClassifyPattern labels the trailing bars as one of strong_uptrend,
// strong_downtrend, weak_uptrend, weak_downtrend or sideways.
func (a *AggregateAnalyzer) ClassifyPattern(buf *SymbolBarBuffer) string {
	changes := buf.RecentPercentChanges(patternWindow)
	if len(changes) == 0 {
		return "sideways"
	}
	mean := stat.Mean(changes, nil)
	switch {
	case mean >= 1.0:
		return "strong_uptrend"
	case mean >= 0.1:
		return "weak_uptrend"
	case mean <= -1.0:
		return "strong_downtrend"
	case mean <= -0.1:
		return "weak_downtrend"
	default:
		return "sideways"
	}
}

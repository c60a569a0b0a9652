package detectors

import (
	"math"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// SurgeDetector emits Surge events when volume and price move together over
// the detection interval. Thresholds scale with the global sensitivity.
type SurgeDetector struct {
	cfg config.SurgeConfig
}

// NewSurgeDetector creates a detector with the given parameters
func NewSurgeDetector(cfg config.SurgeConfig) *SurgeDetector {
	return &SurgeDetector{cfg: cfg}
}

// Detect evaluates a tick against the symbol state
func (d *SurgeDetector) Detect(state *SymbolTickState, tick models.TickRecord) []models.Event {
	if len(state.Volumes) < d.cfg.MinDataPoints {
		return nil
	}

	windowStart := tick.Timestamp - d.cfg.IntervalSeconds

	// Average volume inside the interval, excluding the newest sample
	var volSum float64
	var volCount int
	for i := 0; i < len(state.Volumes)-1; i++ {
		v := state.Volumes[i]
		if v.Time >= windowStart {
			volSum += float64(v.Volume)
			volCount++
		}
	}
	if volCount == 0 {
		return nil
	}
	avgVolume := volSum / float64(volCount)
	if avgVolume <= 0 {
		return nil
	}

	// Price at the start of the interval window
	startPrice := 0.0
	for _, p := range state.Prices {
		if p.Time >= windowStart {
			startPrice = p.Price
			break
		}
	}
	if startPrice <= 0 {
		return nil
	}

	volumeRatio := float64(tick.Volume) / avgVolume
	priceMovePct := math.Abs(tick.Price-startPrice) / startPrice * 100.0

	volThreshold := d.cfg.VolumeThreshold * d.cfg.GlobalSensitivity
	priceThreshold := d.cfg.PriceThresholdPercent * d.cfg.GlobalSensitivity

	if volumeRatio < volThreshold || priceMovePct < priceThreshold {
		return nil
	}

	direction := models.DirectionUp
	if tick.Price < startPrice {
		direction = models.DirectionDown
	}
	state.MarkEvent(models.EventSurge, tick.Timestamp)

	ev := models.NewEvent(models.EventSurge, tick.Ticker, tick.Price, tick.Timestamp).
		WithDirection(direction).
		WithField("volume", tick.Volume).
		WithField("volume_ratio", volumeRatio).
		WithField("price_move_percent", priceMovePct).
		WithField("interval_seconds", d.cfg.IntervalSeconds)
	return []models.Event{ev}
}

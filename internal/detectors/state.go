package detectors

import (
	"github.com/quantstream/tickcore/internal/models"
)

// historyCap bounds the per-symbol price and volume rings
const historyCap = 100

// barBufferCap bounds the per-symbol OHLCV ring
const barBufferCap = 100

// valuationCap bounds the per-symbol FMV ring
const valuationCap = 50

// baselinePeriods is the number of bars used for rolling baselines
const baselinePeriods = 10

// SymbolTickState is the per-symbol state maintained by the tick channel.
// It is mutated only by the owning channel goroutine.
type SymbolTickState struct {
	Ticker     string
	LastPrice  float64
	LastUpdate float64

	SessionHigh  float64
	SessionLow   float64
	SessionStart float64

	DayHigh float64
	DayLow  float64

	Prices     []pricePoint
	Volumes    []volumePoint
	LastEvents map[models.EventKind]float64

	// Trend suppression state
	LastTrendDirection models.Direction
	LastTrendStrength  float64
	TrendAnchorPrice   float64
}

type pricePoint struct {
	Price float64
	Time  float64
}

type volumePoint struct {
	Volume int64
	Time   float64
}

// NewSymbolTickState creates state for a symbol first seen at ts
func NewSymbolTickState(ticker string, ts float64) *SymbolTickState {
	return &SymbolTickState{
		Ticker:       ticker,
		SessionStart: ts,
		Prices:       make([]pricePoint, 0, historyCap),
		Volumes:      make([]volumePoint, 0, historyCap),
		LastEvents:   make(map[models.EventKind]float64),
	}
}

// Observe appends a tick to the state rings and updates scalar context
func (s *SymbolTickState) Observe(t models.TickRecord) {
	s.LastPrice = t.Price
	if t.Timestamp > s.LastUpdate {
		s.LastUpdate = t.Timestamp
	}
	if t.DayHigh > s.DayHigh {
		s.DayHigh = t.DayHigh
	}
	if s.DayLow == 0 || (t.DayLow > 0 && t.DayLow < s.DayLow) {
		s.DayLow = t.DayLow
	}

	if len(s.Prices) == historyCap {
		s.Prices = s.Prices[1:]
	}
	s.Prices = append(s.Prices, pricePoint{Price: t.Price, Time: t.Timestamp})

	if len(s.Volumes) == historyCap {
		s.Volumes = s.Volumes[1:]
	}
	s.Volumes = append(s.Volumes, volumePoint{Volume: t.Volume, Time: t.Timestamp})
}

// MarkEvent records the emission time of an event kind for cooldowns
func (s *SymbolTickState) MarkEvent(kind models.EventKind, ts float64) {
	s.LastEvents[kind] = ts
}

// CooldownPassed reports whether the last event of this kind is at least
// cooldown seconds old
func (s *SymbolTickState) CooldownPassed(kind models.EventKind, ts, cooldown float64) bool {
	last, ok := s.LastEvents[kind]
	if !ok {
		return true
	}
	return ts-last >= cooldown
}

// SymbolBarBuffer is the per-symbol ring of recent OHLCV bars maintained by
// the aggregate channel, with rolling baselines over the last ten bars.
type SymbolBarBuffer struct {
	Ticker     string
	Bars       []models.OHLCVRecord
	LastUpdate float64

	// Rolling baselines, recomputed once ten samples accumulate
	BaselineVolume float64
	BaselinePrice  float64
}

// NewSymbolBarBuffer creates an empty bar buffer for a symbol
func NewSymbolBarBuffer(ticker string) *SymbolBarBuffer {
	return &SymbolBarBuffer{
		Ticker: ticker,
		Bars:   make([]models.OHLCVRecord, 0, barBufferCap),
	}
}

// Append adds a bar and recomputes baselines when enough samples exist.
// With more than ten bars, baselines cover the ten bars preceding the newest
// so the newest bar is compared against history, not itself; at exactly ten
// bars they average all ten, the newest included.
func (b *SymbolBarBuffer) Append(r models.OHLCVRecord) {
	if len(b.Bars) == barBufferCap {
		b.Bars = b.Bars[1:]
	}
	b.Bars = append(b.Bars, r)
	if r.Timestamp > b.LastUpdate {
		b.LastUpdate = r.Timestamp
	}

	if len(b.Bars) > baselinePeriods {
		prior := b.Bars[len(b.Bars)-1-baselinePeriods : len(b.Bars)-1]
		var volSum, priceSum float64
		for _, bar := range prior {
			volSum += float64(bar.Volume)
			priceSum += bar.Close
		}
		b.BaselineVolume = volSum / float64(baselinePeriods)
		b.BaselinePrice = priceSum / float64(baselinePeriods)
	} else if len(b.Bars) == baselinePeriods {
		var volSum, priceSum float64
		for _, bar := range b.Bars {
			volSum += float64(bar.Volume)
			priceSum += bar.Close
		}
		b.BaselineVolume = volSum / float64(baselinePeriods)
		b.BaselinePrice = priceSum / float64(baselinePeriods)
	}
}

// RecentCloses returns the closes of up to the last n bars, oldest first
func (b *SymbolBarBuffer) RecentCloses(n int) []float64 {
	start := len(b.Bars) - n
	if start < 0 {
		start = 0
	}
	closes := make([]float64, 0, len(b.Bars)-start)
	for _, bar := range b.Bars[start:] {
		closes = append(closes, bar.Close)
	}
	return closes
}

// RecentPercentChanges returns the percent changes of up to the last n bars,
// oldest first
func (b *SymbolBarBuffer) RecentPercentChanges(n int) []float64 {
	start := len(b.Bars) - n
	if start < 0 {
		start = 0
	}
	changes := make([]float64, 0, len(b.Bars)-start)
	for _, bar := range b.Bars[start:] {
		changes = append(changes, bar.PercentChange)
	}
	return changes
}

// ValuationHistory is the per-symbol ring of recent fair-value estimates
// maintained by the valuation channel.
type ValuationHistory struct {
	Ticker      string
	Values      []float64
	Confidences []float64
	Deviations  []float64
	LastUpdate  float64
}

// NewValuationHistory creates an empty valuation history for a symbol
func NewValuationHistory(ticker string) *ValuationHistory {
	return &ValuationHistory{
		Ticker:      ticker,
		Values:      make([]float64, 0, valuationCap),
		Confidences: make([]float64, 0, valuationCap),
		Deviations:  make([]float64, 0, valuationCap),
	}
}

// Append adds an estimate to the bounded rings
func (v *ValuationHistory) Append(r models.FMVRecord) {
	if len(v.Values) == valuationCap {
		v.Values = v.Values[1:]
		v.Confidences = v.Confidences[1:]
		v.Deviations = v.Deviations[1:]
	}
	v.Values = append(v.Values, r.FMV)
	v.Confidences = append(v.Confidences, r.Confidence)
	v.Deviations = append(v.Deviations, r.DeviationPercent)
	if r.Timestamp > v.LastUpdate {
		v.LastUpdate = r.Timestamp
	}
}

// RecentDeviations returns up to the last n deviation samples, oldest first
func (v *ValuationHistory) RecentDeviations(n int) []float64 {
	start := len(v.Deviations) - n
	if start < 0 {
		start = 0
	}
	return v.Deviations[start:]
}

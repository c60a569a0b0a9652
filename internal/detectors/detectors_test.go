package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

func tick(ticker string, price float64, volume int64, ts float64) models.TickRecord {
	return models.TickRecord{
		Ticker:       ticker,
		Price:        price,
		Volume:       volume,
		Timestamp:    ts,
		MarketStatus: models.MarketStatusRegular,
	}
}

func defaultDetection() config.DetectionConfig {
	return config.DefaultTickChannelConfig().Detection
}

func TestHighLow_BaselineNeverEmits(t *testing.T) {
	d := NewHighLowDetector(defaultDetection().HighLow)
	state := NewSymbolTickState("AAPL", 0)

	first := tick("AAPL", 150.00, 1000, 0)
	state.Observe(first)
	events := d.Detect(state, first)
	assert.Empty(t, events)
	assert.Equal(t, 150.00, state.SessionHigh)
	assert.Equal(t, 150.00, state.SessionLow)
}

func TestHighLow_SessionHighEmission(t *testing.T) {
	// AAPL at [150.00, 150.20, 150.60]; opening-window multipliers apply, so
	// the small move at t=1 only advances the high-water mark and the move
	// at t=2 emits.
	d := NewHighLowDetector(defaultDetection().HighLow)
	state := NewSymbolTickState("AAPL", 0)

	prices := []float64{150.00, 150.20, 150.60}
	var all []models.Event
	for i, p := range prices {
		tk := tick("AAPL", p, 1000, float64(i))
		state.Observe(tk)
		all = append(all, d.Detect(state, tk)...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, models.EventSessionHigh, all[0].Kind)
	assert.Equal(t, 150.60, all[0].Price)
	assert.Equal(t, 2.0, all[0].Time)
	assert.InDelta(t, 0.40, all[0].Fields["price_change"].(float64), 1e-9)
	assert.Equal(t, 150.60, state.SessionHigh)
}

func TestHighLow_Cooldown(t *testing.T) {
	cfg := defaultDetection().HighLow
	cfg.CooldownSeconds = 5
	d := NewHighLowDetector(cfg)
	state := NewSymbolTickState("AAPL", 0)

	submit := func(price, ts float64) []models.Event {
		tk := tick("AAPL", price, 1000, ts)
		state.Observe(tk)
		return d.Detect(state, tk)
	}

	assert.Empty(t, submit(150.00, 0))

	events := submit(150.50, 1)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionHigh, events[0].Kind)
	assert.Equal(t, 150.50, events[0].Price)

	// blocked by cooldown; the qualifying move is held, not consumed
	assert.Empty(t, submit(151.00, 3))

	events = submit(151.00, 6)
	require.Len(t, events, 1)
	assert.Equal(t, 151.00, events[0].Price)
}

func TestHighLow_SessionLow(t *testing.T) {
	d := NewHighLowDetector(defaultDetection().HighLow)
	state := NewSymbolTickState("AAPL", 0)

	submit := func(price, ts float64) []models.Event {
		tk := tick("AAPL", price, 1000, ts)
		state.Observe(tk)
		return d.Detect(state, tk)
	}

	assert.Empty(t, submit(150.00, 0))
	events := submit(149.00, 2)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionLow, events[0].Kind)
	assert.Equal(t, models.DirectionDown, events[0].Direction)
	assert.Equal(t, 149.00, state.SessionLow)
}

func TestHighLow_ExtendedHoursMultiplier(t *testing.T) {
	cfg := defaultDetection().HighLow
	d := NewHighLowDetector(cfg)
	// session started long ago so the opening multiplier does not apply
	state := NewSymbolTickState("AAPL", 0)
	state.SessionHigh = 100.00
	state.SessionLow = 100.00

	premarket := models.TickRecord{
		Ticker: "AAPL", Price: 100.15, Volume: 100, Timestamp: 1000,
		MarketStatus: models.MarketStatusPremarket,
	}
	state.Observe(premarket)
	// 0.15% beats the base 0.1% threshold but not the 2x extended threshold
	assert.Empty(t, d.Detect(state, premarket))

	regular := models.TickRecord{
		Ticker: "AAPL", Price: 100.35, Volume: 100, Timestamp: 1001,
		MarketStatus: models.MarketStatusRegular,
	}
	state.Observe(regular)
	events := d.Detect(state, regular)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionHigh, events[0].Kind)
}

func TestTrend_EmitsAfterWarmupAndWindow(t *testing.T) {
	cfg := defaultDetection().Trend
	d := NewTrendDetector(cfg)
	state := NewSymbolTickState("NVDA", 0)

	// nine prices rising ~4.2% each, spaced 15s apart: warmup and window
	// both satisfied on the final tick
	price := 100.0
	var last models.TickRecord
	for i := 0; i < 9; i++ {
		last = tick("NVDA", price, 1000, float64(i)*15)
		state.Observe(last)
		price *= 1.042
	}

	events := d.Detect(state, last)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTrend, events[0].Kind)
	assert.Equal(t, models.DirectionUp, events[0].Direction)

	// same-direction re-emission is suppressed until a retracement
	assert.Empty(t, d.Detect(state, last))
}

func TestTrend_WarmupBlocks(t *testing.T) {
	cfg := defaultDetection().Trend
	d := NewTrendDetector(cfg)
	state := NewSymbolTickState("NVDA", 0)

	price := 100.0
	var last models.TickRecord
	for i := 0; i < 9; i++ {
		// only 80 seconds of history; warmup is 90
		last = tick("NVDA", price, 1000, float64(i)*10)
		state.Observe(last)
		price *= 1.05
	}
	assert.Empty(t, d.Detect(state, last))
}

func TestSurge_VolumeAndPriceTogether(t *testing.T) {
	cfg := defaultDetection().Surge
	d := NewSurgeDetector(cfg)
	state := NewSymbolTickState("TSLA", 0)

	// eight steady ticks inside the interval, then a volume spike with a 2%
	// price move
	for i := 0; i < 8; i++ {
		state.Observe(tick("TSLA", 100.0, 1000, float64(i)))
	}
	spike := tick("TSLA", 102.0, 5000, 8)
	state.Observe(spike)

	events := d.Detect(state, spike)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSurge, events[0].Kind)
	assert.InDelta(t, 5.0, events[0].Fields["volume_ratio"].(float64), 1e-9)
}

func TestSurge_RequiresBothConditions(t *testing.T) {
	cfg := defaultDetection().Surge
	d := NewSurgeDetector(cfg)
	state := NewSymbolTickState("TSLA", 0)

	for i := 0; i < 8; i++ {
		state.Observe(tick("TSLA", 100.0, 1000, float64(i)))
	}

	// volume spike without price movement
	flat := tick("TSLA", 100.1, 5000, 8)
	state.Observe(flat)
	assert.Empty(t, d.Detect(state, flat))
}

func TestAggregate_VolumeSurge(t *testing.T) {
	a := NewAggregateAnalyzer(config.DefaultOHLCVChannelConfig().Detection.OHLCV)
	buf := NewSymbolBarBuffer("NVDA")

	// ten prior bars at 1,000,000 shares each
	for i := 0; i < 10; i++ {
		buf.Append(bar("NVDA", float64(i)*60, 500, 1000000, 0.1))
	}
	surge := bar("NVDA", 600, 500, 3500000, 0.5)
	buf.Append(surge)

	events := a.Analyze(buf, surge)

	var surgeEvents, moveEvents []models.Event
	for _, ev := range events {
		switch ev.Kind {
		case models.EventAggregateVolumeSurge:
			surgeEvents = append(surgeEvents, ev)
		case models.EventAggregateMove:
			moveEvents = append(moveEvents, ev)
		}
	}
	require.Len(t, surgeEvents, 1)
	assert.InDelta(t, 3.5, surgeEvents[0].Fields["volume_ratio"].(float64), 1e-9)
	// 0.5% is below the 2% significant move threshold
	assert.Empty(t, moveEvents)
}

func TestAggregate_SignificantMove(t *testing.T) {
	a := NewAggregateAnalyzer(config.DefaultOHLCVChannelConfig().Detection.OHLCV)
	buf := NewSymbolBarBuffer("AMD")

	b := bar("AMD", 60, 100, 1000, 2.5)
	buf.Append(b)
	events := a.Analyze(buf, b)

	require.Len(t, events, 1)
	assert.Equal(t, models.EventAggregateMove, events[0].Kind)
	assert.Equal(t, models.DirectionUp, events[0].Direction)
}

func TestAggregate_RollingHighLowClose(t *testing.T) {
	a := NewAggregateAnalyzer(config.DefaultOHLCVChannelConfig().Detection.OHLCV)
	buf := NewSymbolBarBuffer("AMD")

	closes := []float64{100, 101, 102, 103}
	var events []models.Event
	for i, c := range closes {
		b := barWithClose("AMD", float64(i)*60, c)
		buf.Append(b)
		events = a.Analyze(buf, b)
	}

	var kinds []models.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, models.EventAggregateHighClose)
	assert.NotContains(t, kinds, models.EventAggregateLowClose)
}

func TestAggregate_PatternClassification(t *testing.T) {
	a := NewAggregateAnalyzer(config.DefaultOHLCVChannelConfig().Detection.OHLCV)

	buf := NewSymbolBarBuffer("AMD")
	for i := 0; i < 5; i++ {
		buf.Append(bar("AMD", float64(i)*60, 100, 1000, 1.5))
	}
	assert.Equal(t, "strong_uptrend", a.ClassifyPattern(buf))

	buf = NewSymbolBarBuffer("AMD")
	for i := 0; i < 5; i++ {
		buf.Append(bar("AMD", float64(i)*60, 100, 1000, -0.3))
	}
	assert.Equal(t, "weak_downtrend", a.ClassifyPattern(buf))

	buf = NewSymbolBarBuffer("AMD")
	for i := 0; i < 5; i++ {
		buf.Append(bar("AMD", float64(i)*60, 100, 1000, 0.01))
	}
	assert.Equal(t, "sideways", a.ClassifyPattern(buf))
}

func TestValuation_DeviationAndConfidence(t *testing.T) {
	a := NewValuationAnalyzer(config.DefaultFMVChannelConfig().Detection.FMV)
	hist := NewValuationHistory("NVDA")

	record := fmv("NVDA", 160.0, 150.0, 0.9, 0)
	hist.Append(record)
	events := a.Analyze(hist, record)

	var deviation *models.Event
	for i := range events {
		if events[i].Kind == models.EventFMVDeviation {
			deviation = &events[i]
		}
	}
	require.NotNil(t, deviation)
	assert.InDelta(t, 6.67, deviation.Fields["deviation_percent"].(float64), 0.01)
	assert.Equal(t, true, deviation.Fields["is_undervalued"])

	// signal strength 0.9 * min(6.67/10, 1) = 0.6 stays below 0.7
	for _, ev := range events {
		assert.NotEqual(t, models.EventFMVHighConfidence, ev.Kind)
	}
}

func TestValuation_HighConfidenceSignal(t *testing.T) {
	a := NewValuationAnalyzer(config.DefaultFMVChannelConfig().Detection.FMV)
	hist := NewValuationHistory("NVDA")

	// deviation 12% caps the scale factor at 1.0; strength = confidence
	record := fmv("NVDA", 168.0, 150.0, 0.95, 0)
	hist.Append(record)
	events := a.Analyze(hist, record)

	var found bool
	for _, ev := range events {
		if ev.Kind == models.EventFMVHighConfidence {
			found = true
			assert.InDelta(t, 0.95, ev.Fields["signal_strength"].(float64), 1e-9)
		}
	}
	assert.True(t, found)
}

func TestValuation_TrendConsistency(t *testing.T) {
	a := NewValuationAnalyzer(config.DefaultFMVChannelConfig().Detection.FMV)
	hist := NewValuationHistory("NVDA")

	var events []models.Event
	for i := 0; i < 5; i++ {
		record := fmv("NVDA", 155.0, 150.0, 0.9, float64(i))
		hist.Append(record)
		events = a.Analyze(hist, record)
	}

	var found bool
	for _, ev := range events {
		if ev.Kind == models.EventFMVTrend {
			found = true
			assert.Equal(t, models.DirectionUp, ev.Direction)
			assert.Equal(t, true, ev.Fields["is_undervalued"])
		}
	}
	assert.True(t, found)
}

func TestSymbolBarBuffer_Bounded(t *testing.T) {
	buf := NewSymbolBarBuffer("AMD")
	for i := 0; i < 150; i++ {
		buf.Append(bar("AMD", float64(i)*60, 100, 1000, 0))
	}
	assert.Len(t, buf.Bars, 100)
}

func TestValuationHistory_Bounded(t *testing.T) {
	hist := NewValuationHistory("NVDA")
	for i := 0; i < 80; i++ {
		hist.Append(fmv("NVDA", 155.0, 150.0, 0.9, float64(i)))
	}
	assert.Len(t, hist.Values, 50)
	assert.Len(t, hist.Deviations, 50)
}

func bar(ticker string, ts, price float64, volume int64, percentChange float64) models.OHLCVRecord {
	return models.OHLCVRecord{
		Ticker:        ticker,
		Timestamp:     ts,
		Open:          price,
		High:          price * 1.01,
		Low:           price * 0.99,
		Close:         price,
		Volume:        volume,
		AvgVolume:     float64(volume),
		PercentChange: percentChange,
	}
}

func barWithClose(ticker string, ts, close float64) models.OHLCVRecord {
	return models.OHLCVRecord{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      close * 0.999,
		High:      close * 1.002,
		Low:       close * 0.998,
		Close:     close,
		Volume:    1000,
		AvgVolume: 1000,
	}
}

func fmv(ticker string, value, market, confidence, ts float64) models.FMVRecord {
	return models.FMVRecord{
		Ticker:           ticker,
		Timestamp:        ts,
		FMV:              value,
		MarketPrice:      market,
		Confidence:       confidence,
		DeviationPercent: (value - market) / market * 100.0,
	}
}

package models

import "fmt"

// MarketStatus identifies the trading session a datum was observed in
type MarketStatus string

const (
	// MarketStatusPremarket is the pre-market session
	MarketStatusPremarket MarketStatus = "PREMARKET"

	// MarketStatusRegular is the regular trading session
	MarketStatusRegular MarketStatus = "REGULAR"

	// MarketStatusAfterHours is the after-hours session
	MarketStatusAfterHours MarketStatus = "AFTERHOURS"
)

// Extended reports whether the status is outside regular trading hours
func (s MarketStatus) Extended() bool {
	return s == MarketStatusPremarket || s == MarketStatusAfterHours
}

// TickEventType identifies the upstream event kind a tick was derived from
type TickEventType string

const (
	// TickEventAggregate is a per-second aggregate event
	TickEventAggregate TickEventType = "A"

	// TickEventTrade is a single trade event
	TickEventTrade TickEventType = "T"

	// TickEventQuote is a quote event
	TickEventQuote TickEventType = "Q"
)

// TickRecord is an immutable per-trade/per-quote datum for a single symbol.
// Timestamps are seconds since epoch.
type TickRecord struct {
	Ticker       string
	Price        float64
	Volume       int64
	Timestamp    float64
	Source       string
	EventType    TickEventType
	MarketStatus MarketStatus

	// Optional quote context
	Bid float64
	Ask float64

	// Tick-level OHLC for aggregate events
	TickOpen   float64
	TickHigh   float64
	TickLow    float64
	TickClose  float64
	TickVWAP   float64
	TickVolume int64

	// Day-level context
	DayOpen           float64
	DayHigh           float64
	DayLow            float64
	DayVWAP           float64
	AccumulatedVolume int64
}

// NewTickRecord validates and constructs a TickRecord. TickClose defaults to
// the trade price when unset.
func NewTickRecord(t TickRecord) (TickRecord, error) {
	if t.Ticker == "" {
		return TickRecord{}, fmt.Errorf("%w: empty ticker", ErrInvalidData)
	}
	if t.Price <= 0 {
		return TickRecord{}, fmt.Errorf("%w: price %v must be positive", ErrInvalidData, t.Price)
	}
	if t.Volume < 0 {
		return TickRecord{}, fmt.Errorf("%w: volume %d must be non-negative", ErrInvalidData, t.Volume)
	}
	if t.Timestamp <= 0 {
		return TickRecord{}, fmt.Errorf("%w: timestamp %v must be positive", ErrInvalidData, t.Timestamp)
	}
	if t.EventType == "" {
		t.EventType = TickEventAggregate
	}
	if t.MarketStatus == "" {
		t.MarketStatus = MarketStatusRegular
	}
	if t.TickClose == 0 {
		t.TickClose = t.Price
	}
	if t.Source == "" {
		t.Source = "unknown"
	}
	return t, nil
}

// ToMap converts the record to a key/value shape for transport
func (t TickRecord) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"ticker":        t.Ticker,
		"price":         t.Price,
		"volume":        t.Volume,
		"timestamp":     t.Timestamp,
		"source":        t.Source,
		"event_type":    string(t.EventType),
		"market_status": string(t.MarketStatus),
	}
	if t.Bid > 0 {
		m["bid"] = t.Bid
	}
	if t.Ask > 0 {
		m["ask"] = t.Ask
	}
	if t.TickOpen > 0 {
		m["tick_open"] = t.TickOpen
		m["tick_high"] = t.TickHigh
		m["tick_low"] = t.TickLow
		m["tick_close"] = t.TickClose
	}
	if t.TickVWAP > 0 {
		m["tick_vwap"] = t.TickVWAP
	}
	if t.TickVolume > 0 {
		m["tick_volume"] = t.TickVolume
	}
	if t.DayOpen > 0 {
		m["day_open"] = t.DayOpen
	}
	if t.DayHigh > 0 {
		m["day_high"] = t.DayHigh
	}
	if t.DayLow > 0 {
		m["day_low"] = t.DayLow
	}
	if t.DayVWAP > 0 {
		m["day_vwap"] = t.DayVWAP
	}
	if t.AccumulatedVolume > 0 {
		m["accumulated_volume"] = t.AccumulatedVolume
	}
	return m
}

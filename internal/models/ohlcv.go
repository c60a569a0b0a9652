package models

import "fmt"

// Timeframe identifies the aggregation period of an OHLCV bar
type Timeframe string

// Supported aggregation timeframes
const (
	Timeframe1s  Timeframe = "1s"
	Timeframe5s  Timeframe = "5s"
	Timeframe15s Timeframe = "15s"
	Timeframe30s Timeframe = "30s"
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

var validTimeframes = map[Timeframe]bool{
	Timeframe1s: true, Timeframe5s: true, Timeframe15s: true, Timeframe30s: true,
	Timeframe1m: true, Timeframe5m: true, Timeframe15m: true, Timeframe30m: true,
	Timeframe1h: true, Timeframe4h: true, Timeframe1d: true,
}

// OHLCVRecord is an immutable open/high/low/close/volume aggregate for one
// symbol over one period. Timestamp marks the period end in seconds since
// epoch.
type OHLCVRecord struct {
	Ticker    string
	Timestamp float64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	AvgVolume float64

	// PercentChange is (close-open)/open*100, derived when zero on input
	PercentChange float64

	// Optional market context
	VWAP              float64
	DailyOpen         float64
	AccumulatedVolume int64
	TradeCount        int64

	Timeframe     Timeframe
	MarketSession MarketStatus
	Source        string
}

// NewOHLCVRecord validates and constructs an OHLCVRecord, deriving
// PercentChange when it is zero on input.
func NewOHLCVRecord(r OHLCVRecord) (OHLCVRecord, error) {
	if r.Ticker == "" {
		return OHLCVRecord{}, fmt.Errorf("%w: empty ticker", ErrInvalidData)
	}
	if r.Timestamp <= 0 {
		return OHLCVRecord{}, fmt.Errorf("%w: timestamp %v must be positive", ErrInvalidData, r.Timestamp)
	}
	for name, v := range map[string]float64{"open": r.Open, "high": r.High, "low": r.Low, "close": r.Close} {
		if v <= 0 {
			return OHLCVRecord{}, fmt.Errorf("%w: %s %v must be positive", ErrInvalidData, name, v)
		}
	}
	if r.High < max64(r.Open, r.Close) {
		return OHLCVRecord{}, fmt.Errorf("%w: high %v < max(open %v, close %v)", ErrInvalidData, r.High, r.Open, r.Close)
	}
	if r.Low > min64(r.Open, r.Close) {
		return OHLCVRecord{}, fmt.Errorf("%w: low %v > min(open %v, close %v)", ErrInvalidData, r.Low, r.Open, r.Close)
	}
	if r.Volume < 0 {
		return OHLCVRecord{}, fmt.Errorf("%w: volume %d must be non-negative", ErrInvalidData, r.Volume)
	}
	if r.AvgVolume <= 0 {
		return OHLCVRecord{}, fmt.Errorf("%w: avg_volume %v must be positive", ErrInvalidData, r.AvgVolume)
	}
	if r.Timeframe == "" {
		r.Timeframe = Timeframe1m
	}
	if !validTimeframes[r.Timeframe] {
		return OHLCVRecord{}, fmt.Errorf("%w: unsupported timeframe %q", ErrInvalidData, r.Timeframe)
	}
	if r.MarketSession == "" {
		r.MarketSession = MarketStatusRegular
	}
	if r.Source == "" {
		r.Source = "unknown"
	}
	if r.PercentChange == 0 && r.Open > 0 {
		r.PercentChange = (r.Close - r.Open) / r.Open * 100.0
	}
	return r, nil
}

// MinuteStart returns the timestamp truncated to its minute boundary
func (r OHLCVRecord) MinuteStart() int64 {
	return int64(r.Timestamp) / 60 * 60
}

// ToMap converts the record to a key/value shape for transport
func (r OHLCVRecord) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"ticker":         r.Ticker,
		"timestamp":      r.Timestamp,
		"open":           r.Open,
		"high":           r.High,
		"low":            r.Low,
		"close":          r.Close,
		"volume":         r.Volume,
		"avg_volume":     r.AvgVolume,
		"percent_change": r.PercentChange,
		"timeframe":      string(r.Timeframe),
		"market_session": string(r.MarketSession),
		"source":         r.Source,
	}
	if r.VWAP > 0 {
		m["vwap"] = r.VWAP
	}
	if r.DailyOpen > 0 {
		m["daily_open"] = r.DailyOpen
	}
	if r.AccumulatedVolume > 0 {
		m["accumulated_volume"] = r.AccumulatedVolume
	}
	if r.TradeCount > 0 {
		m["trade_count"] = r.TradeCount
	}
	return m
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

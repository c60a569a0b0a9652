package models

import "fmt"

// Wire-format coercion. The ingest boundary hands the core either typed
// records or key/value shapes straight off the feed; these helpers normalize
// both the long-form and the abbreviated wire keys into typed records.

func mapFloat(m map[string]interface{}, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int32:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	}
	return 0, false
}

func mapInt(m map[string]interface{}, keys ...string) (int64, bool) {
	f, ok := mapFloat(m, keys...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func mapString(m map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// TickFromMap coerces a key/value shape into a TickRecord. It accepts both
// the long form {ticker, price, volume, timestamp, ...} and the wire form
// {sym, p, v, t, ev, b, a, vw, s} where t is in milliseconds.
func TickFromMap(m map[string]interface{}) (TickRecord, error) {
	var t TickRecord

	ticker, ok := mapString(m, "ticker", "sym", "symbol")
	if !ok {
		return t, fmt.Errorf("%w: tick missing ticker", ErrInvalidData)
	}
	t.Ticker = ticker

	price, ok := mapFloat(m, "price", "p")
	if !ok {
		return t, fmt.Errorf("%w: tick missing price", ErrInvalidData)
	}
	t.Price = price

	t.Volume, _ = mapInt(m, "volume", "v")

	if ts, ok := mapFloat(m, "timestamp"); ok {
		t.Timestamp = ts
	} else if ms, ok := mapFloat(m, "t"); ok {
		// wire timestamps arrive in milliseconds
		t.Timestamp = ms / 1000.0
	} else {
		return t, fmt.Errorf("%w: tick missing timestamp", ErrInvalidData)
	}

	if ev, ok := mapString(m, "event_type", "ev"); ok {
		t.EventType = TickEventType(ev)
	}
	if st, ok := mapString(m, "market_status", "s"); ok {
		t.MarketStatus = MarketStatus(st)
	}
	if src, ok := mapString(m, "source"); ok {
		t.Source = src
	}
	t.Bid, _ = mapFloat(m, "bid", "b")
	t.Ask, _ = mapFloat(m, "ask", "a")
	t.TickOpen, _ = mapFloat(m, "tick_open", "o")
	t.TickHigh, _ = mapFloat(m, "tick_high", "h")
	t.TickLow, _ = mapFloat(m, "tick_low", "l")
	t.TickClose, _ = mapFloat(m, "tick_close", "c")
	t.TickVWAP, _ = mapFloat(m, "tick_vwap", "vw")
	t.DayOpen, _ = mapFloat(m, "day_open", "op")
	t.DayHigh, _ = mapFloat(m, "day_high")
	t.DayLow, _ = mapFloat(m, "day_low")
	t.DayVWAP, _ = mapFloat(m, "day_vwap")
	t.AccumulatedVolume, _ = mapInt(m, "accumulated_volume", "av")

	return NewTickRecord(t)
}

// OHLCVFromMap coerces a key/value shape into an OHLCVRecord. It accepts the
// long form {ticker, timestamp, open, high, low, close, volume}, the minute
// wire form {ticker, time, minute_open, minute_high, ...} and the short form
// {o, h, l, c, v}.
func OHLCVFromMap(m map[string]interface{}) (OHLCVRecord, error) {
	var r OHLCVRecord

	ticker, ok := mapString(m, "ticker", "sym", "symbol")
	if !ok {
		return r, fmt.Errorf("%w: ohlcv missing ticker", ErrInvalidData)
	}
	r.Ticker = ticker

	if ts, ok := mapFloat(m, "timestamp", "time"); ok {
		r.Timestamp = ts
	} else if ms, ok := mapFloat(m, "t"); ok {
		r.Timestamp = ms / 1000.0
	} else {
		return r, fmt.Errorf("%w: ohlcv missing timestamp", ErrInvalidData)
	}

	var found bool
	if r.Open, found = mapFloat(m, "open", "minute_open", "o"); !found {
		return r, fmt.Errorf("%w: ohlcv missing open", ErrInvalidData)
	}
	if r.High, found = mapFloat(m, "high", "minute_high", "h"); !found {
		return r, fmt.Errorf("%w: ohlcv missing high", ErrInvalidData)
	}
	if r.Low, found = mapFloat(m, "low", "minute_low", "l"); !found {
		return r, fmt.Errorf("%w: ohlcv missing low", ErrInvalidData)
	}
	if r.Close, found = mapFloat(m, "close", "minute_close", "c"); !found {
		return r, fmt.Errorf("%w: ohlcv missing close", ErrInvalidData)
	}
	r.Volume, _ = mapInt(m, "volume", "minute_volume", "v")

	if av, ok := mapFloat(m, "avg_volume"); ok {
		r.AvgVolume = av
	} else {
		// feeds that omit the baseline get a neutral one
		r.AvgVolume = float64(r.Volume)
		if r.AvgVolume <= 0 {
			r.AvgVolume = 1
		}
	}

	r.PercentChange, _ = mapFloat(m, "percent_change")
	r.VWAP, _ = mapFloat(m, "vwap", "minute_vwap")
	r.DailyOpen, _ = mapFloat(m, "daily_open")
	r.AccumulatedVolume, _ = mapInt(m, "accumulated_volume")
	r.TradeCount, _ = mapInt(m, "trade_count")
	if tf, ok := mapString(m, "timeframe"); ok {
		r.Timeframe = Timeframe(tf)
	}
	if sess, ok := mapString(m, "market_session"); ok {
		r.MarketSession = MarketStatus(sess)
	}
	if src, ok := mapString(m, "source"); ok {
		r.Source = src
	}

	return NewOHLCVRecord(r)
}

// FMVFromMap coerces a key/value shape into an FMVRecord. It accepts
// {ticker, time, fmv_price|fmv|fair_market_value, market_price, confidence,
// fmv_vs_market_pct, valuation_model}.
func FMVFromMap(m map[string]interface{}) (FMVRecord, error) {
	var r FMVRecord

	ticker, ok := mapString(m, "ticker", "sym", "symbol")
	if !ok {
		return r, fmt.Errorf("%w: fmv missing ticker", ErrInvalidData)
	}
	r.Ticker = ticker

	if ts, ok := mapFloat(m, "timestamp", "time"); ok {
		r.Timestamp = ts
	} else if ms, ok := mapFloat(m, "t"); ok {
		r.Timestamp = ms / 1000.0
	} else {
		return r, fmt.Errorf("%w: fmv missing timestamp", ErrInvalidData)
	}

	fmv, ok := mapFloat(m, "fmv", "fmv_price", "fair_market_value")
	if !ok {
		return r, fmt.Errorf("%w: fmv missing value", ErrInvalidData)
	}
	r.FMV = fmv

	mp, ok := mapFloat(m, "market_price", "price")
	if !ok {
		return r, fmt.Errorf("%w: fmv missing market price", ErrInvalidData)
	}
	r.MarketPrice = mp

	r.Confidence, _ = mapFloat(m, "confidence")
	r.DeviationPercent, _ = mapFloat(m, "deviation_percent", "fmv_vs_market_pct")
	if vm, ok := mapString(m, "valuation_model"); ok {
		r.ValuationModel = vm
	}
	if src, ok := mapString(m, "source"); ok {
		r.Source = src
	}

	return NewFMVRecord(r)
}

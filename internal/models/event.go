package models

import "fmt"

// EventKind identifies the domain event detected by a channel
type EventKind string

// Event kinds emitted by the processing channels
const (
	EventSessionHigh EventKind = "session_high"
	EventSessionLow  EventKind = "session_low"
	EventTrend       EventKind = "trend"
	EventSurge       EventKind = "surge"

	EventAggregateHighClose   EventKind = "aggregate_high_close"
	EventAggregateLowClose    EventKind = "aggregate_low_close"
	EventAggregateVolumeSurge EventKind = "aggregate_volume_surge"
	EventAggregateMove        EventKind = "aggregate_move"

	EventFMVDeviation      EventKind = "fmv_deviation"
	EventFMVHighConfidence EventKind = "fmv_high_confidence"
	EventFMVTrend          EventKind = "fmv_trend"
)

// Direction of a trend or move event
type Direction string

const (
	// DirectionUp marks a rising trend or positive move
	DirectionUp Direction = "up"

	// DirectionDown marks a falling trend or negative move
	DirectionDown Direction = "down"
)

// Event is an immutable domain event produced by a channel and forwarded to
// the downstream event processor. Kind-specific payload fields live in Fields.
type Event struct {
	Kind      EventKind
	Ticker    string
	Price     float64
	Time      float64
	Direction Direction
	Label     string
	Fields    map[string]interface{}
}

// NewEvent constructs an event with a formatted label
func NewEvent(kind EventKind, ticker string, price, ts float64) Event {
	return Event{
		Kind:   kind,
		Ticker: ticker,
		Price:  price,
		Time:   ts,
		Label:  fmt.Sprintf("%s %s @ %.4f", ticker, kind, price),
		Fields: make(map[string]interface{}),
	}
}

// WithDirection returns a copy of the event with the direction set
func (e Event) WithDirection(d Direction) Event {
	e.Direction = d
	return e
}

// WithField returns a copy of the event with an extra payload field. The
// Fields map is copied so emitted events stay immutable.
func (e Event) WithField(key string, value interface{}) Event {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// ToMap converts the event to a key/value shape for transport
func (e Event) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"kind":   string(e.Kind),
		"ticker": e.Ticker,
		"price":  e.Price,
		"time":   e.Time,
		"label":  e.Label,
	}
	if e.Direction != "" {
		m["direction"] = string(e.Direction)
	}
	for k, v := range e.Fields {
		m[k] = v
	}
	return m
}

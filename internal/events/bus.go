package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/models"
)

// TopicMarketEvents carries every domain event produced by the channels
const TopicMarketEvents = "market.events"

// Processor consumes domain events downstream of the core (e.g. the
// priority queue feeding the WebSocket publisher).
type Processor interface {
	ProcessEvent(ctx context.Context, event models.Event) error
}

// Bus forwards domain events from the channels to downstream processors via
// an in-process pub/sub. Per-publisher ordering is preserved.
type Bus struct {
	logger *zap.Logger
	pubSub *gochannel.GoChannel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBus creates the event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.With(zap.String("component", "event_bus")),
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
			// each publish waits for subscriber acks, so delivery follows publish order
			BlockPublishUntilSubscriberAck: true,
		}, newWatermillAdapter(logger)),
	}
}

// Start prepares the bus for subscriptions
func (b *Bus) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return nil
}

// Stop closes the bus and all subscriber channels
func (b *Bus) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.pubSub.Close()
}

// Publish forwards a batch of events, preserving their order
func (b *Bus) Publish(events []models.Event) error {
	for _, event := range events {
		payload, err := json.Marshal(event.ToMap())
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("kind", string(event.Kind))
		msg.Metadata.Set("ticker", event.Ticker)
		if err := b.pubSub.Publish(TopicMarketEvents, msg); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	return nil
}

// Subscribe attaches a downstream processor to the event stream. Each
// processor receives events in publish order.
func (b *Bus) Subscribe(proc Processor) error {
	messages, err := b.pubSub.Subscribe(b.ctx, TopicMarketEvents)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		for msg := range messages {
			var payload map[string]interface{}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				b.logger.Error("Failed to decode event payload", zap.Error(err))
				msg.Ack()
				continue
			}
			event := eventFromMap(payload)
			if err := proc.ProcessEvent(b.ctx, event); err != nil {
				b.logger.Error("Downstream processor failed",
					zap.Error(err),
					zap.String("kind", string(event.Kind)),
					zap.String("ticker", event.Ticker))
			}
			msg.Ack()
		}
	}()
	return nil
}

// eventFromMap rebuilds an event from its transport shape
func eventFromMap(m map[string]interface{}) models.Event {
	event := models.Event{Fields: make(map[string]interface{})}
	for k, v := range m {
		switch k {
		case "kind":
			if s, ok := v.(string); ok {
				event.Kind = models.EventKind(s)
			}
		case "ticker":
			if s, ok := v.(string); ok {
				event.Ticker = s
			}
		case "price":
			if f, ok := v.(float64); ok {
				event.Price = f
			}
		case "time":
			if f, ok := v.(float64); ok {
				event.Time = f
			}
		case "label":
			if s, ok := v.(string); ok {
				event.Label = s
			}
		case "direction":
			if s, ok := v.(string); ok {
				event.Direction = models.Direction(s)
			}
		default:
			event.Fields[k] = v
		}
	}
	return event
}

// watermillAdapter routes watermill's internal logging through zap
type watermillAdapter struct {
	logger *zap.Logger
}

func newWatermillAdapter(logger *zap.Logger) watermill.LoggerAdapter {
	return &watermillAdapter{logger: logger.With(zap.String("component", "watermill"))}
}

func (a *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{logger: a.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

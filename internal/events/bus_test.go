package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantstream/tickcore/internal/models"
)

// collectingProcessor captures events delivered downstream
type collectingProcessor struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *collectingProcessor) ProcessEvent(ctx context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *collectingProcessor) all() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Event, len(p.events))
	copy(out, p.events)
	return out
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	proc := &collectingProcessor{}
	require.NoError(t, bus.Subscribe(proc))

	published := []models.Event{
		models.NewEvent(models.EventSessionHigh, "AAPL", 150.0, 1).
			WithDirection(models.DirectionUp).
			WithField("volume", 1000),
		models.NewEvent(models.EventSurge, "AAPL", 151.0, 2),
		models.NewEvent(models.EventTrend, "AAPL", 152.0, 3),
	}
	require.NoError(t, bus.Publish(published))

	assert.Eventually(t, func() bool {
		return len(proc.all()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	received := proc.all()
	// publish order is preserved
	assert.Equal(t, models.EventSessionHigh, received[0].Kind)
	assert.Equal(t, models.EventSurge, received[1].Kind)
	assert.Equal(t, models.EventTrend, received[2].Kind)

	first := received[0]
	assert.Equal(t, "AAPL", first.Ticker)
	assert.Equal(t, 150.0, first.Price)
	assert.Equal(t, models.DirectionUp, first.Direction)
	// kind-specific fields survive the transport
	assert.Equal(t, float64(1000), first.Fields["volume"])
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	a := &collectingProcessor{}
	b := &collectingProcessor{}
	require.NoError(t, bus.Subscribe(a))
	require.NoError(t, bus.Subscribe(b))

	require.NoError(t, bus.Publish([]models.Event{
		models.NewEvent(models.EventFMVDeviation, "NVDA", 150.0, 1),
	}))

	assert.Eventually(t, func() bool {
		return len(a.all()) == 1 && len(b.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

package channels

import (
	"context"
	"errors"

	"github.com/quantstream/tickcore/internal/metrics"
	"github.com/quantstream/tickcore/internal/models"
)

// Type identifies the data kind a channel processes
type Type string

const (
	// TypeTick processes per-trade ticks
	TypeTick Type = "tick"

	// TypeOHLCV processes per-period aggregates
	TypeOHLCV Type = "ohlcv"

	// TypeFMV processes fair-market-value estimates
	TypeFMV Type = "fmv"
)

// Status is the lifecycle state of a channel
type Status string

const (
	// StatusInitializing marks a channel that has not started yet
	StatusInitializing Status = "initializing"

	// StatusActive marks a running channel
	StatusActive Status = "active"

	// StatusPaused marks a channel that accepts no new work but keeps state
	StatusPaused Status = "paused"

	// StatusError marks a channel that failed fatally
	StatusError Status = "error"

	// StatusShutdown marks a stopped channel
	StatusShutdown Status = "shutdown"
)

// errProcessingFailed signals a failed subclass result through the breaker
var errProcessingFailed = errors.New("processing failed")

// Channel is the contract shared by all processing channels. The router owns
// the channel set; the monitor holds lookup-only references.
type Channel interface {
	Name() string
	ID() string
	Type() Type
	Priority() int

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Submit enqueues an item (or processes it synchronously when the
	// batching strategy is immediate) and reports acceptance; immediate
	// channels report the processing outcome instead.
	Submit(item interface{}) bool

	// ProcessWithMetrics runs one item through validation, the breaker and
	// the type-specific pipeline, recording metrics on every path.
	ProcessWithMetrics(item interface{}) *models.ProcessingResult

	// Immediate reports whether the channel processes on submit
	Immediate() bool

	Status() Status
	IsHealthy() bool
	QueueSize() int
	QueueCapacity() int
	Metrics() *metrics.ChannelMetrics
}

// EventSink receives events produced outside a synchronous dispatch, such as
// batched processing
type EventSink func(events []models.Event)

// processor is the type-specific half of a channel implementation
type processor interface {
	// validate cheaply rejects items the channel cannot process
	validate(item interface{}) bool

	// process runs the channel pipeline for one item
	process(item interface{}) *models.ProcessingResult

	// shutdown releases type-specific resources
	shutdown()
}

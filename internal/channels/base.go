package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/metrics"
	"github.com/quantstream/tickcore/internal/models"
)

// drainDeadline bounds the final drain during shutdown
const drainDeadline = 10 * time.Second

// unhealthyLatencyMs marks a channel unhealthy above this EMA latency
const unhealthyLatencyMs = 5000

// unhealthyQueueUtilization marks a channel unhealthy above this queue fill
const unhealthyQueueUtilization = 0.9

// BaseChannel carries the machinery shared by all channels: the bounded
// input queue, the batch buffer, the circuit breaker, the worker pool and
// the metrics. Concrete channels embed it and plug in a processor.
type BaseChannel struct {
	name     string
	id       string
	chanType Type
	cfg      config.ChannelConfig
	logger   *zap.Logger

	proc processor
	sink EventSink

	mu     sync.Mutex
	status Status

	queue     chan interface{}
	batchMu   sync.Mutex
	batch     []interface{}
	lastFlush time.Time

	breaker *gobreaker.CircuitBreaker
	pool    *ants.Pool
	metrics *metrics.ChannelMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newBaseChannel wires the shared machinery for a concrete channel
func newBaseChannel(name string, chanType Type, cfg config.ChannelConfig, proc processor, logger *zap.Logger) *BaseChannel {
	c := &BaseChannel{
		name:     name,
		id:       uuid.NewString(),
		chanType: chanType,
		cfg:      cfg,
		logger:   logger.With(zap.String("channel", name)),
		proc:     proc,
		status:   StatusInitializing,
		queue:    make(chan interface{}, cfg.MaxQueueSize),
		batch:    make([]interface{}, 0, 2*cfg.Batching.MaxBatchSize),
		metrics:  metrics.NewChannelMetrics(),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.CircuitBreakerTimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			switch to {
			case gobreaker.StateOpen:
				c.metrics.RecordCircuitOpen()
			case gobreaker.StateClosed:
				c.metrics.RecordCircuitClose()
			}
		},
	})

	return c
}

// Name returns the channel name
func (c *BaseChannel) Name() string { return c.name }

// ID returns the unique channel instance id
func (c *BaseChannel) ID() string { return c.id }

// Type returns the data kind the channel processes
func (c *BaseChannel) Type() Type { return c.chanType }

// Priority returns the configured routing priority
func (c *BaseChannel) Priority() int { return c.cfg.Priority }

// Immediate reports whether the channel processes on submit
func (c *BaseChannel) Immediate() bool { return c.cfg.Batching.Strategy == "immediate" }

// Status returns the lifecycle state
func (c *BaseChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *BaseChannel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Metrics returns the live metrics instance
func (c *BaseChannel) Metrics() *metrics.ChannelMetrics { return c.metrics }

// QueueSize returns the current input queue depth
func (c *BaseChannel) QueueSize() int { return len(c.queue) }

// QueueCapacity returns the input queue capacity
func (c *BaseChannel) QueueCapacity() int { return cap(c.queue) }

// SetEventSink installs the sink receiving events from batched processing
func (c *BaseChannel) SetEventSink(sink EventSink) { c.sink = sink }

// Start transitions the channel to Active and spawns the background workers
// for batched strategies.
func (c *BaseChannel) Start(ctx context.Context) error {
	if c.Status() == StatusActive {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	pool, err := ants.NewPool(c.cfg.MaxConcurrentProcessing)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("failed to create worker pool for %s: %w", c.name, err)
	}
	c.pool = pool

	if !c.Immediate() {
		c.wg.Add(1)
		go c.drainLoop()

		if c.cfg.Batching.Strategy == "time_based" || c.cfg.Batching.Strategy == "hybrid" {
			c.wg.Add(1)
			go c.flushLoop()
		}
	}

	c.batchMu.Lock()
	c.lastFlush = time.Now()
	c.batchMu.Unlock()

	c.metrics.MarkStarted()
	c.setStatus(StatusActive)
	c.logger.Info("Channel started",
		zap.String("type", string(c.chanType)),
		zap.String("batching", c.cfg.Batching.Strategy))
	return nil
}

// Stop cancels the workers, drains remaining work under a bounded deadline
// and runs the type-specific shutdown.
func (c *BaseChannel) Stop(ctx context.Context) error {
	if c.Status() == StatusShutdown {
		return nil
	}
	c.setStatus(StatusShutdown)

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.drainRemaining()

	if c.pool != nil {
		c.pool.Release()
	}
	c.proc.shutdown()
	c.metrics.MarkStopped()
	c.logger.Info("Channel stopped")
	return nil
}

// Pause stops accepting new work while keeping state and workers alive
func (c *BaseChannel) Pause() {
	if c.Status() == StatusActive {
		c.setStatus(StatusPaused)
		c.logger.Info("Channel paused")
	}
}

// Resume returns a paused channel to Active
func (c *BaseChannel) Resume() {
	if c.Status() == StatusPaused {
		c.setStatus(StatusActive)
		c.logger.Info("Channel resumed")
	}
}

// Submit offers one item to the channel. Immediate channels process
// synchronously and report the processing outcome; batched channels enqueue
// and report acceptance.
func (c *BaseChannel) Submit(item interface{}) bool {
	if c.Status() != StatusActive {
		return false
	}
	if c.breaker.State() == gobreaker.StateOpen {
		c.metrics.RecordCircuitRejection()
		return false
	}

	if c.Immediate() {
		result := c.ProcessWithMetrics(item)
		if result.Success && len(result.Events) > 0 && c.sink != nil {
			c.sink(result.Events)
		}
		return result.Success
	}

	select {
	case c.queue <- item:
		return true
	default:
		if c.cfg.Batching.OverflowAction == "drop_oldest" {
			select {
			case <-c.queue:
				c.metrics.RecordOverflow()
			default:
			}
			select {
			case c.queue <- item:
				return true
			default:
			}
		}
		c.metrics.RecordOverflow()
		return false
	}
}

// ProcessWithMetrics runs one item through the breaker and the type-specific
// pipeline, recording latency and counters on every path. It never panics
// past its boundary.
func (c *BaseChannel) ProcessWithMetrics(item interface{}) *models.ProcessingResult {
	start := time.Now()

	value, err := c.breaker.Execute(func() (out interface{}, execErr error) {
		defer func() {
			if r := recover(); r != nil {
				res := models.NewFailureResult(fmt.Sprintf("panic: %v", r)).
					WithMeta("exception", fmt.Sprintf("%v", r))
				out, execErr = res, errProcessingFailed
			}
		}()

		if !c.proc.validate(item) {
			res := models.NewFailureResult(models.ErrInvalidData.Error()).
				WithMeta("error_type", "invalid_data")
			return res, errProcessingFailed
		}

		res := c.proc.process(item)
		if res == nil {
			res = models.NewFailureResult("nil result from processor")
		}
		if !res.Success {
			return res, errProcessingFailed
		}
		return res, nil
	})

	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	var result *models.ProcessingResult
	switch {
	case err == nil:
		result = value.(*models.ProcessingResult)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.RecordCircuitRejection()
		result = models.NewFailureResult(models.ErrCircuitOpen.Error()).
			WithMeta("circuit_breaker", true)
	default:
		if res, ok := value.(*models.ProcessingResult); ok && res != nil {
			result = res
		} else {
			result = models.NewFailureResult(err.Error())
		}
	}

	result.ProcessingTimeMs = latencyMs
	result.WithMeta("channel", c.name)
	c.metrics.RecordProcessing(latencyMs, result.Success, len(result.Events))
	return result
}

// IsHealthy applies the shared health rule: live status, closed breaker,
// acceptable error rate and latency, and a non-saturated queue.
func (c *BaseChannel) IsHealthy() bool {
	status := c.Status()
	if status != StatusActive && status != StatusPaused {
		return false
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return false
	}

	snap := c.metrics.Snapshot()
	errorThreshold := c.cfg.ErrorThreshold
	if errorThreshold == 0 {
		errorThreshold = 0.10
	}
	if snap.Processed > 0 && snap.ErrorRate > errorThreshold {
		return false
	}
	if snap.EMALatencyMs > unhealthyLatencyMs {
		return false
	}
	if cap(c.queue) > 0 && float64(len(c.queue))/float64(cap(c.queue)) > unhealthyQueueUtilization {
		return false
	}
	return true
}

// drainLoop moves queued items into the batch buffer and triggers size-based
// flushes.
func (c *BaseChannel) drainLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case item := <-c.queue:
			c.appendToBatch(item)
		}
	}
}

// flushLoop triggers time-based flushes
func (c *BaseChannel) flushLoop() {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.Batching.MaxWaitTimeMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.batchMu.Lock()
			due := len(c.batch) > 0 && time.Since(c.lastFlush) >= interval
			c.batchMu.Unlock()
			if due {
				c.flush()
			}
		}
	}
}

func (c *BaseChannel) appendToBatch(item interface{}) {
	c.batchMu.Lock()
	if len(c.batch) >= 2*c.cfg.Batching.MaxBatchSize {
		// buffer saturated; shed per overflow policy
		if c.cfg.Batching.OverflowAction == "drop_oldest" {
			c.batch = c.batch[1:]
		} else {
			c.batchMu.Unlock()
			c.metrics.RecordOverflow()
			return
		}
		c.metrics.RecordOverflow()
	}
	c.batch = append(c.batch, item)
	sizeTriggered := (c.cfg.Batching.Strategy == "size_based" || c.cfg.Batching.Strategy == "hybrid") &&
		len(c.batch) >= c.cfg.Batching.MaxBatchSize
	c.batchMu.Unlock()

	if sizeTriggered {
		c.flush()
	}
}

// flush hands the current buffer to the worker pool
func (c *BaseChannel) flush() {
	c.batchMu.Lock()
	if len(c.batch) == 0 {
		c.batchMu.Unlock()
		return
	}
	items := c.batch
	c.batch = make([]interface{}, 0, 2*c.cfg.Batching.MaxBatchSize)
	c.lastFlush = time.Now()
	c.batchMu.Unlock()

	run := func() { c.processBatch(items) }
	if c.pool != nil {
		if err := c.pool.Submit(run); err != nil {
			// Submit blocks while the pool is saturated and errors once it is
			// released; process inline rather than drop
			run()
		}
	} else {
		run()
	}
}

// processBatch runs a batch through the per-item pipeline and forwards the
// produced events to the sink.
func (c *BaseChannel) processBatch(items []interface{}) {
	var events []models.Event
	failed := false
	for _, item := range items {
		result := c.ProcessWithMetrics(item)
		if result.Success {
			events = append(events, result.Events...)
		} else {
			failed = true
		}
	}
	c.metrics.RecordBatch(!failed)
	if len(events) > 0 && c.sink != nil {
		c.sink(events)
	}
}

// drainRemaining empties the buffer and the queue during shutdown under a
// wall-clock deadline.
func (c *BaseChannel) drainRemaining() {
	deadline := time.Now().Add(drainDeadline)

	c.batchMu.Lock()
	pending := c.batch
	c.batch = nil
	c.batchMu.Unlock()

	for _, item := range pending {
		if time.Now().After(deadline) {
			c.logger.Warn("Drain deadline exceeded, discarding buffered items")
			return
		}
		c.processDrained(item)
	}

	for {
		if time.Now().After(deadline) {
			c.logger.Warn("Drain deadline exceeded, discarding queued items",
				zap.Int("remaining", len(c.queue)))
			return
		}
		select {
		case item := <-c.queue:
			c.processDrained(item)
		default:
			return
		}
	}
}

func (c *BaseChannel) processDrained(item interface{}) {
	result := c.ProcessWithMetrics(item)
	if result.Success && len(result.Events) > 0 && c.sink != nil {
		c.sink(result.Events)
	}
}

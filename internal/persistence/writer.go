package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// dbErrorPause is the minimum pause after a failed flush before the next
// attempt
const dbErrorPause = time.Second

// batchTimeRingSize bounds the rolling batch duration samples
const batchTimeRingSize = 100

// mergeKey identifies one logical persisted row
type mergeKey struct {
	Symbol string
	Minute int64
}

// Writer batches minute aggregates into the store. Producers enqueue
// non-blocking; a single worker dequeues in bursts, coalesces duplicates by
// (symbol, minute) and flushes with the merge-on-conflict upsert.
type Writer struct {
	logger *zap.Logger
	cfg    config.PersistenceConfig
	store  Store

	queue chan models.OHLCVRecord

	mu             sync.Mutex
	queued         int64
	persisted      int64
	dropped        int64
	batches        int64
	errors         int64
	connErrors     int64
	batchTimes     []float64
	lastFlush      time.Time
	lastPingOK     bool
	startedAt      time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a persistence writer over the given store
func NewWriter(cfg config.PersistenceConfig, store Store, logger *zap.Logger) *Writer {
	return &Writer{
		logger: logger.With(zap.String("component", "ohlcv_persistence")),
		cfg:    cfg,
		store:  store,
		queue:  make(chan models.OHLCVRecord, cfg.QueueCapacity),
	}
}

// Start spawns the background flush worker
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Lock()
	w.startedAt = time.Now()
	w.lastFlush = time.Now()
	w.lastPingOK = true
	w.mu.Unlock()

	if w.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := w.store.Ping(pingCtx); err != nil {
			w.logger.Warn("Initial store connectivity check failed", zap.Error(err))
			w.mu.Lock()
			w.lastPingOK = false
			w.connErrors++
			w.mu.Unlock()
		}
	}

	w.wg.Add(1)
	go w.flushLoop()
	w.logger.Info("Persistence writer started",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("queue_capacity", w.cfg.QueueCapacity))
	return nil
}

// Stop flushes outstanding work and stops the worker
func (w *Writer) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	// final drain
	for {
		pending := w.collectBurst()
		if len(pending) == 0 {
			break
		}
		if !w.flushPending(pending) {
			break
		}
	}
	w.logger.Info("Persistence writer stopped")
	return nil
}

// Submit enqueues one record, truncating its timestamp to the minute
// boundary. A full queue sheds the record.
func (w *Writer) Submit(record models.OHLCVRecord) bool {
	record.Timestamp = float64(record.MinuteStart())
	select {
	case w.queue <- record:
		w.mu.Lock()
		w.queued++
		w.mu.Unlock()
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("Persistence queue full, dropping record",
			zap.String("ticker", record.Ticker))
		return false
	}
}

// Healthy reports whether the store is reachable and errors stay bounded
func (w *Writer) Healthy() bool {
	if w.store == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPingOK && w.errors < 10
}

// Stats returns a snapshot of the writer counters
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Stats{
		Queued:           w.queued,
		Persisted:        w.persisted,
		Dropped:          w.dropped,
		Batches:          w.batches,
		Errors:           w.errors,
		ConnectionErrors: w.connErrors,
		QueueDepth:       len(w.queue),
	}
	if len(w.batchTimes) > 0 {
		var sum float64
		for _, t := range w.batchTimes {
			sum += t
		}
		s.AvgBatchTimeMs = sum / float64(len(w.batchTimes))
	}
	if !w.startedAt.IsZero() {
		uptime := time.Since(w.startedAt).Seconds()
		if uptime > 0 {
			s.PersistenceRate = float64(w.persisted) / uptime
		}
	}
	return s
}

// Stats is a snapshot of persistence counters
type Stats struct {
	Queued           int64
	Persisted        int64
	Dropped          int64
	Batches          int64
	Errors           int64
	ConnectionErrors int64
	QueueDepth       int
	AvgBatchTimeMs   float64
	PersistenceRate  float64
}

// flushLoop drives the flush policy: batch full, interval elapsed, or
// shutdown.
func (w *Writer) flushLoop() {
	defer w.wg.Done()
	interval := time.Duration(w.cfg.FlushIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval / 5)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			intervalDue := time.Since(w.lastFlush) >= interval
			w.mu.Unlock()
			if len(w.queue) >= w.cfg.BatchSize || (intervalDue && len(w.queue) > 0) {
				pending := w.collectBurst()
				if !w.flushPending(pending) {
					// avoid a tight retry loop after a store failure
					select {
					case <-w.ctx.Done():
						return
					case <-time.After(dbErrorPause):
					}
				}
			}
		}
	}
}

// collectBurst dequeues up to batchSize records without blocking
func (w *Writer) collectBurst() []models.OHLCVRecord {
	records := make([]models.OHLCVRecord, 0, w.cfg.BatchSize)
	for len(records) < w.cfg.BatchSize {
		select {
		case r := <-w.queue:
			records = append(records, r)
		default:
			return records
		}
	}
	return records
}

// flushPending coalesces and writes one batch, requeueing on store failure.
// It returns false when the store rejected the batch.
func (w *Writer) flushPending(records []models.OHLCVRecord) bool {
	if len(records) == 0 {
		return true
	}

	rows := MergeRecords(records)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := w.store.UpsertBatch(ctx, rows)
	cancel()

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0

	w.mu.Lock()
	w.lastFlush = time.Now()
	if len(w.batchTimes) == batchTimeRingSize {
		w.batchTimes = w.batchTimes[1:]
	}
	w.batchTimes = append(w.batchTimes, elapsedMs)
	w.mu.Unlock()

	if err != nil {
		w.mu.Lock()
		w.errors++
		w.lastPingOK = false
		w.mu.Unlock()
		w.logger.Error("Failed to persist batch",
			zap.Error(err),
			zap.Int("rows", len(rows)))
		w.requeue(records)
		return false
	}

	w.mu.Lock()
	w.persisted += int64(len(rows))
	w.batches++
	w.lastPingOK = true
	w.mu.Unlock()
	return true
}

// requeue puts failed records back, subject to queue capacity
func (w *Writer) requeue(records []models.OHLCVRecord) {
	for _, r := range records {
		select {
		case w.queue <- r:
		default:
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
			return
		}
	}
}

// MergeRecords coalesces records sharing a (symbol, minute) into single rows:
// open is the first non-zero open, high the max, low the min, close the
// latest arrival's close and volume the sum. Row order follows first
// appearance.
func MergeRecords(records []models.OHLCVRecord) []OHLCVRow {
	merged := make(map[mergeKey]*OHLCVRow, len(records))
	order := make([]mergeKey, 0, len(records))

	for _, r := range records {
		key := mergeKey{Symbol: r.Ticker, Minute: r.MinuteStart()}
		row, ok := merged[key]
		if !ok {
			merged[key] = &OHLCVRow{
				Symbol:    r.Ticker,
				Timestamp: time.Unix(key.Minute, 0).UTC(),
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			}
			order = append(order, key)
			continue
		}
		if row.Open == 0 {
			row.Open = r.Open
		}
		if r.High > row.High {
			row.High = r.High
		}
		if r.Low < row.Low {
			row.Low = r.Low
		}
		row.Close = r.Close
		row.Volume += r.Volume
	}

	rows := make([]OHLCVRow, 0, len(merged))
	for _, key := range order {
		rows = append(rows, *merged[key])
	}
	return rows
}

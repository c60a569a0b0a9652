package channels

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/detectors"
	"github.com/quantstream/tickcore/internal/models"
)

// Bar buffers are dropped after two hours idle; the janitor sweeps every ten
// minutes.
const (
	barBufferTTL   = 2 * time.Hour
	barBufferSweep = 10 * time.Minute
)

// PersistenceSink accepts minute aggregates for durable storage. Submission
// is non-blocking; a false return means the record was shed.
type PersistenceSink interface {
	Submit(record models.OHLCVRecord) bool
}

// OHLCVChannel processes per-period aggregates in size-based batches,
// maintaining per-symbol bar buffers, running the aggregate analyzers and
// feeding the persistence layer.
type OHLCVChannel struct {
	*BaseChannel

	buffers     *gocache.Cache
	analyzer    *detectors.AggregateAnalyzer
	persistence PersistenceSink
}

// NewOHLCVChannel creates an aggregate channel. The persistence sink may be
// nil when persistence is disabled.
func NewOHLCVChannel(name string, cfg config.ChannelConfig, persistence PersistenceSink, logger *zap.Logger) *OHLCVChannel {
	oc := &OHLCVChannel{
		buffers:     gocache.New(barBufferTTL, barBufferSweep),
		analyzer:    detectors.NewAggregateAnalyzer(cfg.Detection.OHLCV),
		persistence: persistence,
	}
	oc.BaseChannel = newBaseChannel(name, TypeOHLCV, cfg, oc, logger)
	return oc
}

// TrackedSymbols returns the number of symbols with live bar buffers
func (c *OHLCVChannel) TrackedSymbols() int { return c.buffers.ItemCount() }

func (c *OHLCVChannel) validate(item interface{}) bool {
	switch item.(type) {
	case models.OHLCVRecord, *models.OHLCVRecord, map[string]interface{}:
		return true
	default:
		return false
	}
}

func (c *OHLCVChannel) process(item interface{}) *models.ProcessingResult {
	bar, err := coerceOHLCV(item)
	if err != nil {
		return models.NewFailureResult(err.Error()).WithMeta("error_type", "invalid_data")
	}

	buf := c.barBuffer(bar.Ticker)
	buf.Append(bar)
	events := c.analyzer.Analyze(buf, bar)
	c.buffers.Set(bar.Ticker, buf, gocache.DefaultExpiration)

	persisted := false
	if c.persistence != nil {
		minuteBar := bar
		minuteBar.Timestamp = float64(bar.MinuteStart())
		minuteBar.Timeframe = models.Timeframe1m
		persisted = c.persistence.Submit(minuteBar)
		if !persisted {
			c.logger.Warn("Persistence rejected aggregate",
				zap.String("ticker", bar.Ticker),
				zap.Int64("minute", bar.MinuteStart()))
		}
	}

	result := models.NewSuccessResult(events...)
	result.WithMeta("ticker", bar.Ticker)
	result.WithMeta("close", bar.Close)
	result.WithMeta("events_generated", len(events))
	result.WithMeta("baseline_volume", buf.BaselineVolume)
	result.WithMeta("baseline_price", buf.BaselinePrice)
	result.WithMeta("pattern", c.analyzer.ClassifyPattern(buf))
	result.WithMeta("persisted", persisted)
	return result
}

func (c *OHLCVChannel) shutdown() {
	c.buffers.Flush()
}

func (c *OHLCVChannel) barBuffer(ticker string) *detectors.SymbolBarBuffer {
	if v, ok := c.buffers.Get(ticker); ok {
		return v.(*detectors.SymbolBarBuffer)
	}
	buf := detectors.NewSymbolBarBuffer(ticker)
	c.buffers.Set(ticker, buf, gocache.DefaultExpiration)
	return buf
}

func coerceOHLCV(item interface{}) (models.OHLCVRecord, error) {
	switch v := item.(type) {
	case models.OHLCVRecord:
		return models.NewOHLCVRecord(v)
	case *models.OHLCVRecord:
		return models.NewOHLCVRecord(*v)
	case map[string]interface{}:
		return models.OHLCVFromMap(v)
	default:
		return models.OHLCVRecord{}, fmt.Errorf("%w: unsupported aggregate shape %T", models.ErrInvalidData, item)
	}
}

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

// Valuation histories are dropped after four hours idle; the janitor sweeps
// every fifteen minutes.
const (
	valuationTTL   = 4 * time.Hour
	valuationSweep = 15 * time.Minute
)

// FMVChannel processes fair-market-value estimates in hybrid batches,
// filtering low-confidence estimates and running the valuation analyzers.
type FMVChannel struct {
	*BaseChannel

	histories *gocache.Cache
	analyzer  *detectors.ValuationAnalyzer
	detection config.FMVConfig
}

// NewFMVChannel creates a valuation channel with the given configuration
func NewFMVChannel(name string, cfg config.ChannelConfig, logger *zap.Logger) *FMVChannel {
	fc := &FMVChannel{
		histories: gocache.New(valuationTTL, valuationSweep),
		analyzer:  detectors.NewValuationAnalyzer(cfg.Detection.FMV),
		detection: cfg.Detection.FMV,
	}
	fc.BaseChannel = newBaseChannel(name, TypeFMV, cfg, fc, logger)
	return fc
}

// TrackedSymbols returns the number of symbols with live valuation history
func (c *FMVChannel) TrackedSymbols() int { return c.histories.ItemCount() }

func (c *FMVChannel) validate(item interface{}) bool {
	switch item.(type) {
	case models.FMVRecord, *models.FMVRecord, map[string]interface{}:
		return true
	default:
		return false
	}
}

func (c *FMVChannel) process(item interface{}) *models.ProcessingResult {
	record, err := coerceFMV(item)
	if err != nil {
		return models.NewFailureResult(err.Error()).WithMeta("error_type", "invalid_data")
	}

	if record.Confidence < c.detection.ConfidenceThreshold {
		result := models.NewSuccessResult()
		result.WithMeta("ticker", record.Ticker)
		result.WithMeta("status", "filtered_low_confidence")
		result.WithMeta("confidence", record.Confidence)
		return result
	}

	hist := c.valuationHistory(record.Ticker)
	hist.Append(record)
	events := c.analyzer.Analyze(hist, record)
	c.histories.Set(record.Ticker, hist, gocache.DefaultExpiration)

	result := models.NewSuccessResult(events...)
	result.WithMeta("ticker", record.Ticker)
	result.WithMeta("fmv", record.FMV)
	result.WithMeta("deviation_percent", record.DeviationPercent)
	result.WithMeta("events_generated", len(events))
	return result
}

func (c *FMVChannel) shutdown() {
	c.histories.Flush()
}

func (c *FMVChannel) valuationHistory(ticker string) *detectors.ValuationHistory {
	if v, ok := c.histories.Get(ticker); ok {
		return v.(*detectors.ValuationHistory)
	}
	hist := detectors.NewValuationHistory(ticker)
	c.histories.Set(ticker, hist, gocache.DefaultExpiration)
	return hist
}

func coerceFMV(item interface{}) (models.FMVRecord, error) {
	switch v := item.(type) {
	case models.FMVRecord:
		return models.NewFMVRecord(v)
	case *models.FMVRecord:
		return models.NewFMVRecord(*v)
	case map[string]interface{}:
		return models.FMVFromMap(v)
	default:
		return models.FMVRecord{}, fmt.Errorf("%w: unsupported valuation shape %T", models.ErrInvalidData, item)
	}
}

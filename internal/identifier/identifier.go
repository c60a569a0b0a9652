package identifier

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/quantstream/tickcore/internal/models"
)

// DataType is the classification of an incoming datum
type DataType string

const (
	// DataTypeTick is a per-trade/per-quote tick
	DataTypeTick DataType = "tick"

	// DataTypeOHLCV is a per-period aggregate bar
	DataTypeOHLCV DataType = "ohlcv"

	// DataTypeFMV is a fair-market-value estimate
	DataTypeFMV DataType = "fmv"

	// DataTypeUnknown marks an unclassifiable item
	DataTypeUnknown DataType = "unknown"
)

// shapeCacheSize bounds the LRU of shape signatures
const shapeCacheSize = 1000

var fmvKeys = []string{"fmv", "fmv_price", "fair_market_value"}

var ohlcvKeys = []string{"open", "high", "low", "close"}

var ohlcvShortKeys = []string{"o", "h", "l", "c", "v"}

var ohlcvMinuteKeys = []string{"minute_open", "minute_high", "minute_low", "minute_close"}

// DataIdentifier classifies incoming data items into one of the supported
// kinds. Structural scans of key/value shapes are memoized in a bounded LRU
// keyed by shape signature.
type DataIdentifier struct {
	logger *zap.Logger
	cache  *lru.Cache

	hits   int64
	misses int64
}

// NewDataIdentifier creates a new identifier with a bounded shape cache
func NewDataIdentifier(logger *zap.Logger) *DataIdentifier {
	cache, _ := lru.New(shapeCacheSize)
	return &DataIdentifier{
		logger: logger,
		cache:  cache,
	}
}

// Identify classifies an item. Typed records classify by type; key/value
// shapes classify structurally, first match wins: FMV keys, then the full
// OHLCV set, then tick essentials.
func (d *DataIdentifier) Identify(item interface{}) DataType {
	switch v := item.(type) {
	case models.TickRecord, *models.TickRecord:
		return DataTypeTick
	case models.OHLCVRecord, *models.OHLCVRecord:
		return DataTypeOHLCV
	case models.FMVRecord, *models.FMVRecord:
		return DataTypeFMV
	case map[string]interface{}:
		return d.identifyMap(v)
	default:
		return DataTypeUnknown
	}
}

// IdentifyStrict classifies an item and fails when it cannot be classified
func (d *DataIdentifier) IdentifyStrict(item interface{}) (DataType, error) {
	t := d.Identify(item)
	if t == DataTypeUnknown {
		return t, fmt.Errorf("%w: unclassifiable item %T", models.ErrInvalidData, item)
	}
	return t, nil
}

// CacheStats returns hit/miss counters for the shape cache
func (d *DataIdentifier) CacheStats() (hits, misses int64) {
	return atomic.LoadInt64(&d.hits), atomic.LoadInt64(&d.misses)
}

func (d *DataIdentifier) identifyMap(m map[string]interface{}) DataType {
	sig := shapeSignature(m)
	if cached, ok := d.cache.Get(sig); ok {
		atomic.AddInt64(&d.hits, 1)
		return cached.(DataType)
	}
	atomic.AddInt64(&d.misses, 1)

	t := classifyShape(m)
	if t == DataTypeUnknown {
		d.logger.Debug("Unclassifiable data shape", zap.String("signature", sig))
	}
	d.cache.Add(sig, t)
	return t
}

func classifyShape(m map[string]interface{}) DataType {
	for _, k := range fmvKeys {
		if _, ok := m[k]; ok {
			return DataTypeFMV
		}
	}

	if hasAll(m, ohlcvKeys) || hasAll(m, ohlcvShortKeys) || hasAll(m, ohlcvMinuteKeys) {
		return DataTypeOHLCV
	}

	_, hasTicker := m["ticker"]
	if !hasTicker {
		_, hasTicker = m["sym"]
	}
	_, hasPrice := m["price"]
	if !hasPrice {
		_, hasPrice = m["p"]
	}
	_, hasTime := m["timestamp"]
	if !hasTime {
		_, hasTime = m["t"]
	}
	if hasTicker && hasPrice && hasTime {
		return DataTypeTick
	}

	return DataTypeUnknown
}

func hasAll(m map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}

// shapeSignature produces a stable key for a map shape: its sorted key tuple
func shapeSignature(m map[string]interface{}) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

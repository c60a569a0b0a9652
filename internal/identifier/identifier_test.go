package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantstream/tickcore/internal/models"
)

func TestIdentify_TypedRecords(t *testing.T) {
	ident := NewDataIdentifier(zaptest.NewLogger(t))

	assert.Equal(t, DataTypeTick, ident.Identify(models.TickRecord{Ticker: "AAPL"}))
	assert.Equal(t, DataTypeOHLCV, ident.Identify(&models.OHLCVRecord{Ticker: "AAPL"}))
	assert.Equal(t, DataTypeFMV, ident.Identify(models.FMVRecord{Ticker: "AAPL"}))
}

func TestIdentify_MapShapes(t *testing.T) {
	ident := NewDataIdentifier(zaptest.NewLogger(t))

	// FMV keys win first
	assert.Equal(t, DataTypeFMV, ident.Identify(map[string]interface{}{
		"ticker": "AAPL", "price": 150.0, "timestamp": 1.0, "fmv": 151.0,
	}))

	// full OHLCV key set
	assert.Equal(t, DataTypeOHLCV, ident.Identify(map[string]interface{}{
		"ticker": "AAPL", "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5,
	}))

	// abbreviated OHLCV key set
	assert.Equal(t, DataTypeOHLCV, ident.Identify(map[string]interface{}{
		"o": 1.0, "h": 2.0, "l": 0.5, "c": 1.5, "v": 100,
	}))

	// minute wire format
	assert.Equal(t, DataTypeOHLCV, ident.Identify(map[string]interface{}{
		"ticker": "MSFT", "time": 1.0, "minute_open": 1.0, "minute_high": 2.0,
		"minute_low": 0.5, "minute_close": 1.5, "minute_volume": 100,
	}))

	// tick essentials without OHLCV fields
	assert.Equal(t, DataTypeTick, ident.Identify(map[string]interface{}{
		"ticker": "AAPL", "price": 150.0, "timestamp": 1.0,
	}))

	// nothing recognizable
	assert.Equal(t, DataTypeUnknown, ident.Identify(map[string]interface{}{
		"foo": "bar",
	}))
	assert.Equal(t, DataTypeUnknown, ident.Identify(42))
}

func TestIdentify_Deterministic(t *testing.T) {
	ident := NewDataIdentifier(zaptest.NewLogger(t))

	shape := map[string]interface{}{"ticker": "AAPL", "price": 150.0, "timestamp": 1.0}
	first := ident.Identify(shape)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ident.Identify(shape))
	}

	// repeated shapes are served from the cache
	hits, misses := ident.CacheStats()
	assert.Equal(t, int64(10), hits)
	assert.Equal(t, int64(1), misses)
}

func TestIdentifyStrict(t *testing.T) {
	ident := NewDataIdentifier(zaptest.NewLogger(t))

	_, err := ident.IdentifyStrict(map[string]interface{}{"foo": "bar"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidData)

	dt, err := ident.IdentifyStrict(models.TickRecord{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, DataTypeTick, dt)
}

func TestShapeSignature_Stable(t *testing.T) {
	a := shapeSignature(map[string]interface{}{"b": 1, "a": 2, "c": 3})
	b := shapeSignature(map[string]interface{}{"c": 9, "a": 8, "b": 7})
	assert.Equal(t, a, b)
}

package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantstream/tickcore/internal/config"
	"github.com/quantstream/tickcore/internal/models"
)

// fakeStore records upserted rows and can be told to fail
type fakeStore struct {
	mu    sync.Mutex
	rows  [][]OHLCVRow
	fail  bool
	pings int
}

func (s *fakeStore) UpsertBatch(ctx context.Context, rows []OHLCVRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unavailable")
	}
	s.rows = append(s.rows, rows)
	return nil
}

func (s *fakeStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if s.fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) batches() [][]OHLCVRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]OHLCVRow, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *fakeStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func record(ticker string, ts, open, high, low, close float64, volume int64) models.OHLCVRecord {
	return models.OHLCVRecord{
		Ticker:    ticker,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		AvgVolume: 1,
	}
}

func writerConfig() config.PersistenceConfig {
	cfg := config.DefaultConfig().Persistence
	cfg.FlushIntervalSeconds = 1
	return cfg
}

func TestMergeRecords_SameMinute(t *testing.T) {
	// two records for the same minute fold into one row
	minute := float64(1700000040)
	rows := MergeRecords([]models.OHLCVRecord{
		record("MSFT", minute, 300, 301, 299, 300, 1000),
		record("MSFT", minute+30, 0, 302, 298, 301, 500),
	})

	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, "MSFT", row.Symbol)
	assert.Equal(t, time.Unix(1700000040, 0).UTC(), row.Timestamp)
	assert.Equal(t, 300.0, row.Open)
	assert.Equal(t, 302.0, row.High)
	assert.Equal(t, 298.0, row.Low)
	assert.Equal(t, 301.0, row.Close)
	assert.Equal(t, int64(1500), row.Volume)
}

func TestMergeRecords_FirstNonZeroOpen(t *testing.T) {
	minute := float64(1700000040)
	rows := MergeRecords([]models.OHLCVRecord{
		record("MSFT", minute, 0, 301, 299, 300, 100),
		record("MSFT", minute, 300, 301, 299, 300.5, 100),
	})
	require.Len(t, rows, 1)
	assert.Equal(t, 300.0, rows[0].Open)
}

func TestMergeRecords_IndependentOfBatching(t *testing.T) {
	// the fold over one sequence equals folding its partitions and folding
	// the partial rows again
	minute := float64(1700000040)
	seq := []models.OHLCVRecord{
		record("MSFT", minute, 300, 301, 299, 300, 1000),
		record("MSFT", minute+10, 0, 303, 297, 302, 200),
		record("MSFT", minute+20, 0, 302, 298, 301, 500),
	}

	whole := MergeRecords(seq)
	require.Len(t, whole, 1)

	firstHalf := MergeRecords(seq[:1])
	secondHalf := MergeRecords(seq[1:])
	require.Len(t, firstHalf, 1)
	require.Len(t, secondHalf, 1)

	// apply the store-side conflict rule to the two partial rows
	combined := firstHalf[0]
	excluded := secondHalf[0]
	if excluded.High > combined.High {
		combined.High = excluded.High
	}
	if excluded.Low < combined.Low {
		combined.Low = excluded.Low
	}
	combined.Close = excluded.Close
	combined.Volume += excluded.Volume

	assert.Equal(t, whole[0], combined)
}

func TestMergeRecords_DistinctKeys(t *testing.T) {
	rows := MergeRecords([]models.OHLCVRecord{
		record("MSFT", 1700000040, 300, 301, 299, 300, 100),
		record("AAPL", 1700000040, 150, 151, 149, 150, 100),
		record("MSFT", 1700000100, 301, 302, 300, 301, 100),
	})
	assert.Len(t, rows, 3)
}

func TestWriter_SubmitTruncatesToMinute(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(writerConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	require.True(t, w.Submit(record("MSFT", 1700000095, 300, 301, 299, 300, 1000)))

	assert.Eventually(t, func() bool {
		return len(store.batches()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	rows := store.batches()[0]
	require.Len(t, rows, 1)
	assert.Equal(t, time.Unix(1700000040, 0).UTC(), rows[0].Timestamp)
}

func TestWriter_QueueCapacityShedsRecords(t *testing.T) {
	cfg := writerConfig()
	cfg.QueueCapacity = 3
	store := &fakeStore{}
	w := NewWriter(cfg, store, zaptest.NewLogger(t))
	// not started: nothing drains the queue

	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Submit(record("MSFT", float64(1700000040+i*60), 300, 301, 299, 300, 100)) {
			accepted++
		}
	}
	assert.Equal(t, 3, accepted)
	assert.Equal(t, int64(7), w.Stats().Dropped)
}

func TestWriter_ErrorRequeuesAndRecovers(t *testing.T) {
	store := &fakeStore{}
	store.setFail(true)
	w := NewWriter(writerConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	require.True(t, w.Submit(record("MSFT", 1700000040, 300, 301, 299, 300, 1000)))

	assert.Eventually(t, func() bool {
		return w.Stats().Errors >= 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, w.Healthy())

	store.setFail(false)
	assert.Eventually(t, func() bool {
		return w.Stats().Persisted == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, w.Healthy())
}

func TestWriter_Stats(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(writerConfig(), store, zaptest.NewLogger(t))
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.True(t, w.Submit(record("MSFT", float64(1700000040+i*60), 300, 301, 299, 300, 100)))
	}
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.Equal(t, int64(5), stats.Queued)
	assert.Equal(t, int64(5), stats.Persisted)
	assert.GreaterOrEqual(t, stats.Batches, int64(1))
	assert.Equal(t, int64(0), stats.Errors)
}

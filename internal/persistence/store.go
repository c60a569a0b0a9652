package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantstream/tickcore/internal/config"
)

// OHLCVRow is one minute-aligned aggregate row in the time-series table.
// The primary key is (symbol, timestamp).
type OHLCVRow struct {
	Symbol    string    `gorm:"column:symbol;primaryKey"`
	Timestamp time.Time `gorm:"column:timestamp;primaryKey"`
	Open      float64   `gorm:"column:open"`
	High      float64   `gorm:"column:high"`
	Low       float64   `gorm:"column:low"`
	Close     float64   `gorm:"column:close"`
	Volume    int64     `gorm:"column:volume"`
}

// TableName maps the row to the minute aggregate table
func (OHLCVRow) TableName() string { return "ohlcv_1min" }

// Store is the durable sink for minute aggregates
type Store interface {
	// UpsertBatch writes rows transactionally, merging on conflict: high is
	// the max, low the min, close the latest writer's close and volume the
	// sum; open is unchanged.
	UpsertBatch(ctx context.Context, rows []OHLCVRow) error

	// Ping verifies connectivity
	Ping(ctx context.Context) error

	// Close releases the connection pool
	Close() error
}

// GormStore persists minute aggregates through a pooled postgres connection
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore opens the postgres connection pool and verifies connectivity
func NewGormStore(cfg config.DBConfig, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MinConnections)
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeoutSeconds)*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Time-series store connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Name))
	return &GormStore{db: db, logger: logger}, nil
}

// UpsertBatch writes rows in one transaction with the merge-on-conflict rule
func (s *GormStore) UpsertBatch(ctx context.Context, rows []OHLCVRow) error {
	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"high":   gorm.Expr("GREATEST(ohlcv_1min.high, excluded.high)"),
				"low":    gorm.Expr("LEAST(ohlcv_1min.low, excluded.low)"),
				"close":  gorm.Expr("excluded.close"),
				"volume": gorm.Expr("ohlcv_1min.volume + excluded.volume"),
			}),
		}).Create(&rows).Error
	})
}

// Ping verifies connectivity through the pool
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

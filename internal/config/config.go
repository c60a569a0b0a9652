package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the application configuration for the processing core
type Config struct {
	// Logging configuration
	Log LogConfig `mapstructure:"log"`

	// Operational HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Router configuration
	Router RouterConfig `mapstructure:"router"`

	// Per-channel configuration
	Channels ChannelsConfig `mapstructure:"channels"`

	// OHLCV persistence configuration
	Persistence PersistenceConfig `mapstructure:"persistence"`

	// Monitor configuration
	Monitor MonitorConfig `mapstructure:"monitor"`
}

// LogConfig controls the zap logger and optional rotating file sink
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMb  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// ServerConfig controls the operational HTTP surface
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// RouterConfig controls routing behavior
type RouterConfig struct {
	RoutingStrategy              string `mapstructure:"routing_strategy" validate:"oneof=round_robin least_load consistent_hash health_score"`
	RoutingTimeoutMs             int    `mapstructure:"routing_timeout_ms" validate:"gt=0"`
	EnableFallbackRouting        bool   `mapstructure:"enable_fallback_routing"`
	CircuitBreakerThreshold      int    `mapstructure:"circuit_breaker_threshold" validate:"gt=0"`
	CircuitBreakerTimeoutSeconds int    `mapstructure:"circuit_breaker_timeout_seconds" validate:"gt=0"`
	HealthCheckIntervalSeconds   int    `mapstructure:"health_check_interval_seconds" validate:"gt=0"`
}

// ChannelsConfig groups the per-type channel configurations
type ChannelsConfig struct {
	Tick  ChannelConfig `mapstructure:"tick"`
	OHLCV ChannelConfig `mapstructure:"ohlcv"`
	FMV   ChannelConfig `mapstructure:"fmv"`
}

// ChannelConfig controls one processing channel
type ChannelConfig struct {
	Enabled                      bool    `mapstructure:"enabled"`
	Priority                     int     `mapstructure:"priority"`
	MaxQueueSize                 int     `mapstructure:"max_queue_size" validate:"gt=0"`
	ProcessingTimeoutMs          int     `mapstructure:"processing_timeout_ms" validate:"gt=0"`
	MaxConcurrentProcessing      int     `mapstructure:"max_concurrent_processing" validate:"gt=0"`
	CircuitBreakerThreshold      int     `mapstructure:"circuit_breaker_threshold" validate:"gt=0"`
	CircuitBreakerTimeoutSeconds int     `mapstructure:"circuit_breaker_timeout_seconds" validate:"gt=0"`
	ErrorThreshold               float64 `mapstructure:"error_threshold" validate:"gte=0,lte=1"`
	RetryAttempts                int     `mapstructure:"retry_attempts"`
	RetryDelayMs                 int     `mapstructure:"retry_delay_ms"`

	Batching  BatchingConfig  `mapstructure:"batching"`
	Detection DetectionConfig `mapstructure:"detection"`
}

// BatchingConfig controls the channel batching policy
type BatchingConfig struct {
	Strategy       string `mapstructure:"strategy" validate:"oneof=immediate size_based time_based hybrid"`
	MaxBatchSize   int    `mapstructure:"max_batch_size" validate:"gt=0"`
	MaxWaitTimeMs  int    `mapstructure:"max_wait_time_ms" validate:"gt=0"`
	OverflowAction string `mapstructure:"overflow_action" validate:"oneof=drop_oldest reject_new"`
}

// DetectionConfig groups the per-detector parameters
type DetectionConfig struct {
	HighLow HighLowConfig `mapstructure:"high_low"`
	Trend   TrendConfig   `mapstructure:"trend"`
	Surge   SurgeConfig   `mapstructure:"surge"`
	OHLCV   OHLCVConfig   `mapstructure:"ohlcv"`
	FMV     FMVConfig     `mapstructure:"fmv"`
}

// HighLowConfig parameterizes the session high/low detector
type HighLowConfig struct {
	MinPriceChange          float64 `mapstructure:"min_price_change"`
	MinPercentChange        float64 `mapstructure:"min_percent_change"`
	CooldownSeconds         float64 `mapstructure:"cooldown_seconds"`
	MarketAware             bool    `mapstructure:"market_aware"`
	ExtendedHoursMultiplier float64 `mapstructure:"extended_hours_multiplier"`
	OpeningMultiplier       float64 `mapstructure:"opening_multiplier"`
}

// TrendConfig parameterizes the trend detector
type TrendConfig struct {
	WindowSize           int     `mapstructure:"window_size"`
	WarmupSeconds        float64 `mapstructure:"warmup_seconds"`
	DirectionThreshold   float64 `mapstructure:"direction_threshold"`
	StrengthThreshold    float64 `mapstructure:"strength_threshold"`
	GlobalSensitivity    float64 `mapstructure:"global_sensitivity"`
	RetracementThreshold float64 `mapstructure:"retracement_threshold"`
}

// SurgeConfig parameterizes the volume/price surge detector
type SurgeConfig struct {
	VolumeThreshold       float64 `mapstructure:"volume_threshold"`
	PriceThresholdPercent float64 `mapstructure:"price_threshold_percent"`
	IntervalSeconds       float64 `mapstructure:"interval_seconds"`
	GlobalSensitivity     float64 `mapstructure:"global_sensitivity"`
	MinDataPoints         int     `mapstructure:"min_data_points"`
}

// OHLCVConfig parameterizes the aggregate analyzers
type OHLCVConfig struct {
	VolumeSurgeMultiplier    float64 `mapstructure:"volume_surge_multiplier"`
	SignificantMoveThreshold float64 `mapstructure:"significant_move_threshold"`
}

// FMVConfig parameterizes the valuation analyzers
type FMVConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	DeviationThreshold  float64 `mapstructure:"deviation_threshold"`
}

// PersistenceConfig controls the OHLCV persistence layer
type PersistenceConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	BatchSize            int      `mapstructure:"batch_size" validate:"gt=0"`
	FlushIntervalSeconds int      `mapstructure:"flush_interval_seconds" validate:"gt=0"`
	QueueCapacity        int      `mapstructure:"queue_capacity" validate:"gt=0"`
	Database             DBConfig `mapstructure:"database"`
}

// DBConfig holds time-series store connection parameters
type DBConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	Password              string `mapstructure:"password"`
	Name                  string `mapstructure:"name"`
	SSLMode               string `mapstructure:"sslmode"`
	MinConnections        int    `mapstructure:"min_connections"`
	MaxConnections        int    `mapstructure:"max_connections"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

// DSN builds the postgres connection string
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.ConnectTimeoutSeconds,
	)
}

// MonitorConfig controls health sampling and alerting
type MonitorConfig struct {
	SampleIntervalSeconds int     `mapstructure:"sample_interval_seconds" validate:"gt=0"`
	AlertCooldownSeconds  float64 `mapstructure:"alert_cooldown_seconds"`
	AlertHistoryHours     int     `mapstructure:"alert_history_hours" validate:"gt=0"`

	MaxLatencyMs        float64 `mapstructure:"max_latency_ms"`
	MinSuccessRate      float64 `mapstructure:"min_success_rate"`
	MaxMemoryGb         float64 `mapstructure:"max_memory_gb"`
	MaxQueueUtilization float64 `mapstructure:"max_queue_utilization"`
	MaxErrorRate        float64 `mapstructure:"max_error_rate"`
	MaxProcessingMs     float64 `mapstructure:"max_processing_ms"`
}

// LoadConfig loads configuration from the given path, falling back to
// defaults. A TICKCORE_-prefixed environment variable named after the
// upper-cased dotted key overrides a value only for keys present in the
// config file; without a file the defaults are used as they are.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tickcore")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TICKCORE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: defaults only
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration with all documented defaults set
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMb = 100
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 14

	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8090

	cfg.Router.RoutingStrategy = "health_score"
	cfg.Router.RoutingTimeoutMs = 50
	cfg.Router.EnableFallbackRouting = true
	cfg.Router.CircuitBreakerThreshold = 10
	cfg.Router.CircuitBreakerTimeoutSeconds = 60
	cfg.Router.HealthCheckIntervalSeconds = 30

	cfg.Channels.Tick = DefaultTickChannelConfig()
	cfg.Channels.OHLCV = DefaultOHLCVChannelConfig()
	cfg.Channels.FMV = DefaultFMVChannelConfig()

	cfg.Persistence.Enabled = true
	cfg.Persistence.BatchSize = 100
	cfg.Persistence.FlushIntervalSeconds = 5
	cfg.Persistence.QueueCapacity = 1000
	cfg.Persistence.Database = DBConfig{
		Host:                  "localhost",
		Port:                  5432,
		User:                  "postgres",
		Name:                  "tickcore",
		SSLMode:               "disable",
		MinConnections:        1,
		MaxConnections:        5,
		ConnectTimeoutSeconds: 10,
	}

	cfg.Monitor.SampleIntervalSeconds = 10
	cfg.Monitor.AlertCooldownSeconds = 300
	cfg.Monitor.AlertHistoryHours = 24
	cfg.Monitor.MaxLatencyMs = 50
	cfg.Monitor.MinSuccessRate = 0.95
	cfg.Monitor.MaxMemoryGb = 2.0
	cfg.Monitor.MaxQueueUtilization = 0.80
	cfg.Monitor.MaxErrorRate = 0.05
	cfg.Monitor.MaxProcessingMs = 100

	return cfg
}

func defaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Enabled:                      true,
		Priority:                     1,
		MaxQueueSize:                 1000,
		ProcessingTimeoutMs:          100,
		MaxConcurrentProcessing:      4,
		CircuitBreakerThreshold:      5,
		CircuitBreakerTimeoutSeconds: 60,
		ErrorThreshold:               0.10,
		RetryAttempts:                1,
		RetryDelayMs:                 50,
		Detection: DetectionConfig{
			HighLow: HighLowConfig{
				MinPriceChange:          0.01,
				MinPercentChange:        0.1,
				CooldownSeconds:         1,
				MarketAware:             true,
				ExtendedHoursMultiplier: 2.0,
				OpeningMultiplier:       1.5,
			},
			Trend: TrendConfig{
				WindowSize:           8,
				WarmupSeconds:        90,
				DirectionThreshold:   0.025,
				StrengthThreshold:    0.05,
				GlobalSensitivity:    1.5,
				RetracementThreshold: 0.25,
			},
			Surge: SurgeConfig{
				VolumeThreshold:       3.0,
				PriceThresholdPercent: 4.0,
				IntervalSeconds:       20,
				GlobalSensitivity:     0.4,
				MinDataPoints:         8,
			},
			OHLCV: OHLCVConfig{
				VolumeSurgeMultiplier:    3.0,
				SignificantMoveThreshold: 2.0,
			},
			FMV: FMVConfig{
				ConfidenceThreshold: 0.8,
				DeviationThreshold:  1.0,
			},
		},
	}
}

// DefaultTickChannelConfig returns the tick channel defaults (immediate
// processing, no batching)
func DefaultTickChannelConfig() ChannelConfig {
	cfg := defaultChannelConfig()
	cfg.Batching = BatchingConfig{
		Strategy:       "immediate",
		MaxBatchSize:   1,
		MaxWaitTimeMs:  1,
		OverflowAction: "reject_new",
	}
	return cfg
}

// DefaultOHLCVChannelConfig returns the aggregate channel defaults
// (size-based batching)
func DefaultOHLCVChannelConfig() ChannelConfig {
	cfg := defaultChannelConfig()
	cfg.Batching = BatchingConfig{
		Strategy:       "size_based",
		MaxBatchSize:   100,
		MaxWaitTimeMs:  100,
		OverflowAction: "reject_new",
	}
	return cfg
}

// DefaultFMVChannelConfig returns the valuation channel defaults (hybrid
// batching)
func DefaultFMVChannelConfig() ChannelConfig {
	cfg := defaultChannelConfig()
	cfg.Batching = BatchingConfig{
		Strategy:       "hybrid",
		MaxBatchSize:   50,
		MaxWaitTimeMs:  500,
		OverflowAction: "reject_new",
	}
	return cfg
}

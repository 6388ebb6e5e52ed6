package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tradewatch/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App          AppConfig          `yaml:"app"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Thresholds   ThresholdsConfig   `yaml:"thresholds"`
	Trade        TradeConfig        `yaml:"trade"`
	Notification NotificationConfig `yaml:"notification"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Server       ServerConfig       `yaml:"server"`
	JWT          JWTConfig          `yaml:"jwt"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Export       ExportConfig       `yaml:"export"`
	Logging      logger.Config      `yaml:"logging"`
}

// AppConfig represents application configuration
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" validate:"oneof=development test staging production"`
}

// MonitorConfig controls the periodic loops and retention windows
type MonitorConfig struct {
	CheckInterval        time.Duration `yaml:"check_interval" validate:"gt=0"`
	MetricsInterval      time.Duration `yaml:"metrics_interval" validate:"gt=0"`
	TradeInterval        time.Duration `yaml:"trade_interval" validate:"gt=0"`
	CheckTimeout         time.Duration `yaml:"check_timeout" validate:"gt=0"`
	SampleTimeout        time.Duration `yaml:"sample_timeout" validate:"gt=0"`
	MetricsRetentionDays int           `yaml:"metrics_retention_days" validate:"gt=0"`
	AlertRetentionDays   int           `yaml:"alert_retention_days" validate:"gt=0"`
	MaxMetricsEntries    int           `yaml:"max_metrics_entries" validate:"gt=0"`
	MaxAlertHistory      int           `yaml:"max_alert_history" validate:"gt=0"`
	PruneSchedule        string        `yaml:"prune_schedule" validate:"required"`
	DailyResetSchedule   string        `yaml:"daily_reset_schedule" validate:"required"`
	PersistSchedule      string        `yaml:"persist_schedule"`
	// HTTPChecks maps component names to URLs probed with GET
	HTTPChecks map[string]string `yaml:"http_checks" validate:"dive,url"`
}

// ThresholdsConfig holds the three named-threshold maps
type ThresholdsConfig struct {
	System      map[string]float64 `yaml:"system"`
	Risk        map[string]float64 `yaml:"risk"`
	Performance map[string]float64 `yaml:"performance"`
}

// TradeConfig controls the trade metrics computations
type TradeConfig struct {
	HistorySize          int     `yaml:"history_size" validate:"gt=0"`
	EventLogSize         int     `yaml:"event_log_size" validate:"gt=0"`
	VaRConfidence        float64 `yaml:"var_confidence" validate:"gt=0,lt=1"`
	VaRWindow            int     `yaml:"var_window" validate:"gt=0"`
	VaRMinSamples        int     `yaml:"var_min_samples" validate:"gt=0"`
	AnnualizationFactor  float64 `yaml:"annualization_factor" validate:"gt=0"`
	AccountEquity        float64 `yaml:"account_equity" validate:"gte=0"`
	MinTradesForAnalysis int     `yaml:"min_trades_for_analysis" validate:"gte=0"`
}

// NotificationConfig controls the dispatcher and the built-in channels
type NotificationConfig struct {
	Workers        int           `yaml:"workers" validate:"gt=0"`
	QueueSize      int           `yaml:"queue_size" validate:"gt=0"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" validate:"gt=0"`
	RateLimit      float64       `yaml:"rate_limit" validate:"gte=0"` // events per second per handler, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst" validate:"gte=0"`
	MinLevel       string        `yaml:"min_level"`
	Webhooks       []string      `yaml:"webhooks"`
	RedisChannel   string        `yaml:"redis_channel"`
	Email          EmailConfig   `yaml:"email"`
}

// EmailConfig configures the SES email channel
type EmailConfig struct {
	Enabled bool     `yaml:"enabled"`
	Region  string   `yaml:"region"`
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
}

// RecoveryConfig configures retry and circuit breaking for recovery handlers
type RecoveryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" validate:"gt=0"`
	InitialBackoff   time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	MaxBackoff       time.Duration `yaml:"max_backoff" validate:"gte=0"`
	Multiplier       float64       `yaml:"multiplier" validate:"gte=1"`
	Jitter           float64       `yaml:"jitter" validate:"gte=0,lte=1"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
	BreakerFailures  uint32        `yaml:"breaker_failures" validate:"gt=0"`
	BreakerOpenTime  time.Duration `yaml:"breaker_open_time" validate:"gt=0"`
	MaxHistoryPerKey int           `yaml:"max_history_per_key" validate:"gt=0"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" validate:"gt=0"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" validate:"gt=0"`
	MetricsPath    string        `yaml:"metrics_path" validate:"startswith=/"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SecretKey string        `yaml:"secret_key"`
	Issuer    string        `yaml:"issuer"`
	Duration  time.Duration `yaml:"duration"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpen         int           `yaml:"max_open"`
	MaxIdle         int           `yaml:"max_idle"`
	Timeout         time.Duration `yaml:"timeout"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode, int(d.Timeout.Seconds()))
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	KeyTTL   time.Duration `yaml:"key_ttl"`
	// ExecutionsChannel, when set, is a pub/sub channel of JSON executions
	ExecutionsChannel string `yaml:"executions_channel"`
}

// ExportConfig controls exportMetrics destinations
type ExportConfig struct {
	Region string `yaml:"region"`
	// Dir holds local exports; local destinations are relative to it
	Dir string `yaml:"dir" validate:"required"`
}

// Default returns a configuration populated with production defaults
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "tradewatch",
			Version:     "1.0.0",
			Environment: "development",
		},
		Monitor: MonitorConfig{
			CheckInterval:        30 * time.Second,
			MetricsInterval:      30 * time.Second,
			TradeInterval:        30 * time.Second,
			CheckTimeout:         10 * time.Second,
			SampleTimeout:        5 * time.Second,
			MetricsRetentionDays: 7,
			AlertRetentionDays:   30,
			MaxMetricsEntries:    20160,
			MaxAlertHistory:      10000,
			PruneSchedule:        "0 0 * * * *",
			DailyResetSchedule:   "0 0 0 * * *",
			PersistSchedule:      "0 */5 * * * *",
		},
		Thresholds: ThresholdsConfig{
			System:      DefaultSystemThresholds(),
			Risk:        DefaultRiskThresholds(),
			Performance: DefaultPerformanceThresholds(),
		},
		Trade: TradeConfig{
			HistorySize:          1000,
			EventLogSize:         1000,
			VaRConfidence:        0.95,
			VaRWindow:            100,
			VaRMinSamples:        30,
			AnnualizationFactor:  252,
			MinTradesForAnalysis: 10,
		},
		Notification: NotificationConfig{
			Workers:        4,
			QueueSize:      256,
			HandlerTimeout: 10 * time.Second,
			RateBurst:      1,
			MinLevel:       "INFO",
		},
		Recovery: RecoveryConfig{
			MaxAttempts:      3,
			InitialBackoff:   time.Second,
			MaxBackoff:       30 * time.Second,
			Multiplier:       2,
			Jitter:           0.1,
			AttemptTimeout:   30 * time.Second,
			BreakerFailures:  5,
			BreakerOpenTime:  time.Minute,
			MaxHistoryPerKey: 100,
		},
		Server: ServerConfig{
			Enabled:        true,
			Port:           8090,
			Host:           "0.0.0.0",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxHeaderBytes: 1 << 20,
			MetricsPath:    "/metrics",
		},
		JWT: JWTConfig{
			Issuer:   "tradewatch",
			Duration: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "tradewatch",
			SSLMode:         "disable",
			MaxOpen:         10,
			MaxIdle:         5,
			Timeout:         5 * time.Second,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			KeyTTL:   10 * time.Minute,
		},
		Export: ExportConfig{
			Dir: "exports",
		},
		Logging: logger.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file on top of Default
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default and fills missing threshold keys
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.Thresholds.System = mergeDefaults(config.Thresholds.System, DefaultSystemThresholds())
	config.Thresholds.Risk = mergeDefaults(config.Thresholds.Risk, DefaultRiskThresholds())
	config.Thresholds.Performance = mergeDefaults(config.Thresholds.Performance, DefaultPerformanceThresholds())
	return config, nil
}

// LoadWithEnv loads the file, applies environment overrides and validates
func LoadWithEnv(filename string, env *EnvManager) (*Config, error) {
	var (
		config *Config
		err    error
	)
	if filename == "" {
		config = Default()
	} else if config, err = Load(filename); err != nil {
		return nil, err
	}
	if env == nil {
		env = NewEnvManager("", "")
	}
	env.Apply(config)
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func mergeDefaults(values, defaults map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}

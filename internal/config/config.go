package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rish2jain/consultantOS-sub009/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	TimeSeries  TimeSeriesConfig  `mapstructure:"timeseries"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Detector    DetectorConfig    `mapstructure:"detector"`
	Changes     ChangesConfig     `mapstructure:"changes"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the check and maintenance cadence.
type SchedulerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	AlignToBucket       bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey     int64         `mapstructure:"advisory_lock_key"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
	MaxParallelChecks   int           `mapstructure:"max_parallel_checks"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// RunnerConfig covers the external analysis runner.
type RunnerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// TimeSeriesConfig tunes snapshot storage.
type TimeSeriesConfig struct {
	CompressionThreshold int           `mapstructure:"compression_threshold"`
	BatchSize            int           `mapstructure:"batch_size"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	PageSize             int           `mapstructure:"page_size"`
	HistoryDays          int           `mapstructure:"history_days"`
	RetentionDays        int           `mapstructure:"retention_days"`
}

// AggregationConfig tunes rollups.
type AggregationConfig struct {
	SignificantChangePct float64 `mapstructure:"significant_change_pct"`
	TrendEpsilon         float64 `mapstructure:"trend_epsilon"`
	MovingAverageWindow  int     `mapstructure:"moving_average_window"`
	TopTrends            int     `mapstructure:"top_trends"`
}

// DetectorConfig tunes anomaly detection.
type DetectorConfig struct {
	Sensitivity        string        `mapstructure:"sensitivity"`
	MinPoints          int           `mapstructure:"min_points"`
	MaxModelAge        time.Duration `mapstructure:"max_model_age"`
	MaxGap             time.Duration `mapstructure:"max_gap"`
	RecentWindowDays   int           `mapstructure:"recent_window_days"`
	BaselineWindowDays int           `mapstructure:"baseline_window_days"`
	VolatilityRatio    float64       `mapstructure:"volatility_ratio"`
}

// ChangesConfig tunes rule-based diffing.
type ChangesConfig struct {
	ThresholdPct float64           `mapstructure:"threshold_pct"`
	Categories   map[string]string `mapstructure:"categories"`
}

// AlertingConfig defines scoring, throttling and routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	DefaultThreshold float64        `mapstructure:"default_threshold"`
	Channels         []string       `mapstructure:"channels"`
	RatePerSecond    float64        `mapstructure:"rate_per_second"`
	RetryAttempts    int            `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration  `mapstructure:"retry_delay"`
	DailyCap         int            `mapstructure:"daily_cap"`
	Throttle         ThrottleConfig `mapstructure:"throttle"`
	Weights          WeightsConfig  `mapstructure:"weights"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	Kafka            KafkaConfig    `mapstructure:"kafka"`
}

// ThrottleConfig is the minimum interval between notified alerts per urgency.
type ThrottleConfig struct {
	Critical time.Duration `mapstructure:"critical"`
	High     time.Duration `mapstructure:"high"`
	Medium   time.Duration `mapstructure:"medium"`
	Low      time.Duration `mapstructure:"low"`
}

// WeightsConfig are the static scoring weights.
type WeightsConfig struct {
	Anomaly    float64 `mapstructure:"anomaly"`
	Change     float64 `mapstructure:"change"`
	Importance float64 `mapstructure:"importance"`
	Priority   float64 `mapstructure:"priority"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig 描述 Kafka 告警主题。
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig exposes Prometheus metrics when Listen is set.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(os.Getenv("INTELMON_APP_ENV_FILE")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("INTELMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from a .env file. Variables
// already set win over the file.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// envOnlyKeys have no default, so AutomaticEnv alone would not surface them
// during Unmarshal.
var envOnlyKeys = []string{
	"database.dsn",
	"runner.base_url",
	"runner.api_key",
	"alerting.telegram.bot_token",
	"alerting.telegram.chat_id",
	"alerting.kafka.brokers",
	"metrics.listen",
	"logging.file.path",
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "intelmon")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 28)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "data/intelmon.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x696e746c))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_parallel_checks", 8)
	v.SetDefault("scheduler.maintenance_interval", "1h")

	v.SetDefault("runner.request_timeout", "2m")
	v.SetDefault("runner.user_agent", "intelmon/1.0")

	v.SetDefault("timeseries.compression_threshold", 1024)
	v.SetDefault("timeseries.batch_size", 50)
	v.SetDefault("timeseries.cache_ttl", "300s")
	v.SetDefault("timeseries.page_size", 100)
	v.SetDefault("timeseries.history_days", 30)
	v.SetDefault("timeseries.retention_days", 90)

	v.SetDefault("aggregation.significant_change_pct", 10.0)
	v.SetDefault("aggregation.trend_epsilon", 0.01)
	v.SetDefault("aggregation.moving_average_window", 3)
	v.SetDefault("aggregation.top_trends", 5)

	v.SetDefault("detector.sensitivity", "balanced")
	v.SetDefault("detector.min_points", 14)
	v.SetDefault("detector.max_model_age", "24h")
	v.SetDefault("detector.max_gap", "168h")
	v.SetDefault("detector.recent_window_days", 7)
	v.SetDefault("detector.baseline_window_days", 30)
	v.SetDefault("detector.volatility_ratio", 2.0)

	v.SetDefault("changes.threshold_pct", 5.0)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.default_threshold", 0.7)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.rate_per_second", 1.0)
	v.SetDefault("alerting.retry_attempts", 3)
	v.SetDefault("alerting.retry_delay", "2s")
	v.SetDefault("alerting.daily_cap", 5)
	v.SetDefault("alerting.throttle.critical", "1h")
	v.SetDefault("alerting.throttle.high", "4h")
	v.SetDefault("alerting.throttle.medium", "4h")
	v.SetDefault("alerting.throttle.low", "24h")
	v.SetDefault("alerting.weights.anomaly", 0.4)
	v.SetDefault("alerting.weights.change", 0.3)
	v.SetDefault("alerting.weights.importance", 0.2)
	v.SetDefault("alerting.weights.priority", 0.1)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.topic", "intelmon.alerts")
	v.SetDefault("alerting.kafka.write_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres; got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("postgres 驱动需要配置 database.dsn")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaintenanceInterval <= 0 {
		return fmt.Errorf("scheduler.maintenance_interval must be greater than zero")
	}
	if c.TimeSeries.PageSize <= 0 || c.TimeSeries.BatchSize <= 0 {
		return fmt.Errorf("timeseries.page_size and timeseries.batch_size must be greater than zero")
	}
	if c.TimeSeries.HistoryDays <= 0 {
		return fmt.Errorf("timeseries.history_days must be greater than zero")
	}
	switch c.Detector.Sensitivity {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("detector.sensitivity must be conservative, balanced or aggressive; got %q", c.Detector.Sensitivity)
	}
	if c.Alerting.DefaultThreshold < 0 || c.Alerting.DefaultThreshold > 1 {
		return fmt.Errorf("alerting.default_threshold must be within [0,1]")
	}
	if c.Alerting.DailyCap <= 0 {
		return fmt.Errorf("alerting.daily_cap must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Kafka.Enabled && (len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "") {
		return fmt.Errorf("alerting.kafka.brokers 与 alerting.kafka.topic 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

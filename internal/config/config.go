package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tuscoin/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Local     LocalConfig     `mapstructure:"local"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Server    ServerConfig    `mapstructure:"server"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LocalConfig points at the on-disk key-value store.
type LocalConfig struct {
	Path string `mapstructure:"path"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// Enabled reports whether an archive DSN is set.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// SchedulerConfig governs the price tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	FireImmediately bool          `mapstructure:"fire_immediately"`
}

// OracleConfig shapes the random walk.
type OracleConfig struct {
	InitialPrice  float64 `mapstructure:"initial_price"`
	MinPrice      float64 `mapstructure:"min_price"`
	MaxPrice      float64 `mapstructure:"max_price"`
	MaxStep       float64 `mapstructure:"max_step"`
	RetentionDays int     `mapstructure:"retention_days"`
	LegacyDays    int     `mapstructure:"legacy_days"`
}

// RatesConfig holds the fabricated crypto ratios.
type RatesConfig struct {
	BTCPerCoin string `mapstructure:"btc_per_coin"`
	ETHPerCoin string `mapstructure:"eth_per_coin"`
}

// RemoteConfig points at the account service.
type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

// Enabled reports whether an account service is configured.
func (r RemoteConfig) Enabled() bool {
	return r.BaseURL != ""
}

// ServerConfig configures the HTTP API and the websocket stream.
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	StreamAddr   string   `mapstructure:"stream_addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// KafkaConfig configures event fan-out.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Enabled reports whether brokers are configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// AlertingConfig defines price-move thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Window       time.Duration  `mapstructure:"window"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TUSCOIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tuscoin")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("local.path", "data/tuscoin.db")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x54555343))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.fire_immediately", true)

	v.SetDefault("oracle.initial_price", 15.0)
	v.SetDefault("oracle.min_price", 5.0)
	v.SetDefault("oracle.max_price", 25.0)
	v.SetDefault("oracle.max_step", 0.5)
	v.SetDefault("oracle.retention_days", 90)
	v.SetDefault("oracle.legacy_days", 7)

	v.SetDefault("rates.btc_per_coin", "0.0000012")
	v.SetDefault("rates.eth_per_coin", "0.000018")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", "10s")
	v.SetDefault("remote.sync_timeout", "15s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.stream_addr", ":8081")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "tuscoin.events")
	v.SetDefault("kafka.write_timeout", "5s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.window", "1h")
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

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
	if c.Local.Path == "" {
		return fmt.Errorf("local.path is required")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Oracle.MinPrice <= 0 || c.Oracle.MaxPrice <= c.Oracle.MinPrice {
		return fmt.Errorf("oracle price bounds invalid: min %.2f max %.2f", c.Oracle.MinPrice, c.Oracle.MaxPrice)
	}
	if c.Oracle.InitialPrice < c.Oracle.MinPrice || c.Oracle.InitialPrice > c.Oracle.MaxPrice {
		return fmt.Errorf("oracle.initial_price must lie within [min_price, max_price]")
	}
	if c.Oracle.MaxStep <= 0 {
		return fmt.Errorf("oracle.max_step must be greater than zero")
	}
	if c.Oracle.RetentionDays <= 0 || c.Oracle.LegacyDays <= 0 || c.Oracle.LegacyDays > c.Oracle.RetentionDays {
		return fmt.Errorf("oracle.retention_days and oracle.legacy_days must be positive with legacy_days <= retention_days")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
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

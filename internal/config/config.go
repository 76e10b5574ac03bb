package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Events   EventsConfig   `mapstructure:"events"`
	Price    PriceConfig    `mapstructure:"price"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EventsConfig holds the detection command and polling configuration
type EventsConfig struct {
	Target       string        `mapstructure:"target"`
	Command      string        `mapstructure:"command"` // placeholders: {user}, {date}, {limit}
	Limit        int           `mapstructure:"limit"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	InitialSkew  time.Duration `mapstructure:"initial_skew"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// PriceConfig holds the market data endpoint configuration
type PriceConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TrackingConfig holds per-session sampling configuration
type TrackingConfig struct {
	SampleCount    int           `mapstructure:"sample_count"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	MaxSessions    int           `mapstructure:"max_sessions"` // 0 = unbounded
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds outcome history persistence configuration
type StorageConfig struct {
	DBPath         string `mapstructure:"db_path"`
	MaxRecords     int    `mapstructure:"max_records"`
	RestoreHistory bool   `mapstructure:"restore_history"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory, if present, is loaded first.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// EVENTDRIFT_TRACKING_SAMPLE_COUNT overrides tracking.sample_count
	v.SetEnvPrefix("EVENTDRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv exports the variables in path. A missing file is not an error;
// a malformed one is.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Events defaults
	v.SetDefault("events.target", "RunzeHao")
	v.SetDefault("events.command", "./twint -u {user} --since {date} --limit {limit}")
	v.SetDefault("events.limit", 1)
	v.SetDefault("events.poll_interval", "30s")
	v.SetDefault("events.initial_skew", "2m")
	v.SetDefault("events.timeout", "2m")

	// Price defaults
	v.SetDefault("price.url", "https://api.huobi.pro/market/detail/merged?symbol=btcusdt")
	v.SetDefault("price.timeout", "10s")

	// Tracking defaults
	v.SetDefault("tracking.sample_count", 10)
	v.SetDefault("tracking.sample_interval", "30s")
	v.SetDefault("tracking.max_sessions", 0)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/eventdrift.db")
	v.SetDefault("storage.max_records", 10000)
	v.SetDefault("storage.restore_history", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Events config
	if c.Events.Target == "" {
		return fmt.Errorf("events.target is required")
	}
	if c.Events.Command == "" {
		return fmt.Errorf("events.command is required")
	}
	if c.Events.Limit < 1 {
		return fmt.Errorf("events.limit must be at least 1")
	}
	if c.Events.PollInterval < time.Second {
		return fmt.Errorf("events.poll_interval must be at least 1 second")
	}
	if c.Events.InitialSkew < 0 {
		return fmt.Errorf("events.initial_skew must not be negative")
	}
	if c.Events.Timeout <= 0 {
		return fmt.Errorf("events.timeout must be positive")
	}

	// Validate Price config
	if c.Price.URL == "" {
		return fmt.Errorf("price.url is required")
	}
	if u, err := url.Parse(c.Price.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("price.url must be an absolute URL")
	}
	if c.Price.Timeout <= 0 {
		return fmt.Errorf("price.timeout must be positive")
	}

	// Validate Tracking config
	if c.Tracking.SampleCount < 1 {
		return fmt.Errorf("tracking.sample_count must be at least 1")
	}
	if c.Tracking.SampleInterval <= 0 {
		return fmt.Errorf("tracking.sample_interval must be positive")
	}
	if c.Tracking.MaxSessions < 0 {
		return fmt.Errorf("tracking.max_sessions must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.MaxRecords < 1 {
		return fmt.Errorf("storage.max_records must be at least 1")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

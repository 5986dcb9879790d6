package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"kolmowatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the daily run.
type SchedulerConfig struct {
	RunAt           string        `mapstructure:"run_at"` // wall-clock HH:MM, UTC
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ProvidersConfig sets the fallback order and per-provider settings.
type ProvidersConfig struct {
	Order       []string          `mapstructure:"order"`
	Frankfurter FrankfurterConfig `mapstructure:"frankfurter"`
	CBR         CBRConfig         `mapstructure:"cbr"`
	TwelveData  TwelveDataConfig  `mapstructure:"twelvedata"`
}

// FrankfurterConfig captures primary provider connectivity.
type FrankfurterConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CBRConfig captures Bank of Russia connectivity.
type CBRConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// TwelveDataConfig captures the API-key provider connectivity.
type TwelveDataConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// FetchConfig governs concurrent backfill acquisition.
type FetchConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	BatchPause time.Duration `mapstructure:"batch_pause"`
}

// AlertingConfig defines state-change alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
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
	Dir           string `mapstructure:"dir"`
	MaxDataPoints int    `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KOLMOWATCH")
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
	v.SetDefault("app.name", "kolmowatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.run_at", "16:30")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6b6f6c6d))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("providers.order", []string{"frankfurter", "cbr", "twelvedata"})
	v.SetDefault("providers.frankfurter.base_url", "https://api.frankfurter.dev")
	v.SetDefault("providers.frankfurter.request_timeout", "10s")
	v.SetDefault("providers.frankfurter.user_agent", "kolmowatch/1.0")
	v.SetDefault("providers.cbr.base_url", "https://www.cbr.ru/scripts/XML_daily.asp")
	v.SetDefault("providers.cbr.request_timeout", "10s")
	v.SetDefault("providers.cbr.user_agent", "kolmowatch/1.0")
	v.SetDefault("providers.twelvedata.base_url", "https://api.twelvedata.com")
	v.SetDefault("providers.twelvedata.request_timeout", "15s")
	v.SetDefault("providers.twelvedata.user_agent", "kolmowatch/1.0")

	v.SetDefault("fetch.batch_size", 5)
	v.SetDefault("fetch.batch_pause", "2s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.dir", "export")
	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// knownProviders guards against typos in providers.order.
var knownProviders = map[string]struct{}{
	"frankfurter": {},
	"cbr":         {},
	"twelvedata":  {},
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := ParseRunAt(c.Scheduler.RunAt); err != nil {
		return err
	}
	if len(c.Providers.Order) == 0 {
		return fmt.Errorf("providers.order must list at least one provider")
	}
	for _, name := range c.Providers.Order {
		if _, ok := knownProviders[name]; !ok {
			return fmt.Errorf("providers.order: unknown provider %q", name)
		}
	}
	if c.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be greater than zero")
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

// ParseRunAt parses a HH:MM wall-clock string into hour and minute.
func ParseRunAt(s string) (time.Duration, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("scheduler.run_at must be HH:MM: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("scheduler.run_at out of range: %s", s)
	}
	return time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"mortgage-rate-alerts/internal/logging"
)

// Notification methods supported by the notify section.
const (
	MethodEmail    = "email"
	MethodTelegram = "telegram"
)

// KnownSources lists every rate source the fetcher can construct.
var KnownSources = []string{"fred", "bankrate", "mortgage_news_daily", "freddiemac"}

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Data      DataConfig      `mapstructure:"data"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// AlertConfig holds the threshold the whole system revolves around.
type AlertConfig struct {
	TargetRate  float64 `mapstructure:"target_rate"`
	State       string  `mapstructure:"state"`
	DailyReport bool    `mapstructure:"daily_report"`
}

// NotifyConfig selects and parameterises the delivery channel.
type NotifyConfig struct {
	Method   string         `mapstructure:"method"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig covers the SMTP channel.
type EmailConfig struct {
	SMTPHost   string        `mapstructure:"smtp_host"`
	SMTPPort   int           `mapstructure:"smtp_port"`
	Sender     string        `mapstructure:"sender"`
	Password   string        `mapstructure:"password"`
	Recipients []string      `mapstructure:"recipients"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TelegramConfig covers the Telegram bot channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SourcesConfig selects rate sources and their endpoints.
type SourcesConfig struct {
	Enabled        []string      `mapstructure:"enabled"`
	FREDAPIKey     string        `mapstructure:"fred_api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	FREDBaseURL    string        `mapstructure:"fred_base_url"`
	BankrateURL    string        `mapstructure:"bankrate_url"`
	MNDURL         string        `mapstructure:"mnd_url"`
	FreddieMacURL  string        `mapstructure:"freddiemac_url"`
}

// DataConfig locates the on-disk history files.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the watch loop cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// RetentionConfig bounds how long the archive keeps records.
type RetentionConfig struct {
	ArchiveWindow time.Duration `mapstructure:"archive_window"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

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

	cfg.normalize()

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
	v.SetDefault("app.name", "ratewatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "alert.log")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("alert.target_rate", 6.0)
	v.SetDefault("alert.state", "Oregon")
	v.SetDefault("alert.daily_report", false)

	v.SetDefault("notify.method", MethodEmail)
	v.SetDefault("notify.email.smtp_host", "smtp.gmail.com")
	v.SetDefault("notify.email.smtp_port", 587)
	v.SetDefault("notify.email.timeout", "30s")
	v.SetDefault("notify.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notify.telegram.timeout", "30s")

	v.SetDefault("sources.enabled", []string{"fred", "bankrate", "mortgage_news_daily", "freddiemac"})
	v.SetDefault("sources.request_timeout", "30s")
	v.SetDefault("sources.user_agent", "ratewatcher/1.0")
	v.SetDefault("sources.fred_base_url", "")
	v.SetDefault("sources.bankrate_url", "")
	v.SetDefault("sources.mnd_url", "")
	v.SetDefault("sources.freddiemac_url", "")

	v.SetDefault("data.dir", "data")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("retention.archive_window", "2160h")
}

// bindLegacyEnv maps the flat environment names the original deployment
// used (GitHub Actions secrets) onto the structured keys, so either
// spelling configures the same field.
func bindLegacyEnv(v *viper.Viper) {
	aliases := map[string]string{
		"alert.target_rate":       "TARGET_RATE",
		"alert.state":             "STATE",
		"alert.daily_report":      "DAILY_REPORT",
		"notify.method":           "NOTIFICATION_METHOD",
		"notify.email.smtp_host":  "SMTP_SERVER",
		"notify.email.smtp_port":  "SMTP_PORT",
		"notify.email.sender":     "SENDER_EMAIL",
		"notify.email.password":   "SENDER_PASSWORD",
		"notify.email.recipients": "RECIPIENT_EMAIL",
		"notify.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
		"notify.telegram.chat_id":   "TELEGRAM_CHAT_ID",
		"sources.enabled":           "RATE_SOURCES",
		"sources.fred_api_key":      "FRED_API_KEY",
		"logging.level":             "LOG_LEVEL",
		"logging.file":              "LOG_FILE",
		"data.dir":                  "DATA_DIR",
		"database.dsn":              "DATABASE_DSN",
	}
	for key, legacy := range aliases {
		prefixed := "RATEWATCHER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
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

func (c *Config) normalize() {
	c.Notify.Method = strings.ToLower(strings.TrimSpace(c.Notify.Method))
	c.Notify.Email.Recipients = trimAll(c.Notify.Email.Recipients)
	c.Sources.Enabled = trimAll(c.Sources.Enabled)
	for i, s := range c.Sources.Enabled {
		c.Sources.Enabled[i] = strings.ToLower(s)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate performs sanity checks on the configuration values. It runs
// before any network activity; a failure here aborts the process.
func (c *Config) Validate() error {
	if c.Alert.TargetRate <= 0 || c.Alert.TargetRate >= 20 {
		return fmt.Errorf("alert.target_rate must be between 0 and 20, got %v", c.Alert.TargetRate)
	}
	if strings.TrimSpace(c.Alert.State) == "" {
		return fmt.Errorf("alert.state must not be empty")
	}

	switch c.Notify.Method {
	case MethodEmail:
		if c.Notify.Email.Sender == "" {
			return fmt.Errorf("notify.email.sender 必须配置")
		}
		if c.Notify.Email.Password == "" {
			return fmt.Errorf("notify.email.password 必须配置")
		}
		if len(c.Notify.Email.Recipients) == 0 {
			return fmt.Errorf("notify.email.recipients 必须配置")
		}
	case MethodTelegram:
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token 必须配置")
		}
		if c.Notify.Telegram.ChatID == "" {
			return fmt.Errorf("notify.telegram.chat_id 必须配置")
		}
	default:
		return fmt.Errorf("notify.method must be %q or %q, got %q", MethodEmail, MethodTelegram, c.Notify.Method)
	}

	if len(c.Sources.Enabled) == 0 {
		return fmt.Errorf("sources.enabled must list at least one source")
	}
	for _, s := range c.Sources.Enabled {
		if !isKnownSource(s) {
			return fmt.Errorf("unknown rate source %q (known: %s)", s, strings.Join(KnownSources, ", "))
		}
	}

	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Retention.ArchiveWindow <= 0 {
		return fmt.Errorf("retention.archive_window must be greater than zero")
	}
	return nil
}

func isKnownSource(name string) bool {
	for _, known := range KnownSources {
		if name == known {
			return true
		}
	}
	return false
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

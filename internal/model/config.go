package model

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SourceConfig holds the settings for the remote menu endpoint.
type SourceConfig struct {
	// Endpoint is the XHR URL that returns one day's menu fragment.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// MensaID is the cafeteria identifier sent as resources_id.
	MensaID string `mapstructure:"mensa_id" yaml:"mensa_id"`

	// MensaName is the display name of the cafeteria.
	MensaName string `mapstructure:"mensa_name" yaml:"mensa_name"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MaxRetries is the number of extra attempts on transient failures.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// Backoff is the base delay before the first retry; it doubles per retry.
	Backoff time.Duration `mapstructure:"backoff" yaml:"backoff"`

	// RequestDelay is the pause between consecutive day requests.
	RequestDelay time.Duration `mapstructure:"request_delay" yaml:"request_delay"`

	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

// ScheduleConfig holds the two daily schedule points.
type ScheduleConfig struct {
	Location     string        `mapstructure:"location" yaml:"location"`
	RefreshAt    string        `mapstructure:"refresh_at" yaml:"refresh_at"`
	AlertCheckAt string        `mapstructure:"alert_check_at" yaml:"alert_check_at"`
	GuardWindow  time.Duration `mapstructure:"guard_window" yaml:"guard_window"`
}

// MenuConfig controls the rolling window and staleness.
type MenuConfig struct {
	// WindowDays is the number of weekdays fetched and evaluated.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`

	// Freshness is how long fetched data stays fresh.
	Freshness time.Duration `mapstructure:"freshness" yaml:"freshness"`

	// RetentionDays is how many days a past MenuDay is kept before it
	// counts as stale.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days"`
}

type LookupConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type AdminConfig struct {
	ID int64 `mapstructure:"id" yaml:"id"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// IMAPConfig holds the mailbox settings for the IMAP delivery transport.
// The password is read from the system keyring under PasswordKey.
type IMAPConfig struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port"`
	Username    string `mapstructure:"username" yaml:"username"`
	Mailbox     string `mapstructure:"mailbox" yaml:"mailbox"`
	TLS         bool   `mapstructure:"tls" yaml:"tls"`
	PasswordKey string `mapstructure:"password_key" yaml:"password_key"`
	ToDomain    string `mapstructure:"to_domain" yaml:"to_domain"`
}

// DeliveryConfig selects and configures the delivery transport.
type DeliveryConfig struct {
	// Kind is "log" or "imap".
	Kind string     `mapstructure:"kind" yaml:"kind"`
	From string     `mapstructure:"from" yaml:"from"`
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
	Menu     MenuConfig     `mapstructure:"menu" yaml:"menu"`
	Lookup   LookupConfig   `mapstructure:"lookup" yaml:"lookup"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Admin    AdminConfig    `mapstructure:"admin" yaml:"admin"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Delivery DeliveryConfig `mapstructure:"delivery" yaml:"delivery"`
}

// ConfigErrorKind classifies configuration failures.
type ConfigErrorKind int

const (
	ConfigMissing ConfigErrorKind = iota
	ConfigInvalid
)

func (k ConfigErrorKind) String() string {
	if k == ConfigMissing {
		return "missing"
	}
	return "invalid"
}

// ConfigError reports a missing or invalid configuration key.
type ConfigError struct {
	Kind   ConfigErrorKind
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config %s: %s", e.Kind, e.Key)
	}
	return fmt.Sprintf("config %s: %s: %s", e.Kind, e.Key, e.Reason)
}

// IsConfigError reports whether err (or any error in its chain) is a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return "mensabot.yaml"
}

// defaults holds every known key so AutomaticEnv can override any of them.
var defaults = map[string]any{
	"source.endpoint":            "https://www.stw.berlin/xhr/speiseplan-wochentag.html",
	"source.mensa_id":            "191",
	"source.mensa_name":          "Mensa",
	"source.timeout":             "10s",
	"source.max_retries":         2,
	"source.backoff":             "1s",
	"source.request_delay":       "500ms",
	"source.user_agent":          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"schedule.location":          "Europe/Berlin",
	"schedule.refresh_at":        "06:00",
	"schedule.alert_check_at":    "06:30",
	"schedule.guard_window":      "5m",
	"menu.window_days":           7,
	"menu.freshness":             "24h",
	"menu.retention_days":        1,
	"lookup.path":                "lookup_tables.json",
	"database.path":              "mensabot.db",
	"admin.id":                   0,
	"api.enabled":                true,
	"api.addr":                   ":8080",
	"log.level":                  "info",
	"log.format":                 "json",
	"log.output":                 "stdout",
	"delivery.kind":              "log",
	"delivery.from":              "mensabot@localhost",
	"delivery.imap.port":         "993",
	"delivery.imap.mailbox":      "INBOX",
	"delivery.imap.tls":          true,
	"delivery.imap.password_key": "imap-password",
	"delivery.imap.to_domain":    "mensabot.local",
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory and MENSABOT_* environment variables
// override file values. A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MENSABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Source.MaxRetries > 2 {
		cfg.Source.MaxRetries = 2
	}

	return cfg, nil
}

// Validate checks required keys and value ranges.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Source.Endpoint) == "" {
		return &ConfigError{Kind: ConfigMissing, Key: "source.endpoint"}
	}
	if strings.TrimSpace(c.Source.MensaID) == "" {
		return &ConfigError{Kind: ConfigMissing, Key: "source.mensa_id"}
	}
	if err := c.ValidateDelivery(); err != nil {
		return err
	}
	if c.Source.Timeout <= 0 {
		return &ConfigError{Kind: ConfigInvalid, Key: "source.timeout", Reason: "must be positive"}
	}
	if c.Source.MaxRetries < 0 || c.Source.MaxRetries > 2 {
		return &ConfigError{Kind: ConfigInvalid, Key: "source.max_retries", Reason: "must be between 0 and 2"}
	}
	if _, _, _, err := c.Schedule.Resolve(); err != nil {
		return err
	}
	if c.Menu.WindowDays <= 0 {
		return &ConfigError{Kind: ConfigInvalid, Key: "menu.window_days", Reason: "must be positive"}
	}
	if c.Menu.Freshness <= 0 {
		return &ConfigError{Kind: ConfigInvalid, Key: "menu.freshness", Reason: "must be positive"}
	}
	if c.Menu.RetentionDays < 0 {
		return &ConfigError{Kind: ConfigInvalid, Key: "menu.retention_days", Reason: "must not be negative"}
	}
	return nil
}

// ValidateDelivery checks only the keys needed to reach the administrator,
// so later configuration errors can be reported through the transport.
func (c *AppConfig) ValidateDelivery() error {
	if c.Admin.ID == 0 {
		return &ConfigError{Kind: ConfigMissing, Key: "admin.id"}
	}
	switch c.Delivery.Kind {
	case "log":
	case "imap":
		if c.Delivery.IMAP.Host == "" {
			return &ConfigError{Kind: ConfigMissing, Key: "delivery.imap.host"}
		}
		if c.Delivery.IMAP.Username == "" {
			return &ConfigError{Kind: ConfigMissing, Key: "delivery.imap.username"}
		}
	default:
		return &ConfigError{Kind: ConfigInvalid, Key: "delivery.kind", Reason: fmt.Sprintf("unknown transport %q", c.Delivery.Kind)}
	}
	return nil
}

// Resolve parses the schedule times and location.
func (s ScheduleConfig) Resolve() (refresh, alertCheck TimeOfDay, loc *time.Location, err error) {
	loc, err = time.LoadLocation(s.Location)
	if err != nil {
		return TimeOfDay{}, TimeOfDay{}, nil, &ConfigError{Kind: ConfigInvalid, Key: "schedule.location", Reason: err.Error()}
	}
	refresh, err = ParseTimeOfDay(s.RefreshAt)
	if err != nil {
		return TimeOfDay{}, TimeOfDay{}, nil, &ConfigError{Kind: ConfigInvalid, Key: "schedule.refresh_at", Reason: err.Error()}
	}
	alertCheck, err = ParseTimeOfDay(s.AlertCheckAt)
	if err != nil {
		return TimeOfDay{}, TimeOfDay{}, nil, &ConfigError{Kind: ConfigInvalid, Key: "schedule.alert_check_at", Reason: err.Error()}
	}
	if !alertCheck.After(refresh) {
		return TimeOfDay{}, TimeOfDay{}, nil, &ConfigError{
			Kind:   ConfigInvalid,
			Key:    "schedule.alert_check_at",
			Reason: fmt.Sprintf("must be later than refresh_at %s", refresh),
		}
	}
	return refresh, alertCheck, loc, nil
}

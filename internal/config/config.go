// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"shelfwatch/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Store        StoreConfig        `mapstructure:"store"`
	Search       SearchConfig       `mapstructure:"search"`
	Headless     HeadlessConfig     `mapstructure:"headless"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Locations    []catalog.Location `mapstructure:"locations"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StoreConfig locates the persisted catalog document.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SearchConfig binds the two category sweeps to their upstream searches.
type SearchConfig struct {
	UserAgent      string         `mapstructure:"user_agent"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	RecordBaseURL  string         `mapstructure:"record_base_url"`
	ScriptSelector string         `mapstructure:"script_selector"`
	AvailableNow   CategorySearch `mapstructure:"available_now"`
	OnOrder        CategorySearch `mapstructure:"on_order"`
}

// CategorySearch is one category's search URL and calendar schedule.
type CategorySearch struct {
	URL      string `mapstructure:"url"`
	Schedule string `mapstructure:"schedule"`
}

// HeadlessConfig configures the rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// AvailabilityConfig configures the gateway prober and the loanable filter.
type AvailabilityConfig struct {
	URLTemplate          string   `mapstructure:"url_template"`
	CollectionSuffix     string   `mapstructure:"collection_suffix"`
	ExcludedCallPrefixes []string `mapstructure:"excluded_call_prefixes"`
}

// NotifyConfig selects the alert delivery channel and debounce policy.
type NotifyConfig struct {
	Provider        string `mapstructure:"provider"`
	WebhookURL      string `mapstructure:"webhook_url"`
	Cooldown        string `mapstructure:"cooldown"`
	PubSubProjectID string `mapstructure:"pubsub_project_id"`
	PubSubTopic     string `mapstructure:"pubsub_topic"`
}

// ArchiveConfig selects raw-payload archival.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
}

// CatalogConfig holds store retention policy.
type CatalogConfig struct {
	FreshnessWindow string `mapstructure:"freshness_window"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELFWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8008)
	v.SetDefault("logging.development", true)
	v.SetDefault("store.path", "data/db.json")

	v.SetDefault("search.user_agent", "shelfwatch/0.1")
	v.SetDefault("search.timeout_seconds", 15)
	v.SetDefault("search.record_base_url", "https://wccls.bibliocommons.com")
	v.SetDefault("search.script_selector", `script[type="application/json"][data-iso-key="_0"]`)
	v.SetDefault("search.available_now.url",
		"https://wccls.bibliocommons.com/v2/search?custom_edit=false&query=collection%3A%22Best%20Sellers%22%20formatcode%3A(BLURAY%20)&searchType=bl&suppress=true&locked=true&f_STATUS=9%7C39%7C29%7C31&f_NEWLY_ACQUIRED=PAST_180_DAYS")
	v.SetDefault("search.available_now.schedule", "0,15,30,45 10-18 * * *")
	v.SetDefault("search.on_order.url",
		"https://wccls.bibliocommons.com/v2/search?query=nw%3A%5B0%20TO%20180%5D&searchType=bl&sort=NEWLY_ACQUIRED&suppress=true&title_key=all_newly_acquired&f_FORMAT=BLURAY&f_ON_ORDER=true&f_NEWLY_ACQUIRED=PAST_7_DAYS")
	v.SetDefault("search.on_order.schedule", "0 12,18 * * *")

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)

	v.SetDefault("availability.url_template",
		"https://gateway.bibliocommons.com/v2/libraries/wccls/bibs/%s/availability?locale=en-US")
	v.SetDefault("availability.collection_suffix", "Not Holdable")
	v.SetDefault("availability.excluded_call_prefixes", []string{"4K"})

	// Alerts are off until a webhook (or pubsub topic) is configured.
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.cooldown", "24h")

	v.SetDefault("archive.provider", "noop")

	v.SetDefault("catalog.freshness_window", "168h")

	v.SetDefault("locations", []map[string]any{
		{"code": 9, "name": "Beaverton City Library"},
		{"code": 29, "name": "Tigard Public Library"},
		{"code": 31, "name": "Tualatin Public Library"},
		{"code": 39, "name": "Beaverton Murray Scholls"},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Search.AvailableNow.URL == "" || c.Search.OnOrder.URL == "" {
		return fmt.Errorf("both search urls must be set")
	}
	if !strings.Contains(c.Availability.URLTemplate, "%s") {
		return fmt.Errorf("availability.url_template must contain %%s")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Notify.Provider {
	case "webhook":
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("notify.webhook_url must be set when provider is webhook")
		}
	case "pubsub":
		if c.Notify.PubSubProjectID == "" || c.Notify.PubSubTopic == "" {
			return fmt.Errorf("notify.pubsub_project_id and notify.pubsub_topic must be set when provider is pubsub")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown notify provider: %s", c.Notify.Provider)
	}
	switch c.Archive.Provider {
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when provider is local")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when provider is gcs")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	if _, err := c.NotifyCooldown(); err != nil {
		return err
	}
	if _, err := c.FreshnessWindow(); err != nil {
		return err
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("at least one location must be configured")
	}
	return nil
}

// NotifyCooldown parses the configured cooldown duration.
func (c Config) NotifyCooldown() (time.Duration, error) {
	d, err := time.ParseDuration(c.Notify.Cooldown)
	if err != nil {
		return 0, fmt.Errorf("notify.cooldown: %w", err)
	}
	return d, nil
}

// FreshnessWindow parses the configured retention window.
func (c Config) FreshnessWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Catalog.FreshnessWindow)
	if err != nil {
		return 0, fmt.Errorf("catalog.freshness_window: %w", err)
	}
	return d, nil
}

// SearchTimeout converts the HTTP timeout config into a duration.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

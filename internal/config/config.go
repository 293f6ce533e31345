// Package config defines all configuration for the surveillance collector.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// some fields overridable via COLLECTOR_* environment variables (see Load).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Storage StorageConfig          `mapstructure:"storage"`
	Mock    MockConfig             `mapstructure:"mock"`
	Logging LoggingConfig          `mapstructure:"logging"`
	Status  StatusConfig           `mapstructure:"status"`
	Venues  map[string]VenueConfig `mapstructure:"venues"`
}

// StorageConfig controls the columnar writer's output layout and rollover.
type StorageConfig struct {
	Root          string        `mapstructure:"root"`
	TopK          int           `mapstructure:"top_k"`
	FlushRows     int           `mapstructure:"flush_rows"`
	FlushSeconds  time.Duration `mapstructure:"flush_seconds"`
	BucketMinutes int           `mapstructure:"bucket_minutes"`
}

// MockConfig enables the synthetic venue adapter in place of a real one.
type MockConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the minimal HTTP status/health surface.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// VenueConfig configures a single venue's connection, universe filters, and
// the scheduler/subscription knobs that apply to that venue's universe.
type VenueConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	WSURL     string `mapstructure:"ws_url"`
	RESTURL   string `mapstructure:"rest_url"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	MaxSubs                         int           `mapstructure:"max_subs"`
	HotCount                        int           `mapstructure:"hot_count"` // ignored; HOT = 10% of MaxSubs
	RotationPeriod                  time.Duration `mapstructure:"rotation_period_secs"`
	SnapshotIntervalHot             time.Duration `mapstructure:"snapshot_interval_ms_hot"`
	SnapshotIntervalWarm            time.Duration `mapstructure:"snapshot_interval_ms_warm"`
	SubscriptionChurnLimitPerMinute int           `mapstructure:"subscription_churn_limit_per_minute"`

	ExcludeTitlePatterns []string `mapstructure:"exclude_title_patterns"`
	MinHoursUntilClose   float64  `mapstructure:"min_hours_until_close"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: COLLECTOR_VENUES_<NAME>_API_KEY / _API_SECRET
// are not auto-mapped by viper for nested map keys, so callers relying on
// per-venue secrets should set VenueConfig.APIKey/APISecret directly in the
// YAML or via a secrets manager upstream of Load.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if root := os.Getenv("COLLECTOR_STORAGE_ROOT"); root != "" {
		cfg.Storage.Root = root
	}
	if os.Getenv("COLLECTOR_MOCK_ENABLED") == "true" || os.Getenv("COLLECTOR_MOCK_ENABLED") == "1" {
		cfg.Mock.Enabled = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.top_k", 10)
	v.SetDefault("storage.flush_rows", 50000)
	v.SetDefault("storage.flush_seconds", 5*time.Second)
	v.SetDefault("storage.bucket_minutes", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.port", 8090)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Storage.TopK <= 0 {
		return fmt.Errorf("storage.top_k must be > 0")
	}
	if c.Storage.FlushRows <= 0 {
		return fmt.Errorf("storage.flush_rows must be > 0")
	}
	if c.Storage.BucketMinutes <= 0 {
		return fmt.Errorf("storage.bucket_minutes must be > 0")
	}
	if !c.Mock.Enabled && len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured (or mock.enabled=true)")
	}
	for name, vc := range c.Venues {
		if !vc.Enabled {
			continue
		}
		if vc.WSURL == "" {
			return fmt.Errorf("venues.%s.ws_url is required", name)
		}
		if vc.MaxSubs <= 0 {
			return fmt.Errorf("venues.%s.max_subs must be > 0", name)
		}
		if vc.RotationPeriod <= 0 {
			return fmt.Errorf("venues.%s.rotation_period_secs must be > 0", name)
		}
		if vc.SubscriptionChurnLimitPerMinute <= 0 {
			return fmt.Errorf("venues.%s.subscription_churn_limit_per_minute must be > 0", name)
		}
	}
	return nil
}

// HotSize returns ceil(MaxSubs * 0.10), floor 1. The hot_count config key
// is accepted but ignored in favor of this fixed fraction.
func (vc VenueConfig) HotSize() int {
	size := (vc.MaxSubs + 9) / 10
	if size < 1 {
		size = 1
	}
	return size
}

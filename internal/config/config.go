// Package config loads erpsync configuration.
//
// Values come from, in increasing priority: built-in defaults, an
// erpsync.toml file, and ERPSYNC_* environment variables (dots become
// underscores, so remote.base_url is ERPSYNC_REMOTE_BASE_URL).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
)

// FileName is the config file base name searched for.
const FileName = "erpsync"

// Collection is one synchronized collection.
type Collection struct {
	Name     string `mapstructure:"name"`
	Resource string `mapstructure:"resource"`
}

// RemoteConfig describes the authoritative store.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	IDField string        `mapstructure:"id_field"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the device-local store.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// BusConfig configures the cross-process change bus.
type BusConfig struct {
	// URL of the hub to join; empty disables the bus.
	URL     string `mapstructure:"url"`
	HubHost string `mapstructure:"hub_host"`
	HubPort int    `mapstructure:"hub_port"`
}

// SyncConfig holds scheduler timing.
type SyncConfig struct {
	PullInterval    time.Duration `mapstructure:"pull_interval"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryInitial    time.Duration `mapstructure:"retry_initial"`
	RetryMax        time.Duration `mapstructure:"retry_max"`
	RetryMultiplier float64       `mapstructure:"retry_multiplier"`
}

// LogConfig configures the log file of long-running commands.
type LogConfig struct {
	// File is the log path; empty logs to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the full erpsync configuration.
type Config struct {
	Remote      RemoteConfig `mapstructure:"remote"`
	Store       StoreConfig  `mapstructure:"store"`
	Bus         BusConfig    `mapstructure:"bus"`
	Sync        SyncConfig   `mapstructure:"sync"`
	Log         LogConfig    `mapstructure:"log"`
	Collections []Collection `mapstructure:"collections"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:3000/api",
			IDField: "id",
			Timeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			Path:   filepath.Join(".erpsync", "replica.db"),
		},
		Bus: BusConfig{
			HubHost: "127.0.0.1",
			HubPort: 8090,
		},
		Sync: SyncConfig{
			PullInterval:    30 * time.Second,
			InitialDelay:    1 * time.Second,
			StaleAfter:      15 * time.Second,
			MaxAttempts:     5,
			RetryInitial:    2 * time.Second,
			RetryMax:        60 * time.Second,
			RetryMultiplier: 2,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Collections: []Collection{
			{Name: "inventory", Resource: "/inventory"},
			{Name: "tickets", Resource: "/tickets"},
			{Name: "customers", Resource: "/customers"},
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.id_field", d.Remote.IDField)
	v.SetDefault("remote.timeout", d.Remote.Timeout)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("bus.url", d.Bus.URL)
	v.SetDefault("bus.hub_host", d.Bus.HubHost)
	v.SetDefault("bus.hub_port", d.Bus.HubPort)

	v.SetDefault("sync.pull_interval", d.Sync.PullInterval)
	v.SetDefault("sync.initial_delay", d.Sync.InitialDelay)
	v.SetDefault("sync.stale_after", d.Sync.StaleAfter)
	v.SetDefault("sync.max_attempts", d.Sync.MaxAttempts)
	v.SetDefault("sync.retry_initial", d.Sync.RetryInitial)
	v.SetDefault("sync.retry_max", d.Sync.RetryMax)
	v.SetDefault("sync.retry_multiplier", d.Sync.RetryMultiplier)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	collections := make([]map[string]any, len(d.Collections))
	for i, c := range d.Collections {
		collections[i] = map[string]any{"name": c.Name, "resource": c.Resource}
	}
	v.SetDefault("collections", collections)
}

// Load reads the configuration. An explicit path must exist; otherwise
// erpsync.toml is searched in the working directory and the user config
// directory, and defaults apply when none is found.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("ERPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("toml")
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "erpsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an http(s) URL (got %q)", c.Remote.BaseURL)
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverFile, store.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want memory, file or sqlite)", c.Store.Driver)
	}

	if c.Bus.URL != "" && !strings.HasPrefix(c.Bus.URL, "ws://") && !strings.HasPrefix(c.Bus.URL, "wss://") {
		return fmt.Errorf("bus.url must be a ws:// or wss:// URL (got %q)", c.Bus.URL)
	}
	if c.Bus.HubPort < 0 || c.Bus.HubPort > 65535 {
		return fmt.Errorf("bus.hub_port out of range: %d", c.Bus.HubPort)
	}

	durations := map[string]time.Duration{
		"remote.timeout":     c.Remote.Timeout,
		"sync.pull_interval": c.Sync.PullInterval,
		"sync.initial_delay": c.Sync.InitialDelay,
		"sync.stale_after":   c.Sync.StaleAfter,
		"sync.retry_initial": c.Sync.RetryInitial,
		"sync.retry_max":     c.Sync.RetryMax,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Sync.RetryMax < c.Sync.RetryInitial {
		return fmt.Errorf("sync.retry_max must not be less than sync.retry_initial")
	}
	if c.Sync.RetryMultiplier < 1 {
		return fmt.Errorf("sync.retry_multiplier must be at least 1")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}

	if len(c.Collections) == 0 {
		return fmt.Errorf("at least one collection is required")
	}
	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" || strings.ContainsAny(col.Name, "/ ") {
			return fmt.Errorf("invalid collection name %q", col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate collection %q", col.Name)
		}
		seen[col.Name] = true
		if !strings.HasPrefix(col.Resource, "/") {
			return fmt.Errorf("collection %s: resource must start with / (got %q)", col.Name, col.Resource)
		}
	}
	return nil
}

// Collection returns the named collection.
func (c *Config) Collection(name string) (Collection, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return Collection{}, false
}

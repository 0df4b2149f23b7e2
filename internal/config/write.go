package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape; durations are written as strings
// such as "30s".
type fileConfig struct {
	Remote struct {
		BaseURL string `toml:"base_url"`
		IDField string `toml:"id_field"`
		Timeout string `toml:"timeout"`
	} `toml:"remote"`
	Store struct {
		Driver string `toml:"driver"`
		Path   string `toml:"path"`
	} `toml:"store"`
	Bus struct {
		URL     string `toml:"url"`
		HubHost string `toml:"hub_host"`
		HubPort int    `toml:"hub_port"`
	} `toml:"bus"`
	Sync struct {
		PullInterval    string  `toml:"pull_interval"`
		InitialDelay    string  `toml:"initial_delay"`
		StaleAfter      string  `toml:"stale_after"`
		MaxAttempts     int     `toml:"max_attempts"`
		RetryInitial    string  `toml:"retry_initial"`
		RetryMax        string  `toml:"retry_max"`
		RetryMultiplier float64 `toml:"retry_multiplier"`
	} `toml:"sync"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
	Collections []fileCollection `toml:"collections"`
}

type fileCollection struct {
	Name     string `toml:"name"`
	Resource string `toml:"resource"`
}

func toFile(c *Config) fileConfig {
	var f fileConfig
	f.Remote.BaseURL = c.Remote.BaseURL
	f.Remote.IDField = c.Remote.IDField
	f.Remote.Timeout = c.Remote.Timeout.String()

	f.Store.Driver = c.Store.Driver
	f.Store.Path = c.Store.Path

	f.Bus.URL = c.Bus.URL
	f.Bus.HubHost = c.Bus.HubHost
	f.Bus.HubPort = c.Bus.HubPort

	f.Sync.PullInterval = c.Sync.PullInterval.String()
	f.Sync.InitialDelay = c.Sync.InitialDelay.String()
	f.Sync.StaleAfter = c.Sync.StaleAfter.String()
	f.Sync.MaxAttempts = c.Sync.MaxAttempts
	f.Sync.RetryInitial = c.Sync.RetryInitial.String()
	f.Sync.RetryMax = c.Sync.RetryMax.String()
	f.Sync.RetryMultiplier = c.Sync.RetryMultiplier

	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays
	f.Log.Compress = c.Log.Compress

	for _, col := range c.Collections {
		f.Collections = append(f.Collections, fileCollection{Name: col.Name, Resource: col.Resource})
	}
	return f
}

// Encode renders c as TOML.
func Encode(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# erpsync configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(toFile(c)); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves c to path. An existing file is only replaced when force
// is set.
func Write(path string, c *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	data, err := Encode(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

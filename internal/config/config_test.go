package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "erpsync.toml")
	require.NoError(t, Write(path, Default(), false))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.File = path
	assert.Equal(t, want, cfg)
}

func TestWrite_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "erpsync.toml")
	require.NoError(t, Write(path, Default(), false))
	assert.Error(t, Write(path, Default(), false))
	assert.NoError(t, Write(path, Default(), true))
}

func TestLoad_FileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "erpsync.toml")
	content := `
[remote]
base_url = "https://erp.example.com/api"
timeout = "3s"

[store]
driver = "file"
path = "/var/lib/erpsync"

[sync]
pull_interval = "1m"

[[collections]]
name = "inventory"
resource = "/v2/inventory"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://erp.example.com/api", cfg.Remote.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "id", cfg.Remote.IDField)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, time.Minute, cfg.Sync.PullInterval)
	assert.Equal(t, 15*time.Second, cfg.Sync.StaleAfter)
	assert.Equal(t, []Collection{{Name: "inventory", Resource: "/v2/inventory"}}, cfg.Collections)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "erpsync.toml")
	require.NoError(t, Write(path, Default(), false))

	t.Setenv("ERPSYNC_REMOTE_BASE_URL", "https://env.example.com")
	t.Setenv("ERPSYNC_SYNC_MAX_ATTEMPTS", "9")
	t.Setenv("ERPSYNC_SYNC_PULL_INTERVAL", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 9, cfg.Sync.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Sync.PullInterval)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"non-http base url", func(c *Config) { c.Remote.BaseURL = "ftp://host" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"file without path", func(c *Config) { c.Store.Driver = "file"; c.Store.Path = "" }},
		{"bad bus url", func(c *Config) { c.Bus.URL = "http://localhost:8090" }},
		{"zero pull interval", func(c *Config) { c.Sync.PullInterval = 0 }},
		{"negative stale after", func(c *Config) { c.Sync.StaleAfter = -time.Second }},
		{"retry max below initial", func(c *Config) { c.Sync.RetryMax = time.Second }},
		{"multiplier below one", func(c *Config) { c.Sync.RetryMultiplier = 0.5 }},
		{"zero attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }},
		{"no collections", func(c *Config) { c.Collections = nil }},
		{"duplicate collection", func(c *Config) {
			c.Collections = append(c.Collections, Collection{Name: "inventory", Resource: "/x"})
		}},
		{"relative resource", func(c *Config) { c.Collections[0].Resource = "inventory" }},
		{"slash in name", func(c *Config) { c.Collections[0].Name = "a/b" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	mem := Default()
	mem.Store.Driver = "memory"
	mem.Store.Path = ""
	assert.NoError(t, mem.Validate())
}

func TestCollectionLookup(t *testing.T) {
	cfg := Default()
	col, ok := cfg.Collection("tickets")
	require.True(t, ok)
	assert.Equal(t, "/tickets", col.Resource)

	_, ok = cfg.Collection("orders")
	assert.False(t, ok)
}

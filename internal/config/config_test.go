package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9190, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.Daemon.URL())
	assert.Equal(t, PullModeHTTP, cfg.Download.Mode)
	assert.Equal(t, 5, cfg.Download.CooldownSeconds)
	assert.Equal(t, 3, cfg.Health.CacheTTL)
	assert.Equal(t, 30, cfg.Health.GraceSeconds)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"bad daemon port", func(c *Config) { c.Daemon.Port = 70000 }},
		{"empty daemon host", func(c *Config) { c.Daemon.Host = "" }},
		{"zero probe timeout", func(c *Config) { c.Daemon.ProbeTimeout = 0 }},
		{"unknown pull mode", func(c *Config) { c.Download.Mode = "ftp" }},
		{"cli mode without command", func(c *Config) { c.Download.Mode = PullModeCLI; c.Download.PullCommand = "" }},
		{"zero cooldown", func(c *Config) { c.Download.CooldownSeconds = 0 }},
		{"hard timeout below stall", func(c *Config) { c.Download.HardTimeout = 30 }},
		{"zero cache ttl", func(c *Config) { c.Health.CacheTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateDefaultsEmptyMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Download.Mode = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PullModeHTTP, cfg.Download.Mode)
}

func TestManagerCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drover.config.yaml")

	mgr := NewManagerWithPath(path)
	cfg, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 9190, cfg.Server.Port)

	// The default file must have been written out.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestManagerSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drover.config.yaml")

	mgr := NewManagerWithPath(path)
	cfg, err := mgr.Load()
	require.NoError(t, err)

	cfg.Daemon.ActiveModel = "llama3:8b"
	cfg.Download.Mode = PullModeCLI
	require.NoError(t, mgr.Save(cfg))

	reloaded, err := NewManagerWithPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "llama3:8b", reloaded.Daemon.ActiveModel)
	assert.Equal(t, PullModeCLI, reloaded.Download.Mode)
}

func TestManagerRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drover.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0644))

	_, err := NewManagerWithPath(path).Load()
	assert.Error(t, err)
}

// Package config provides configuration management for the Drover server.
// It handles loading, saving, and validating configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/drover-project/drover/internal/storage"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = "config"
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "drover.config.yaml"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig          `mapstructure:"server" yaml:"server" json:"server"`
	Daemon   DaemonConfig          `mapstructure:"daemon" yaml:"daemon" json:"daemon"`
	Download DownloadConfig        `mapstructure:"download" yaml:"download" json:"download"`
	Health   HealthConfig          `mapstructure:"health" yaml:"health" json:"health"`
	Security SecurityConfig        `mapstructure:"security" yaml:"security" json:"security"`
	Log      LogConfig             `mapstructure:"log" yaml:"log" json:"log"`
	Storage  storage.StorageConfig `mapstructure:"storage" yaml:"storage" json:"storage"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host" json:"host"`
	Port         int    `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout" json:"readTimeout"`    // seconds
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout" json:"writeTimeout"` // seconds
}

// DaemonConfig contains connection settings for the local model-serving daemon
type DaemonConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	ProbeTimeout    int    `mapstructure:"probe_timeout" yaml:"probe_timeout" json:"probeTimeout"`          // seconds, reachability checks
	RequestTimeout  int    `mapstructure:"request_timeout" yaml:"request_timeout" json:"requestTimeout"`    // seconds, model list and version
	GenerateTimeout int    `mapstructure:"generate_timeout" yaml:"generate_timeout" json:"generateTimeout"` // seconds, completion calls
	PullTimeout     int    `mapstructure:"pull_timeout" yaml:"pull_timeout" json:"pullTimeout"`             // seconds, full streaming pull
	ActiveModel     string `mapstructure:"active_model" yaml:"active_model" json:"activeModel"`
}

// URL returns the base URL of the daemon
func (d *DaemonConfig) URL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// PullMode selects how model pulls are executed
type PullMode string

const (
	// PullModeHTTP streams the daemon's pull endpoint directly
	PullModeHTTP PullMode = "http"
	// PullModeCLI shells out to the daemon's command-line client
	PullModeCLI PullMode = "cli"
)

// DownloadConfig contains download supervisor configuration
type DownloadConfig struct {
	Mode            PullMode `mapstructure:"mode" yaml:"mode" json:"mode"`
	PullCommand     string   `mapstructure:"pull_command" yaml:"pull_command" json:"pullCommand"` // binary used in cli mode
	CooldownSeconds int      `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds" json:"cooldownSeconds"`
	StallSeconds    int      `mapstructure:"stall_seconds" yaml:"stall_seconds" json:"stallSeconds"`
	HardTimeout     int      `mapstructure:"hard_timeout" yaml:"hard_timeout" json:"hardTimeout"` // seconds
	CompletionGrace int      `mapstructure:"completion_grace" yaml:"completion_grace" json:"completionGrace"`
	Disabled        bool     `mapstructure:"disabled" yaml:"disabled" json:"disabled"` // administratively disable new pulls
}

// HealthConfig contains health endpoint configuration
type HealthConfig struct {
	CacheTTL     int `mapstructure:"cache_ttl" yaml:"cache_ttl" json:"cacheTTL"`            // seconds
	GraceSeconds int `mapstructure:"grace_seconds" yaml:"grace_seconds" json:"graceSeconds"` // recently-finished window
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	CORSEnabled    bool     `mapstructure:"cors_enabled" yaml:"cors_enabled" json:"corsEnabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowedOrigins"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level" json:"level"`                  // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format" json:"format"`               // json, text
	Output     string `mapstructure:"output" yaml:"output" json:"output"`               // stdout, file, both
	Directory  string `mapstructure:"directory" yaml:"directory" json:"directory"`      // log directory
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" json:"maxSize"`          // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" json:"maxBackups"` // number of backup files
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age" json:"maxAge"`             // days
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cwd, _ := os.Getwd()
	logDir := filepath.Join(cwd, "logs")

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         9190,
			ReadTimeout:  60,
			WriteTimeout: 60,
		},
		Daemon: DaemonConfig{
			Host:            "localhost",
			Port:            11434,
			ProbeTimeout:    2,
			RequestTimeout:  10,
			GenerateTimeout: 300,
			PullTimeout:     3600,
			ActiveModel:     "",
		},
		Download: DownloadConfig{
			Mode:            PullModeHTTP,
			PullCommand:     "ollama",
			CooldownSeconds: 5,
			StallSeconds:    60,
			HardTimeout:     300,
			CompletionGrace: 3,
			Disabled:        false,
		},
		Health: HealthConfig{
			CacheTTL:     3,
			GraceSeconds: 30,
		},
		Security: SecurityConfig{
			CORSEnabled:    true,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			Directory:  logDir,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Storage: storage.StorageConfig{
			Type: storage.StorageTypeMemory,
			SQLite: storage.SQLiteConfig{
				Path:      filepath.Join(cwd, "data", "drover.db"),
				EnableWAL: true,
			},
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("invalid daemon port: %d", c.Daemon.Port)
	}
	if c.Daemon.Host == "" {
		return fmt.Errorf("daemon host cannot be empty")
	}
	if c.Daemon.ProbeTimeout < 1 {
		return fmt.Errorf("daemon probe timeout must be at least 1 second")
	}
	if c.Daemon.GenerateTimeout < 1 {
		return fmt.Errorf("daemon generate timeout must be at least 1 second")
	}

	switch c.Download.Mode {
	case PullModeHTTP, PullModeCLI:
	case "":
		c.Download.Mode = PullModeHTTP
	default:
		return fmt.Errorf("invalid download mode: %s (must be http or cli)", c.Download.Mode)
	}
	if c.Download.Mode == PullModeCLI && c.Download.PullCommand == "" {
		return fmt.Errorf("cli download mode requires a pull command")
	}
	if c.Download.CooldownSeconds < 1 {
		return fmt.Errorf("download cooldown must be at least 1 second")
	}
	if c.Download.StallSeconds < 1 {
		return fmt.Errorf("download stall threshold must be at least 1 second")
	}
	if c.Download.HardTimeout <= c.Download.StallSeconds {
		return fmt.Errorf("download hard timeout must be greater than the stall threshold")
	}

	if c.Health.CacheTTL < 1 {
		return fmt.Errorf("health cache TTL must be at least 1 second")
	}
	if c.Health.GraceSeconds < 0 {
		return fmt.Errorf("health grace window cannot be negative")
	}

	return nil
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() string {
	// Allow override via environment variable
	if dir := os.Getenv("DROVER_CONFIG_DIR"); dir != "" {
		return dir
	}
	return DefaultConfigDir
}

// EnsureConfigDir ensures the configuration directory exists
func EnsureConfigDir() error {
	configDir := GetConfigDir()
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return nil
}

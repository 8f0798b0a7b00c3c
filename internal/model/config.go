package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BackendConfig holds the connection settings for the managed backend that
// owns the event_notifications table.
type BackendConfig struct {
	// BaseURL is the root URL of the backend (REST and realtime share it).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// APIKey is the public project key sent alongside the user token.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// RequestsPerSecond caps outgoing REST calls. Zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// BridgeConfig controls how often and by which channels the bridge runs.
type BridgeConfig struct {
	PollIntervalSec int  `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	PushEnabled     bool `mapstructure:"push_enabled" yaml:"push_enabled"`

	// ToastMs is the display hint attached to bridged notifications.
	// Zero keeps them out of toasts.
	ToastMs int `mapstructure:"toast_ms" yaml:"toast_ms"`
}

// StoreConfig holds the local persistence settings.
type StoreConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Capacity int    `mapstructure:"capacity" yaml:"capacity"`
}

// LogConfig selects log verbosity and output format ("text" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig holds the HTTP view settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DemoConfig controls the synthetic event generator.
type DemoConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Demo    DemoConfig    `mapstructure:"demo" yaml:"demo"`
}

// PollInterval returns the bridge polling interval as a duration.
func (c BridgeConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}

// ToastDuration returns ToastMs as a duration.
func (c BridgeConfig) ToastDuration() time.Duration {
	return time.Duration(max(c.ToastMs, 0)) * time.Millisecond
}

// Interval returns the demo generator interval as a duration.
func (c DemoConfig) Interval() time.Duration {
	if c.IntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.IntervalSec) * time.Second
}

// configDir returns ~/.config/crmnotify, or the working directory if the
// home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "crmnotify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/crmnotify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Backend: BackendConfig{
			RequestsPerSecond: 5,
		},
		Bridge: BridgeConfig{
			PollIntervalSec: 30,
			PushEnabled:     true,
			ToastMs:         5000,
		},
		Store: StoreConfig{
			Path:     filepath.Join(configDir(), "notifications.db"),
			Capacity: 200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Demo: DemoConfig{
			IntervalSec: 5,
		},
	}
}

// setDefaults registers every default on v so missing keys resolve to
// sensible values and environment overrides are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.api_key", d.Backend.APIKey)
	v.SetDefault("backend.requests_per_second", d.Backend.RequestsPerSecond)
	v.SetDefault("bridge.poll_interval_sec", d.Bridge.PollIntervalSec)
	v.SetDefault("bridge.push_enabled", d.Bridge.PushEnabled)
	v.SetDefault("bridge.toast_ms", d.Bridge.ToastMs)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.capacity", d.Store.Capacity)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("demo.interval_sec", d.Demo.IntervalSec)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with CRMNOTIFY_ override file values
// (e.g. CRMNOTIFY_BACKEND_BASE_URL). A missing file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("crmnotify")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = 200
	}
	cfg.Backend.BaseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend", cfg.Backend)
	v.Set("bridge", cfg.Bridge)
	v.Set("store", cfg.Store)
	v.Set("log", cfg.Log)
	v.Set("server", cfg.Server)
	v.Set("demo", cfg.Demo)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

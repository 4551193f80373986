// Package config handles configuration loading, validation, and change
// notification for imebridge.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// ErrNotFound is returned when no configuration file can be located.
var ErrNotFound = errors.New("config: no configuration file found")

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Input controls reconciliation behaviour.
	Input InputConfig `toml:"input" json:"input" yaml:"input"`

	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`
	Theme    ThemeConfig    `toml:"theme" json:"theme" yaml:"theme"`

	// Display configures the secondary display service client.
	Display DisplayConfig `toml:"display" json:"display" yaml:"display"`

	// Engine selects the fcitx5 bus.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Store is the package-name cache.
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`

	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// InputConfig holds input session options.
type InputConfig struct {
	// IgnoreSystemCursor keeps host cursor moves inside the composing
	// region from reaching the engine.
	IgnoreSystemCursor bool `toml:"ignore_system_cursor" json:"ignore_system_cursor" yaml:"ignore_system_cursor"`

	InlineSuggestions bool `toml:"inline_suggestions" json:"inline_suggestions" yaml:"inline_suggestions"`

	// KeyCacheCapacity bounds the number of forwarded key events kept for
	// replay.
	KeyCacheCapacity int `toml:"key_cache_capacity" json:"key_cache_capacity" yaml:"key_cache_capacity"`

	// SystemInput disables the secondary display service.
	SystemInput bool `toml:"system_input" json:"system_input" yaml:"system_input"`
}

// KeyboardConfig holds on-screen keyboard options.
type KeyboardConfig struct {
	ExpandKeypressArea bool `toml:"expand_keypress_area" json:"expand_keypress_area" yaml:"expand_keypress_area"`
	DisableAnimation   bool `toml:"disable_animation" json:"disable_animation" yaml:"disable_animation"`
}

// ThemeConfig selects the keyboard theme.
type ThemeConfig struct {
	Name string `toml:"name" json:"name" yaml:"name"`
}

// DisplayConfig configures the display service transport.
type DisplayConfig struct {
	SocketPath       string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	RequestTimeoutMs int    `toml:"request_timeout_ms" json:"request_timeout_ms" yaml:"request_timeout_ms"`
	AutoReconnect    bool   `toml:"auto_reconnect" json:"auto_reconnect" yaml:"auto_reconnect"`
	MaxReconnect     int    `toml:"max_reconnect" json:"max_reconnect" yaml:"max_reconnect"`

	// AllowedUIDs restricts the reference server to these peers.
	AllowedUIDs []int `toml:"allowed_uids" json:"allowed_uids" yaml:"allowed_uids"`
}

// EngineConfig configures the fcitx5 connection.
type EngineConfig struct {
	// Bus is "session", "system" or a D-Bus address.
	Bus         string `toml:"bus" json:"bus" yaml:"bus"`
	ProgramName string `toml:"program_name" json:"program_name" yaml:"program_name"`
}

// StoreConfig configures the package-name cache. An empty path disables it.
type StoreConfig struct {
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: text, json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stderr, stdout, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
	AddSource  bool   `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DataDir()
	return &Config{
		Version: Version,
		Input: InputConfig{
			KeyCacheCapacity: 78,
		},
		Theme: ThemeConfig{
			Name: "default",
		},
		Display: DisplayConfig{
			SocketPath:       DefaultSocketPath(),
			RequestTimeoutMs: 5000,
			AutoReconnect:    true,
			MaxReconnect:     3,
		},
		Engine: EngineConfig{
			Bus:         "session",
			ProgramName: appName,
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "packages.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "logs", "imebridge.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// DataDir returns the base data directory, honouring IMEBRIDGE_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("IMEBRIDGE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from path, by file extension. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	}
	return cfg, nil
}

// Save writes cfg to path in the format named by its extension, TOML by
// default.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with IMEBRIDGE_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("IMEBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("IMEBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}
	if v := os.Getenv("IMEBRIDGE_DISPLAY_SOCKET"); v != "" {
		c.Display.SocketPath = v
	}
	if v := os.Getenv("IMEBRIDGE_ENGINE_BUS"); v != "" {
		c.Engine.Bus = v
	}
	if v := os.Getenv("IMEBRIDGE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("IMEBRIDGE_THEME"); v != "" {
		c.Theme.Name = v
	}
	if v := os.Getenv("IMEBRIDGE_SYSTEM_INPUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Input.SystemInput = b
		}
	}
	if v := os.Getenv("IMEBRIDGE_IGNORE_SYSTEM_CURSOR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Input.IgnoreSystemCursor = b
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Display.AllowedUIDs = slices.Clone(c.Display.AllowedUIDs)
	return &out
}

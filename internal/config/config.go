package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	BLE      BLEConfig      `yaml:"ble"`
	Poll     PollConfig     `yaml:"poll"`
	HTTP     HTTPConfig     `yaml:"http"`
	Store    StoreConfig    `yaml:"store"`
	Devices  []DeviceConfig `yaml:"devices"`
}

// BLEConfig holds transport settings shared by all sessions.
type BLEConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteWithResponse bool          `yaml:"write_with_response"`
	NotifyBuffer      int           `yaml:"notify_buffer"`
}

// PollConfig holds keepalive settings.
type PollConfig struct {
	Interval     time.Duration `yaml:"interval"`      // 0 disables polling
	InitialDelay time.Duration `yaml:"initial_delay"` // gap between status and bulk requests
}

// HTTPConfig holds the control API settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the API
}

// StoreConfig holds snapshot persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables persistence
}

// DeviceConfig describes one diffuser.
type DeviceConfig struct {
	ID      string `yaml:"id,omitempty"`
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "felshare-ble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			ConnectTimeout: 30 * time.Second,
			NotifyBuffer:   64,
		},
		Poll: PollConfig{
			Interval:     300 * time.Second,
			InitialDelay: 200 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:8723",
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".local", "share", "felshare-ble", "state.db"),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	for i := range cfg.Devices {
		cfg.Devices[i].Address = strings.TrimSpace(cfg.Devices[i].Address)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.NotifyBuffer < 1 {
		return fmt.Errorf("ble.notify_buffer must be >= 1, got %d", c.BLE.NotifyBuffer)
	}

	if c.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}
	if c.Poll.InitialDelay < 0 {
		return fmt.Errorf("poll.initial_delay must not be negative")
	}

	if c.HTTP.Listen != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Listen); err != nil {
			return fmt.Errorf("http.listen %q: %w", c.HTTP.Listen, err)
		}
	}

	ids := make(map[string]bool)
	addrs := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Address == "" {
			return fmt.Errorf("devices[%d].address must not be empty", i)
		}
		addr := strings.ToUpper(d.Address)
		if addrs[addr] {
			return fmt.Errorf("devices[%d]: duplicate address %s", i, d.Address)
		}
		addrs[addr] = true
		if d.ID != "" {
			if ids[d.ID] {
				return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
			}
			ids[d.ID] = true
		}
	}

	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel converts a level name to a slog.Level. Unknown names map to
// info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# felshare-ble configuration
#
# Durations use Go syntax (30s, 5m). Set poll.interval to 0s to disable the
# keepalive, http.listen or store.path to "" to disable the API or the
# snapshot store.
#
# devices:
#   - address: "AA:BB:CC:DD:EE:FF"
#     name: Living room
`

// WriteDefault writes the default config to DefaultConfigPath. It returns the
// path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader+"\n"), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.BLE.ConnectTimeout != 30*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 30s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.WriteWithResponse {
		t.Error("BLE.WriteWithResponse should default to false")
	}
	if cfg.BLE.NotifyBuffer != 64 {
		t.Errorf("BLE.NotifyBuffer = %d, want 64", cfg.BLE.NotifyBuffer)
	}
	if cfg.Poll.Interval != 300*time.Second {
		t.Errorf("Poll.Interval = %v, want 5m0s", cfg.Poll.Interval)
	}
	if cfg.Poll.InitialDelay != 200*time.Millisecond {
		t.Errorf("Poll.InitialDelay = %v, want 200ms", cfg.Poll.InitialDelay)
	}
	if cfg.HTTP.Listen != "127.0.0.1:8723" {
		t.Errorf("HTTP.Listen = %q", cfg.HTTP.Listen)
	}
	if !strings.HasSuffix(cfg.Store.Path, filepath.Join("felshare-ble", "state.db")) {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if len(cfg.Devices) != 0 {
		t.Errorf("Devices = %v, want none", cfg.Devices)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
ble:
  connect_timeout: 10s
  write_with_response: true
  notify_buffer: 16
poll:
  interval: 2m
  initial_delay: 500ms
http:
  listen: ":9000"
store:
  path: /tmp/felshare.db
devices:
  - id: living
    address: " aa:bb:cc:dd:ee:ff "
    name: Living room
  - address: "11:22:33:44:55:66"
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.BLE.ConnectTimeout != 10*time.Second || !cfg.BLE.WriteWithResponse || cfg.BLE.NotifyBuffer != 16 {
		t.Errorf("BLE = %+v", cfg.BLE)
	}
	if cfg.Poll.Interval != 2*time.Minute || cfg.Poll.InitialDelay != 500*time.Millisecond {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.HTTP.Listen != ":9000" {
		t.Errorf("HTTP.Listen = %q", cfg.HTTP.Listen)
	}
	if cfg.Store.Path != "/tmp/felshare.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("Devices = %d, want 2", len(cfg.Devices))
	}
	if d := cfg.Devices[0]; d.ID != "living" || d.Address != "aa:bb:cc:dd:ee:ff" || d.Name != "Living room" {
		t.Errorf("Devices[0] = %+v", d)
	}
	if d := cfg.Devices[1]; d.ID != "" || d.Name != "" {
		t.Errorf("Devices[1] = %+v, want id and name left for the registry", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("poll:\n  interval: 0s\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poll.Interval != 0 {
		t.Errorf("Poll.Interval = %v, want 0", cfg.Poll.Interval)
	}
	if cfg.Poll.InitialDelay != 200*time.Millisecond {
		t.Errorf("Poll.InitialDelay = %v, want default 200ms", cfg.Poll.InitialDelay)
	}
	if cfg.BLE.ConnectTimeout != 30*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want default", cfg.BLE.ConnectTimeout)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("store:\n  path: ~/data/state.db\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := filepath.Join(tmpHome, "data", "state.db")
	if cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble:\n  connect_timeout: soon\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should reject an unparsable duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero notify buffer",
			modify:  func(c *Config) { c.BLE.NotifyBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "negative poll interval",
			modify:  func(c *Config) { c.Poll.Interval = -time.Second },
			wantErr: true,
		},
		{
			name:    "polling disabled",
			modify:  func(c *Config) { c.Poll.Interval = 0 },
			wantErr: false,
		},
		{
			name:    "negative initial delay",
			modify:  func(c *Config) { c.Poll.InitialDelay = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "listen without port",
			modify:  func(c *Config) { c.HTTP.Listen = "localhost" },
			wantErr: true,
		},
		{
			name:    "api disabled",
			modify:  func(c *Config) { c.HTTP.Listen = "" },
			wantErr: false,
		},
		{
			name:    "store disabled",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: false,
		},
		{
			name:    "device without address",
			modify:  func(c *Config) { c.Devices = []DeviceConfig{{Name: "x"}} },
			wantErr: true,
		},
		{
			name: "duplicate address ignores case",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{Address: "AA:BB:CC:DD:EE:FF"}, {Address: "aa:bb:cc:dd:ee:ff"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate id",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "a", Address: "01"}, {ID: "a", Address: "02"}}
			},
			wantErr: true,
		},
		{
			name: "two devices without id",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{Address: "01"}, {Address: "02"}}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "felshare-ble", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# felshare-ble") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.ConnectTimeout != 30*time.Second {
		t.Errorf("written config BLE.ConnectTimeout = %v, want 30s", cfg.BLE.ConnectTimeout)
	}
	if cfg.HTTP.Listen != "127.0.0.1:8723" {
		t.Errorf("written config HTTP.Listen = %q", cfg.HTTP.Listen)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "felshare-ble")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existing := []byte("log_level: debug\n")
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), existing, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existing) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	cfg := Default()
	cfg.LogLevel = "warn"
	if cfg.SlogLevel() != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, want WARN", cfg.SlogLevel())
	}
}

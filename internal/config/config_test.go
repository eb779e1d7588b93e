package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/stepper-ble/internal/ble"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.NamePrefix != "ESP32-L6471" {
		t.Errorf("Device.NamePrefix = %q, want %q", cfg.Device.NamePrefix, "ESP32-L6471")
	}
	if cfg.Device.ServiceUUID != ble.DefaultServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want %q", cfg.Device.ServiceUUID, ble.DefaultServiceUUID)
	}
	if cfg.Connect.MaxAttempts != 3 {
		t.Errorf("Connect.MaxAttempts = %d, want 3", cfg.Connect.MaxAttempts)
	}
	if cfg.Connect.RetryBackoff != 150*time.Millisecond {
		t.Errorf("Connect.RetryBackoff = %v, want 150ms", cfg.Connect.RetryBackoff)
	}
	if cfg.Motor.MicrostepsPerRev != 1600 {
		t.Errorf("Motor.MicrostepsPerRev = %d, want 1600", cfg.Motor.MicrostepsPerRev)
	}
	if cfg.Hotkey.Mode != "hold" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "hold")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  name_prefix: ESP32-BENCH
  service_uuid: 0000ffe0-0000-1000-8000-00805f9b34fb
  command_char_uuid: 0000ffe1-0000-1000-8000-00805f9b34fb
  position_char_uuid: ""
connect:
  max_attempts: 5
  retry_backoff: 300ms
  scan_timeout: 10s
  auto_select: true
motor:
  microsteps_per_rev: 3200
  default_speed: 20
  speed_step: 10
hotkey:
  mode: toggle
  forward: ["alt", "f"]
  reverse: ["alt", "r"]
log_level: debug
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

	if cfg.Device.NamePrefix != "ESP32-BENCH" {
		t.Errorf("Device.NamePrefix = %q, want %q", cfg.Device.NamePrefix, "ESP32-BENCH")
	}
	if cfg.Device.PositionCharUUID != "" {
		t.Errorf("Device.PositionCharUUID = %q, want empty", cfg.Device.PositionCharUUID)
	}
	if cfg.Connect.MaxAttempts != 5 {
		t.Errorf("Connect.MaxAttempts = %d, want 5", cfg.Connect.MaxAttempts)
	}
	if cfg.Connect.RetryBackoff != 300*time.Millisecond {
		t.Errorf("Connect.RetryBackoff = %v, want 300ms", cfg.Connect.RetryBackoff)
	}
	if cfg.Connect.ScanTimeout != 10*time.Second {
		t.Errorf("Connect.ScanTimeout = %v, want 10s", cfg.Connect.ScanTimeout)
	}
	if !cfg.Connect.AutoSelect {
		t.Error("Connect.AutoSelect = false, want true")
	}
	if cfg.Motor.MicrostepsPerRev != 3200 {
		t.Errorf("Motor.MicrostepsPerRev = %d, want 3200", cfg.Motor.MicrostepsPerRev)
	}
	if cfg.Hotkey.Mode != "toggle" {
		t.Errorf("Hotkey.Mode = %q, want %q", cfg.Hotkey.Mode, "toggle")
	}
	if len(cfg.Hotkey.Forward) != 2 || cfg.Hotkey.Forward[0] != "alt" || cfg.Hotkey.Forward[1] != "f" {
		t.Errorf("Hotkey.Forward = %v, want [alt f]", cfg.Hotkey.Forward)
	}
	// Unset sections keep their defaults.
	if len(cfg.Hotkey.Faster) != 3 {
		t.Errorf("Hotkey.Faster = %v, want default combo", cfg.Hotkey.Faster)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("connect: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
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
			name:    "service match only",
			modify:  func(c *Config) { c.Device.NamePrefix = "" },
			wantErr: false,
		},
		{
			name:    "no position characteristic",
			modify:  func(c *Config) { c.Device.PositionCharUUID = "" },
			wantErr: false,
		},
		{
			name:    "bad service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "empty command uuid",
			modify:  func(c *Config) { c.Device.CommandCharUUID = "" },
			wantErr: true,
		},
		{
			name:    "bad position uuid",
			modify:  func(c *Config) { c.Device.PositionCharUUID = "xyz" },
			wantErr: true,
		},
		{
			name:    "zero attempts",
			modify:  func(c *Config) { c.Connect.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative backoff",
			modify:  func(c *Config) { c.Connect.RetryBackoff = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Connect.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero microsteps",
			modify:  func(c *Config) { c.Motor.MicrostepsPerRev = 0 },
			wantErr: true,
		},
		{
			name:    "speed above 100",
			modify:  func(c *Config) { c.Motor.DefaultSpeed = 101 },
			wantErr: true,
		},
		{
			name:    "zero speed step",
			modify:  func(c *Config) { c.Motor.SpeedStep = 0 },
			wantErr: true,
		},
		{
			name:    "invalid hotkey mode",
			modify:  func(c *Config) { c.Hotkey.Mode = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty forward keys",
			modify:  func(c *Config) { c.Hotkey.Forward = nil },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
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

func TestProfileAndClientOptions(t *testing.T) {
	cfg := Default()
	cfg.Connect.MaxAttempts = 4
	cfg.Motor.MicrostepsPerRev = 800

	p := cfg.Profile()
	if p != ble.DefaultProfile() {
		t.Errorf("Profile() = %+v, want %+v", p, ble.DefaultProfile())
	}

	opts := cfg.ClientOptions()
	if opts.MaxAttempts != 4 {
		t.Errorf("ClientOptions().MaxAttempts = %d, want 4", opts.MaxAttempts)
	}
	if opts.MicrostepsPerRev != 800 {
		t.Errorf("ClientOptions().MicrostepsPerRev = %d, want 800", opts.MicrostepsPerRev)
	}
	if opts.RetryBackoff != 150*time.Millisecond {
		t.Errorf("ClientOptions().RetryBackoff = %v, want 150ms", opts.RetryBackoff)
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "stepper-ble", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# stepper-ble") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Connect.RetryBackoff != 150*time.Millisecond {
		t.Errorf("written Connect.RetryBackoff = %v, want 150ms", cfg.Connect.RetryBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "stepper-ble")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
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
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/stepper-ble/internal/ble"
	"github.com/chaz8081/stepper-ble/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Connect  ConnectConfig `yaml:"connect"`
	Motor    MotorConfig   `yaml:"motor"`
	Hotkey   HotkeyConfig  `yaml:"hotkey"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the peripheral and its GATT attributes.
type DeviceConfig struct {
	NamePrefix       string `yaml:"name_prefix"`
	ServiceUUID      string `yaml:"service_uuid"`
	CommandCharUUID  string `yaml:"command_char_uuid"`
	PositionCharUUID string `yaml:"position_char_uuid"` // empty disables position display
}

// ConnectConfig holds discovery and retry settings.
type ConnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
	AutoSelect   bool          `yaml:"auto_select"` // pick the strongest match without prompting
}

// MotorConfig holds motor geometry and speed control settings.
type MotorConfig struct {
	MicrostepsPerRev int `yaml:"microsteps_per_rev"`
	DefaultSpeed     int `yaml:"default_speed"`
	SpeedStep        int `yaml:"speed_step"`
}

// HotkeyConfig holds the key combos for the motor controls.
type HotkeyConfig struct {
	Mode    string   `yaml:"mode"` // "hold" or "toggle"
	Forward []string `yaml:"forward"`
	Reverse []string `yaml:"reverse"`
	Faster  []string `yaml:"faster"`
	Slower  []string `yaml:"slower"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "stepper-ble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePrefix:       ble.DefaultNamePrefix,
			ServiceUUID:      ble.DefaultServiceUUID,
			CommandCharUUID:  ble.DefaultCommandCharUUID,
			PositionCharUUID: ble.DefaultPositionCharUUID,
		},
		Connect: ConnectConfig{
			MaxAttempts:  3,
			RetryBackoff: 150 * time.Millisecond,
			ScanTimeout:  5 * time.Second,
		},
		Motor: MotorConfig{
			MicrostepsPerRev: protocol.DefaultMicrostepsPerRev,
			DefaultSpeed:     50,
			SpeedStep:        5,
		},
		Hotkey: HotkeyConfig{
			Mode:    "hold",
			Forward: []string{"ctrl", "shift", "right"},
			Reverse: []string{"ctrl", "shift", "left"},
			Faster:  []string{"ctrl", "shift", "up"},
			Slower:  []string{"ctrl", "shift", "down"},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.NamePrefix == "" && c.Device.ServiceUUID == "" {
		return fmt.Errorf("device.name_prefix or device.service_uuid must be set")
	}

	for _, f := range []struct {
		key, val string
		optional bool
	}{
		{"device.service_uuid", c.Device.ServiceUUID, false},
		{"device.command_char_uuid", c.Device.CommandCharUUID, false},
		{"device.position_char_uuid", c.Device.PositionCharUUID, true},
	} {
		if f.val == "" {
			if f.optional {
				continue
			}
			return fmt.Errorf("%s must not be empty", f.key)
		}
		if _, err := uuid.Parse(f.val); err != nil {
			return fmt.Errorf("%s is not a valid UUID: %w", f.key, err)
		}
	}

	if c.Connect.MaxAttempts < 1 {
		return fmt.Errorf("connect.max_attempts must be >= 1")
	}
	if c.Connect.RetryBackoff < 0 {
		return fmt.Errorf("connect.retry_backoff must not be negative")
	}
	if c.Connect.ScanTimeout <= 0 {
		return fmt.Errorf("connect.scan_timeout must be > 0")
	}

	if c.Motor.MicrostepsPerRev <= 0 {
		return fmt.Errorf("motor.microsteps_per_rev must be > 0")
	}
	if c.Motor.DefaultSpeed < 0 || c.Motor.DefaultSpeed > protocol.MaxSpeed {
		return fmt.Errorf("motor.default_speed must be within 0..%d, got %d", protocol.MaxSpeed, c.Motor.DefaultSpeed)
	}
	if c.Motor.SpeedStep < 1 || c.Motor.SpeedStep > protocol.MaxSpeed {
		return fmt.Errorf("motor.speed_step must be within 1..%d, got %d", protocol.MaxSpeed, c.Motor.SpeedStep)
	}

	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}
	if len(c.Hotkey.Forward) == 0 || len(c.Hotkey.Reverse) == 0 {
		return fmt.Errorf("hotkey.forward and hotkey.reverse must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Profile returns the BLE profile described by the device section.
func (c *Config) Profile() ble.Profile {
	return ble.Profile{
		NamePrefix:       c.Device.NamePrefix,
		ServiceUUID:      c.Device.ServiceUUID,
		CommandCharUUID:  c.Device.CommandCharUUID,
		PositionCharUUID: c.Device.PositionCharUUID,
	}
}

// ClientOptions returns the BLE client options described by the config.
func (c *Config) ClientOptions() ble.ClientOptions {
	opts := ble.DefaultClientOptions()
	opts.MaxAttempts = c.Connect.MaxAttempts
	opts.RetryBackoff = c.Connect.RetryBackoff
	opts.ScanTimeout = c.Connect.ScanTimeout
	opts.MicrostepsPerRev = c.Motor.MicrostepsPerRev
	return opts
}

// ParseLogLevel maps a config log level to a slog level, defaulting to info.
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

const defaultHeader = "# stepper-ble configuration\n# Generated with defaults; edit to match your ESP32 firmware.\n\n"

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there. It returns the written path, or "" if a file was already
// present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

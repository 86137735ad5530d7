// Package config loads and validates the daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon runtime configuration. All durations are expressed
// as integer milliseconds in the file.
type Config struct {
	// Device identification used to locate the supply among attached HID devices.
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`

	// PollIntervalMs is the telemetry poll cycle period.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// RequestTimeoutMs is the per-request response deadline.
	RequestTimeoutMs int `yaml:"request_timeout_ms"`

	// CommandGraceMs bounds how long the poller defers to waiting commands
	// before contending for the request slot again.
	CommandGraceMs int `yaml:"command_grace_ms"`

	// DecodeRetries is how many re-reads a request gets after a corrupt frame.
	DecodeRetries int `yaml:"decode_retries"`

	// VerifyToleranceMv / VerifyToleranceMa bound the allowed difference
	// between a written setpoint and its read-back.
	VerifyToleranceMv int `yaml:"verify_tolerance_mv"`
	VerifyToleranceMa int `yaml:"verify_tolerance_ma"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		VendorID:          0x2E3C,
		ProductID:         0xAF01,
		PollIntervalMs:    250,
		RequestTimeoutMs:  1000,
		CommandGraceMs:    500,
		DecodeRetries:     1,
		VerifyToleranceMv: 10,
		VerifyToleranceMa: 10,
	}
}

// Load reads the configuration from path, applying defaults for keys the
// file omits. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PollInterval returns the poll cycle period as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RequestTimeout returns the per-request deadline as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// CommandGrace returns the poller yield bound as a duration.
func (c Config) CommandGrace() time.Duration {
	return time.Duration(c.CommandGraceMs) * time.Millisecond
}

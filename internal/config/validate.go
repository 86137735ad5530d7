package config

import "fmt"

// Validate checks configuration correctness.
// It performs declarative validation only and MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg.VendorID == 0 || cfg.ProductID == 0 {
		return fmt.Errorf("vendor_id and product_id must be non-zero")
	}
	if cfg.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0, got %d", cfg.PollIntervalMs)
	}
	if cfg.RequestTimeoutMs <= 0 {
		return fmt.Errorf("request_timeout_ms must be > 0, got %d", cfg.RequestTimeoutMs)
	}
	if cfg.CommandGraceMs < 0 {
		return fmt.Errorf("command_grace_ms must be >= 0, got %d", cfg.CommandGraceMs)
	}
	if cfg.DecodeRetries < 0 {
		return fmt.Errorf("decode_retries must be >= 0, got %d", cfg.DecodeRetries)
	}
	if cfg.VerifyToleranceMv < 0 || cfg.VerifyToleranceMa < 0 {
		return fmt.Errorf("verify tolerances must be >= 0")
	}
	return nil
}

package config

import (
	"fmt"

	"gpuprobe/internal/logging"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateProbe()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateProbe() []ValidationError {
	var errors []ValidationError

	if c.Probe.DeviceIndex < 0 {
		errors = append(errors, ValidationError{
			Path:    "probe.device_index",
			Message: fmt.Sprintf("must be >= 0, got %d", c.Probe.DeviceIndex),
		})
	}

	if c.Probe.LowVRAMThresholdGB <= 0 {
		errors = append(errors, ValidationError{
			Path:    "probe.low_vram_threshold_gb",
			Message: fmt.Sprintf("must be positive, got %g", c.Probe.LowVRAMThresholdGB),
		})
	}

	return errors
}

func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError

	if c.Health.MatrixSize < 1 || c.Health.MatrixSize > MaxMatrixSize {
		errors = append(errors, ValidationError{
			Path:    "health.matrix_size",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxMatrixSize, c.Health.MatrixSize),
		})
	}

	if c.Health.Verify && c.Health.VerifySamples < 1 {
		errors = append(errors, ValidationError{
			Path:    "health.verify_samples",
			Message: fmt.Sprintf("must be at least 1 when verify is enabled, got %d", c.Health.VerifySamples),
		})
	}

	if c.Health.Tolerance <= 0 || c.Health.Tolerance >= 1 {
		errors = append(errors, ValidationError{
			Path:    "health.tolerance",
			Message: fmt.Sprintf("must be in (0, 1), got %g", c.Health.Tolerance),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return []ValidationError{{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error, got '%s'", c.Logging.Level),
		}}
	}
	return nil
}

package config

const (
	// DefaultLowVRAMThresholdGB is the advisory threshold below which operators
	// are told to use small batch sizes.
	DefaultLowVRAMThresholdGB = 7.0
	// DefaultMatrixSize is the side length of the square smoke-test buffer.
	DefaultMatrixSize = 1024
	// MaxMatrixSize bounds the smoke test so it stays a probe, not a workload.
	MaxMatrixSize = 16384
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Probe: ProbeConfig{
			DeviceIndex:        0,
			LowVRAMThresholdGB: DefaultLowVRAMThresholdGB,
		},
		Health: HealthConfig{
			MatrixSize:    DefaultMatrixSize,
			Verify:        false,
			VerifySamples: 16,
			Tolerance:     1e-3,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

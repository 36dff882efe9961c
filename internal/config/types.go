package config

// Config represents the complete gpuprobe configuration
type Config struct {
	Probe   ProbeConfig   `yaml:"probe"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

// ProbeConfig controls the availability probe
type ProbeConfig struct {
	DeviceIndex        int     `yaml:"device_index"`
	LowVRAMThresholdGB float64 `yaml:"low_vram_threshold_gb"`
}

// HealthConfig controls the compute smoke test
type HealthConfig struct {
	MatrixSize    int     `yaml:"matrix_size"`
	Verify        bool    `yaml:"verify"`
	VerifySamples int     `yaml:"verify_samples"`
	Tolerance     float64 `yaml:"tolerance"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// Package probe implements the one-shot GPU readiness probes: availability
// (is a device enumerable, what is it) and health (does a matrix multiply
// actually run on it).
package probe

import (
	"gpuprobe/internal/gpu"
	"gpuprobe/internal/logging"
)

// Result is the transient outcome of a probe invocation.
type Result struct {
	Available        bool   `json:"available"`
	DeviceIndex      int    `json:"device_index"`
	DeviceName       string `json:"device_name,omitempty"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes,omitempty"`
	// LowVRAM is advisory only and never affects pass/fail.
	LowVRAM bool `json:"low_vram"`
	// Functional is set by Health only; nil means no smoke test ran.
	Functional    *bool  `json:"functional,omitempty"`
	DriverVersion string `json:"driver_version,omitempty"`
	CUDAVersion   string `json:"cuda_version,omitempty"`
}

// MemoryGB returns total memory in decimal gigabytes.
func (r Result) MemoryGB() float64 {
	return float64(r.TotalMemoryBytes) / 1e9
}

// Options tune the probes. The zero value is not useful; start from DefaultOptions.
type Options struct {
	DeviceIndex        int
	LowVRAMThresholdGB float64
	MatrixSize         int
	Verify             bool
	VerifySamples      int
	Tolerance          float64
}

// DefaultOptions reproduces the reference behaviour: device 0, 7 GB advisory
// threshold, 1024×1024 smoke test without result verification.
func DefaultOptions() Options {
	return Options{
		DeviceIndex:        0,
		LowVRAMThresholdGB: 7,
		MatrixSize:         1024,
		VerifySamples:      16,
		Tolerance:          1e-3,
	}
}

// Prober runs probes against an explicitly supplied device context.
// It keeps no state between calls.
type Prober struct {
	devices gpu.DeviceContext
	opts    Options
	logger  *logging.Logger
}

// NewProber creates a prober. logger may be nil.
func NewProber(devices gpu.DeviceContext, opts Options, logger *logging.Logger) *Prober {
	return &Prober{
		devices: devices,
		opts:    opts,
		logger:  logger,
	}
}

// CheckAvailability reports whether a device is enumerable and, if so, its
// name and memory. Device absence, including a runtime that cannot start, is
// a clean {Available: false} with a nil error. A failure to read the
// properties of an enumerated device is returned unguarded as a
// KindQueryFailure so the operator sees the raw runtime message.
// It never allocates device memory.
func (p *Prober) CheckAvailability() (Result, error) {
	p.logger.Info("probe.availability.start", "Starting availability probe", nil)

	result := Result{DeviceIndex: p.opts.DeviceIndex}

	count, err := p.devices.DeviceCount()
	if err != nil {
		p.logger.Warn("probe.availability.runtime", "Runtime reported no usable devices", map[string]interface{}{
			"error": err.Error(),
		})
		return result, nil
	}
	if count == 0 {
		p.logger.Warn("probe.availability.none", "No accelerator device detected", nil)
		return result, nil
	}
	result.Available = true

	name, err := p.devices.DeviceName(p.opts.DeviceIndex)
	if err != nil {
		return result, &ProbeError{Kind: KindQueryFailure, Op: OpDeviceName, Err: err}
	}
	result.DeviceName = name

	total, err := p.devices.TotalMemory(p.opts.DeviceIndex)
	if err != nil {
		return result, &ProbeError{Kind: KindQueryFailure, Op: OpTotalMemory, Err: err}
	}
	result.TotalMemoryBytes = total
	result.LowVRAM = result.MemoryGB() < p.opts.LowVRAMThresholdGB

	p.annotateRuntime(&result)

	p.logger.Info("probe.availability.device", "GPU device detected", map[string]interface{}{
		"count":     count,
		"index":     result.DeviceIndex,
		"name":      result.DeviceName,
		"memory_gb": result.MemoryGB(),
		"low_vram":  result.LowVRAM,
	})

	return result, nil
}

// annotateRuntime adds driver and CUDA versions when the runtime can tell.
func (p *Prober) annotateRuntime(result *Result) {
	info, err := p.devices.RuntimeInfo()
	if err != nil {
		p.logger.Debug("probe.runtime.info.failed", "Runtime versions unavailable", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	result.DriverVersion = info.DriverVersion
	result.CUDAVersion = info.CUDAVersionString()
}

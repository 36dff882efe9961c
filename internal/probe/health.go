package probe

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"

	"gpuprobe/internal/gpu"
)

// CheckHealth reports whether a device is present and a matrix multiply runs
// on it. It never panics or returns an error: every failure becomes false.
func (p *Prober) CheckHealth() bool {
	return p.Diagnose() == nil
}

// Health describes the device on a best-effort basis, runs the smoke test
// through Diagnose and records the outcome in Result.Functional.
func (p *Prober) Health() (Result, error) {
	res, queryErr := p.CheckAvailability()
	if queryErr != nil {
		p.logger.Debug("probe.health.describe.failed", "Device properties unavailable for health report", map[string]interface{}{
			"error": queryErr.Error(),
		})
	}

	err := p.Diagnose()
	functional := err == nil
	res.Functional = &functional
	return res, err
}

// Diagnose runs SmokeTest and logs the outcome. CheckHealth only passes the
// boolean on, so the failure kind survives in the log.
func (p *Prober) Diagnose() error {
	if err := p.SmokeTest(); err != nil {
		p.logger.Warn("probe.health.failed", "GPU smoke test failed", map[string]interface{}{
			"kind":  string(KindOf(err)),
			"error": err.Error(),
		})
		return err
	}

	p.logger.Info("probe.health.success", "GPU smoke test passed", map[string]interface{}{
		"matrix_size": p.opts.MatrixSize,
		"device":      p.opts.DeviceIndex,
	})
	return nil
}

// SmokeTest uploads a random N×N buffer, multiplies it by itself on the
// device and frees both allocations. It returns nil when healthy and a
// *ProbeError otherwise, including for panics raised by the runtime binding.
func (p *Prober) SmokeTest() (err error) {
	count, countErr := p.devices.DeviceCount()
	if countErr != nil {
		return &ProbeError{Kind: KindNoDevice, Op: OpDeviceCount, Err: countErr}
	}
	if count == 0 {
		return &ProbeError{Kind: KindNoDevice, Op: OpDeviceCount, Err: gpu.ErrNoDevice}
	}

	stage := gpu.OpAllocate
	defer func() {
		if r := recover(); r != nil {
			err = &ProbeError{Kind: KindComputeFailure, Op: stage, Err: fmt.Errorf("runtime panic: %v", r)}
		}
	}()

	host := gpu.NewRandomMatrix(p.opts.MatrixSize)

	buffer, uploadErr := p.devices.Upload(p.opts.DeviceIndex, host)
	if uploadErr != nil {
		return computeFailure(gpu.OpAllocate, uploadErr)
	}
	defer p.free(buffer, "buffer")

	stage = gpu.OpMultiply
	product, mulErr := buffer.Mul(buffer)
	if mulErr != nil {
		return computeFailure(gpu.OpMultiply, mulErr)
	}
	defer p.free(product, "product")

	if !p.opts.Verify {
		return nil
	}

	stage = OpVerify
	return p.verify(host, product)
}

// verify checks sampled entries of the device product against the host.
// Entries are compared with a tolerance scaled by Σ|a·b| of the dot product,
// which bounds float32 rounding regardless of the values drawn.
func (p *Prober) verify(host blas32.General, product gpu.DeviceMatrix) error {
	got, err := product.Download()
	if err != nil {
		return computeFailure(gpu.OpTransfer, err)
	}
	if got.Rows != host.Rows || got.Cols != host.Cols {
		return &ProbeError{
			Kind: KindComputeFailure,
			Op:   OpVerify,
			Err:  fmt.Errorf("product is %dx%d, want %dx%d", got.Rows, got.Cols, host.Rows, host.Cols),
		}
	}

	for s := 0; s < p.opts.VerifySamples; s++ {
		i, j := samplePosition(s, p.opts.VerifySamples, host.Rows)
		want, scale := gpu.ReferenceEntry(host, host, i, j)
		have := got.Data[i*got.Stride+j]

		if diff := math.Abs(float64(have) - float64(want)); diff > p.opts.Tolerance*math.Max(scale, 1) {
			return &ProbeError{
				Kind: KindComputeFailure,
				Op:   OpVerify,
				Err:  fmt.Errorf("entry (%d,%d) = %g, host reference %g", i, j, have, want),
			}
		}
	}

	p.logger.Debug("probe.health.verified", "Device product matches host reference", map[string]interface{}{
		"samples": p.opts.VerifySamples,
	})
	return nil
}

// samplePosition spreads samples over the main and anti-diagonal.
func samplePosition(s, samples, n int) (int, int) {
	i := 0
	if samples > 1 {
		i = s * (n - 1) / (samples - 1)
	}
	if s%2 == 1 {
		return i, n - 1 - i
	}
	return i, i
}

func (p *Prober) free(m gpu.DeviceMatrix, what string) {
	if err := m.Free(); err != nil {
		p.logger.Warn("probe.health.free.failed", "Failed to free device "+what, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

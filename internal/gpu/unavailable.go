package gpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"gpuprobe/internal/logging"
)

// unavailableContext is the DeviceContext of builds without the cuda tag.
// Every query reports the runtime as unavailable, which the probes treat the
// same as an empty device list.
type unavailableContext struct {
	logger *logging.Logger
}

// NewUnavailableContext returns a context that reports no runtime.
func NewUnavailableContext(logger *logging.Logger) DeviceContext {
	logger.Info("gpu.detect.disabled", "Skipping GPU detection (built without cuda tag)", nil)
	return unavailableContext{logger: logger}
}

func errDisabled() error {
	return fmt.Errorf("%w: CUDA disabled, rebuild with -tags cuda", ErrRuntimeUnavailable)
}

func (unavailableContext) DeviceCount() (int, error) {
	return 0, errDisabled()
}

func (unavailableContext) DeviceName(int) (string, error) {
	return "", errDisabled()
}

func (unavailableContext) TotalMemory(int) (uint64, error) {
	return 0, errDisabled()
}

func (unavailableContext) Upload(index int, _ blas32.General) (DeviceMatrix, error) {
	return nil, &OpError{Op: OpAllocate, Device: index, Err: ErrComputeUnavailable}
}

func (unavailableContext) RuntimeInfo() (RuntimeInfo, error) {
	return RuntimeInfo{Backend: "none"}, errDisabled()
}

func (unavailableContext) Close() error {
	return nil
}

//go:build !cuda

package cudart

import (
	"gpuprobe/internal/gpu"
	"gpuprobe/internal/logging"
)

// NewDefaultContext returns a context that reports no runtime.
func NewDefaultContext(logger *logging.Logger) gpu.DeviceContext {
	return gpu.NewUnavailableContext(logger)
}

//go:build cuda

package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"gonum.org/v1/gonum/blas/blas32"

	"gpuprobe/internal/logging"
)

// NVMLContext enumerates devices through the compute runtime, so that
// CUDA_VISIBLE_DEVICES applies, and reads their properties through NVML. A
// runtime ordinal is matched to its NVML board by UUID.
type NVMLContext struct {
	nvml        NVMLInterface
	compute     ComputeRuntime
	logger      *logging.Logger
	initialized bool
}

// NewNVMLContext creates a context over an NVML interface and a compute
// runtime. A nil compute reports the runtime as unavailable.
func NewNVMLContext(nvmlInterface NVMLInterface, compute ComputeRuntime, logger *logging.Logger) *NVMLContext {
	return &NVMLContext{
		nvml:    nvmlInterface,
		compute: compute,
		logger:  logger,
	}
}

func (c *NVMLContext) init() error {
	if c.initialized {
		return nil
	}

	if ret := c.nvml.Init(); ret != nvml.SUCCESS {
		c.logger.Warn("gpu.nvml.init.failed", "NVML initialization failed", map[string]interface{}{
			"error": nvml.ErrorString(ret),
		})
		return fmt.Errorf("%w: failed to initialize NVML: %s", ErrRuntimeUnavailable, nvml.ErrorString(ret))
	}

	c.initialized = true
	c.logger.Debug("gpu.nvml.init", "NVML initialized", nil)
	return nil
}

// DeviceCount returns the number of devices the compute runtime can use.
func (c *NVMLContext) DeviceCount() (int, error) {
	if c.compute == nil {
		return 0, fmt.Errorf("%w: no compute runtime", ErrRuntimeUnavailable)
	}

	count, err := c.compute.DeviceCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get device count: %w", err)
	}
	return count, nil
}

// handle resolves a runtime ordinal to the NVML handle of the same board.
func (c *NVMLContext) handle(index int) (DeviceInterface, error) {
	if c.compute == nil {
		return nil, fmt.Errorf("%w: no compute runtime", ErrRuntimeUnavailable)
	}

	uuid, err := c.compute.DeviceUUID(index)
	if err != nil {
		return nil, fmt.Errorf("failed to get UUID of device %d: %w", index, err)
	}

	if err := c.init(); err != nil {
		return nil, err
	}

	count, ret := c.nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get NVML device count: %s", nvml.ErrorString(ret))
	}

	for i := 0; i < count; i++ {
		device, ret := c.nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			c.logger.Debug("gpu.nvml.handle.failed", "Skipping device without handle", map[string]interface{}{
				"nvml_index": i,
				"error":      nvml.ErrorString(ret),
			})
			continue
		}

		deviceUUID, ret := device.GetUUID()
		if ret != nvml.SUCCESS {
			c.logger.Debug("gpu.nvml.uuid.failed", "Skipping device without UUID", map[string]interface{}{
				"nvml_index": i,
				"error":      nvml.ErrorString(ret),
			})
			continue
		}

		if deviceUUID == uuid {
			return device, nil
		}
	}

	return nil, fmt.Errorf("device %d (%s) not found by NVML", index, uuid)
}

// DeviceName returns the product name of the device at index.
func (c *NVMLContext) DeviceName(index int) (string, error) {
	device, err := c.handle(index)
	if err != nil {
		return "", err
	}

	name, ret := device.GetName()
	if ret != nvml.SUCCESS {
		return "", fmt.Errorf("failed to get name of device %d: %s", index, nvml.ErrorString(ret))
	}
	return name, nil
}

// TotalMemory returns the total framebuffer memory of the device in bytes.
func (c *NVMLContext) TotalMemory(index int) (uint64, error) {
	device, err := c.handle(index)
	if err != nil {
		return 0, err
	}

	memInfo, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get memory info of device %d: %s", index, nvml.ErrorString(ret))
	}
	return memInfo.Total, nil
}

// Upload hands the host matrix to the compute runtime.
func (c *NVMLContext) Upload(index int, host blas32.General) (DeviceMatrix, error) {
	if c.compute == nil {
		return nil, &OpError{Op: OpAllocate, Device: index, Err: ErrComputeUnavailable}
	}
	return c.compute.Upload(index, host)
}

// RuntimeInfo reports driver and CUDA versions. Version lookups that fail are
// left empty; only an NVML init failure is returned as an error.
func (c *NVMLContext) RuntimeInfo() (RuntimeInfo, error) {
	info := RuntimeInfo{Backend: "nvml", ComputeBuild: c.compute != nil}
	if err := c.init(); err != nil {
		return info, err
	}

	if driverVersion, ret := c.nvml.SystemGetDriverVersion(); ret == nvml.SUCCESS {
		info.DriverVersion = driverVersion
	} else {
		c.logger.Warn("gpu.driver.version.failed", "Failed to get driver version", map[string]interface{}{
			"error": nvml.ErrorString(ret),
		})
	}

	if cudaVersion, ret := c.nvml.SystemGetCudaDriverVersion(); ret == nvml.SUCCESS {
		info.CUDAVersion = cudaVersion
	} else {
		c.logger.Warn("gpu.cuda.version.failed", "Failed to get CUDA version", map[string]interface{}{
			"error": nvml.ErrorString(ret),
		})
	}

	return info, nil
}

// Close shuts NVML down if it was initialized.
func (c *NVMLContext) Close() error {
	if !c.initialized {
		return nil
	}
	c.initialized = false

	if ret := c.nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shut down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

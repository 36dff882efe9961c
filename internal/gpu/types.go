package gpu

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"
)

var (
	// ErrRuntimeUnavailable is returned when the accelerator runtime cannot be
	// initialised (no driver, missing library, build without the cuda tag).
	ErrRuntimeUnavailable = errors.New("accelerator runtime unavailable")
	// ErrComputeUnavailable is returned by Upload when this build has no
	// device compute backend.
	ErrComputeUnavailable = errors.New("device compute backend unavailable")
	// ErrNoDevice indicates the runtime enumerated zero devices.
	ErrNoDevice = errors.New("no accelerator device detected")
	// ErrFreed is returned when a freed DeviceMatrix is used.
	ErrFreed = errors.New("device matrix already freed")
)

// Device operations reported in OpError.
const (
	OpAllocate    = "allocate"
	OpTransfer    = "transfer"
	OpMultiply    = "multiply"
	OpSynchronize = "synchronize"
	OpFree        = "free"
)

// OpError attributes a compute failure to the device operation that raised it.
type OpError struct {
	Op     string
	Device int
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s on device %d: %v", e.Op, e.Device, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Uploader moves host matrices into device memory.
type Uploader interface {
	Upload(index int, host blas32.General) (DeviceMatrix, error)
}

// ComputeRuntime is the compute side of the accelerator runtime. Its ordinals
// honour CUDA_VISIBLE_DEVICES, so they are the device indices the probes use.
type ComputeRuntime interface {
	Uploader
	// DeviceCount returns the number of devices the runtime can compute on.
	DeviceCount() (int, error)
	// DeviceUUID returns the NVML form ("GPU-...") of the device's UUID.
	DeviceUUID(index int) (string, error)
}

// DeviceContext is the accelerator runtime's device state, passed explicitly
// to the probes so that tests can substitute a fake.
type DeviceContext interface {
	// DeviceCount returns the number of devices visible to the runtime.
	DeviceCount() (int, error)
	// DeviceName returns the product name of the device at index.
	DeviceName(index int) (string, error)
	// TotalMemory returns total device memory in bytes.
	TotalMemory(index int) (uint64, error)
	// Upload allocates a matrix on the device and copies host into it.
	Uploader
	// RuntimeInfo reports driver and CUDA versions on a best-effort basis.
	RuntimeInfo() (RuntimeInfo, error)
	// Close releases runtime handles.
	Close() error
}

// DeviceMatrix is a row-major float32 matrix resident in device memory.
type DeviceMatrix interface {
	Rows() int
	Cols() int
	// Mul computes m × other on the device and waits for completion.
	Mul(other DeviceMatrix) (DeviceMatrix, error)
	// Download copies the matrix back into host memory.
	Download() (blas32.General, error)
	Free() error
}

// RuntimeInfo describes the installed runtime.
type RuntimeInfo struct {
	Backend       string `json:"backend"`
	DriverVersion string `json:"driver_version,omitempty"`
	CUDAVersion   int    `json:"cuda_version,omitempty"`
	ComputeBuild  bool   `json:"compute_build"`
}

// CUDAVersionString renders the packed NVML CUDA version (e.g. 12020) as "12.2".
func (i RuntimeInfo) CUDAVersionString() string {
	if i.CUDAVersion <= 0 {
		return ""
	}
	return fmt.Sprintf("%d.%d", i.CUDAVersion/1000, (i.CUDAVersion%1000)/10)
}

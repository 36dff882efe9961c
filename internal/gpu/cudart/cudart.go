//go:build cuda

package cudart

/*
#cgo CFLAGS: -I/usr/local/cuda/include
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lcudart -lcublas

#include <stddef.h>
#include <string.h>
#include <cuda_runtime.h>
#include <cublas_v2.h>

enum {
	GP_STAGE_NONE = 0,
	GP_STAGE_SET_DEVICE,
	GP_STAGE_ALLOC,
	GP_STAGE_COPY,
	GP_STAGE_CUBLAS_CREATE,
	GP_STAGE_GEMM,
	GP_STAGE_SYNC,
	GP_STAGE_FREE,
	GP_STAGE_COUNT,
	GP_STAGE_PROPERTIES
};

// gp_device_count treats cudaErrorNoDevice, which CUDA_VISIBLE_DEVICES="" also
// produces, as zero devices.
static int gp_device_count(int *count, int *code) {
	cudaError_t err = cudaGetDeviceCount(count);
	if (err == cudaErrorNoDevice) { *count = 0; return GP_STAGE_NONE; }
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_COUNT; }
	return GP_STAGE_NONE;
}

static int gp_device_uuid(int dev, unsigned char *out, int *code) {
	struct cudaDeviceProp prop;
	cudaError_t err = cudaGetDeviceProperties(&prop, dev);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_PROPERTIES; }
	memcpy(out, prop.uuid.bytes, 16);
	return GP_STAGE_NONE;
}

// Each helper selects the device itself: the CUDA runtime keeps the current
// device per OS thread and goroutines may move between threads across calls.

static int gp_upload(int dev, const float *host, size_t count, float **out, int *code) {
	cudaError_t err = cudaSetDevice(dev);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_SET_DEVICE; }

	float *d = NULL;
	err = cudaMalloc((void **)&d, count * sizeof(float));
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_ALLOC; }

	err = cudaMemcpy(d, host, count * sizeof(float), cudaMemcpyHostToDevice);
	if (err != cudaSuccess) { cudaFree(d); *code = (int)err; return GP_STAGE_COPY; }

	*out = d;
	return GP_STAGE_NONE;
}

// gp_sgemm computes the row-major product C(m×n) = A(m×k) · B(k×n). cuBLAS is
// column-major, so it evaluates Cᵀ = Bᵀ · Aᵀ over the same buffers.
static int gp_sgemm(int dev, int m, int k, int n, const float *a, const float *b, float **out, int *code) {
	cudaError_t err = cudaSetDevice(dev);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_SET_DEVICE; }

	float *c = NULL;
	err = cudaMalloc((void **)&c, (size_t)m * (size_t)n * sizeof(float));
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_ALLOC; }

	cublasHandle_t handle;
	cublasStatus_t st = cublasCreate(&handle);
	if (st != CUBLAS_STATUS_SUCCESS) { cudaFree(c); *code = (int)st; return GP_STAGE_CUBLAS_CREATE; }

	const float alpha = 1.0f, beta = 0.0f;
	st = cublasSgemm(handle, CUBLAS_OP_N, CUBLAS_OP_N, n, m, k, &alpha, b, n, a, k, &beta, c, n);
	if (st != CUBLAS_STATUS_SUCCESS) { cublasDestroy(handle); cudaFree(c); *code = (int)st; return GP_STAGE_GEMM; }

	err = cudaDeviceSynchronize();
	cublasDestroy(handle);
	if (err != cudaSuccess) { cudaFree(c); *code = (int)err; return GP_STAGE_SYNC; }

	*out = c;
	return GP_STAGE_NONE;
}

static int gp_download(int dev, float *host, const float *d, size_t count, int *code) {
	cudaError_t err = cudaSetDevice(dev);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_SET_DEVICE; }

	err = cudaMemcpy(host, d, count * sizeof(float), cudaMemcpyDeviceToHost);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_COPY; }
	return GP_STAGE_NONE;
}

static int gp_free(int dev, float *d, int *code) {
	cudaError_t err = cudaSetDevice(dev);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_SET_DEVICE; }

	err = cudaFree(d);
	if (err != cudaSuccess) { *code = (int)err; return GP_STAGE_FREE; }
	return GP_STAGE_NONE;
}

static const char *gp_cuda_error_string(int code) {
	return cudaGetErrorString((cudaError_t)code);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/blas/blas32"

	"gpuprobe/internal/gpu"
	"gpuprobe/internal/logging"
)

// CUDAError carries a raw CUDA runtime or cuBLAS status code.
type CUDAError struct {
	Call    string
	Code    int
	Message string
}

func (e *CUDAError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Call, e.Code, e.Message)
}

// stageError maps a helper stage and status code to a gpu.OpError.
func stageError(dev, stage int, code C.int) error {
	cudaErr := func(call string) *CUDAError {
		return cudaError(call, code)
	}
	blasErr := func(call string) *CUDAError {
		return &CUDAError{Call: call, Code: int(code), Message: fmt.Sprintf("cuBLAS status %d", int(code))}
	}

	switch stage {
	case C.GP_STAGE_SET_DEVICE:
		return &gpu.OpError{Op: gpu.OpAllocate, Device: dev, Err: cudaErr("cudaSetDevice")}
	case C.GP_STAGE_ALLOC:
		return &gpu.OpError{Op: gpu.OpAllocate, Device: dev, Err: cudaErr("cudaMalloc")}
	case C.GP_STAGE_COPY:
		return &gpu.OpError{Op: gpu.OpTransfer, Device: dev, Err: cudaErr("cudaMemcpy")}
	case C.GP_STAGE_CUBLAS_CREATE:
		return &gpu.OpError{Op: gpu.OpMultiply, Device: dev, Err: blasErr("cublasCreate")}
	case C.GP_STAGE_GEMM:
		return &gpu.OpError{Op: gpu.OpMultiply, Device: dev, Err: blasErr("cublasSgemm")}
	case C.GP_STAGE_SYNC:
		return &gpu.OpError{Op: gpu.OpSynchronize, Device: dev, Err: cudaErr("cudaDeviceSynchronize")}
	case C.GP_STAGE_FREE:
		return &gpu.OpError{Op: gpu.OpFree, Device: dev, Err: cudaErr("cudaFree")}
	default:
		return &gpu.OpError{Op: gpu.OpMultiply, Device: dev, Err: fmt.Errorf("unknown failure stage %d", stage)}
	}
}

// NewDefaultContext returns the production context: the CUDA runtime for
// enumeration and compute, NVML for device properties and versions.
func NewDefaultContext(logger *logging.Logger) gpu.DeviceContext {
	return gpu.NewNVMLContext(gpu.NewRealNVML(), newCUDARuntime(logger), logger)
}

// cudaRuntime implements gpu.ComputeRuntime with the CUDA runtime API.
type cudaRuntime struct {
	logger *logging.Logger
}

func newCUDARuntime(logger *logging.Logger) *cudaRuntime {
	return &cudaRuntime{logger: logger}
}

func cudaError(call string, code C.int) *CUDAError {
	return &CUDAError{Call: call, Code: int(code), Message: C.GoString(C.gp_cuda_error_string(code))}
}

// DeviceCount returns the number of devices visible through CUDA_VISIBLE_DEVICES.
// A runtime that cannot start (driver missing or too old) is unavailable.
func (c *cudaRuntime) DeviceCount() (int, error) {
	var count, code C.int
	if stage := C.gp_device_count(&count, &code); stage != C.GP_STAGE_NONE {
		err := cudaError("cudaGetDeviceCount", code)
		c.logger.Warn("gpu.cuda.count.failed", "CUDA runtime could not enumerate devices", map[string]interface{}{
			"error": err.Error(),
		})
		return 0, fmt.Errorf("%w: %v", gpu.ErrRuntimeUnavailable, err)
	}
	return int(count), nil
}

// DeviceUUID returns the UUID of a runtime ordinal in NVML's format.
func (c *cudaRuntime) DeviceUUID(index int) (string, error) {
	var raw [16]C.uchar
	var code C.int
	if stage := C.gp_device_uuid(C.int(index), &raw[0], &code); stage != C.GP_STAGE_NONE {
		return "", cudaError("cudaGetDeviceProperties", code)
	}

	var uuid [16]byte
	for i := range raw {
		uuid[i] = byte(raw[i])
	}
	return gpu.FormatDeviceUUID(uuid), nil
}

func (c *cudaRuntime) Upload(index int, host blas32.General) (gpu.DeviceMatrix, error) {
	if host.Rows <= 0 || host.Cols <= 0 || host.Stride != host.Cols || len(host.Data) < host.Rows*host.Cols {
		return nil, &gpu.OpError{Op: gpu.OpTransfer, Device: index, Err: errors.New("host matrix must be dense and non-empty")}
	}

	var ptr *C.float
	var code C.int
	count := C.size_t(host.Rows * host.Cols)
	stage := C.gp_upload(C.int(index), (*C.float)(unsafe.Pointer(&host.Data[0])), count, &ptr, &code)
	if stage != C.GP_STAGE_NONE {
		return nil, stageError(index, int(stage), code)
	}

	c.logger.Debug("gpu.cuda.upload", "Matrix uploaded", map[string]interface{}{
		"device": index,
		"rows":   host.Rows,
		"cols":   host.Cols,
	})

	return &cudaMatrix{device: index, rows: host.Rows, cols: host.Cols, ptr: ptr}, nil
}

type cudaMatrix struct {
	device int
	rows   int
	cols   int
	ptr    *C.float
}

func (m *cudaMatrix) Rows() int { return m.rows }

func (m *cudaMatrix) Cols() int { return m.cols }

func (m *cudaMatrix) Mul(other gpu.DeviceMatrix) (gpu.DeviceMatrix, error) {
	o, ok := other.(*cudaMatrix)
	if !ok {
		return nil, &gpu.OpError{Op: gpu.OpMultiply, Device: m.device, Err: errors.New("operand is not a CUDA matrix")}
	}
	if m.ptr == nil || o.ptr == nil {
		return nil, &gpu.OpError{Op: gpu.OpMultiply, Device: m.device, Err: gpu.ErrFreed}
	}
	if o.device != m.device {
		return nil, &gpu.OpError{Op: gpu.OpMultiply, Device: m.device, Err: fmt.Errorf("operand resides on device %d", o.device)}
	}
	if m.cols != o.rows {
		return nil, &gpu.OpError{Op: gpu.OpMultiply, Device: m.device, Err: fmt.Errorf("dimension mismatch: %dx%d × %dx%d", m.rows, m.cols, o.rows, o.cols)}
	}

	var out *C.float
	var code C.int
	stage := C.gp_sgemm(C.int(m.device), C.int(m.rows), C.int(m.cols), C.int(o.cols), m.ptr, o.ptr, &out, &code)
	if stage != C.GP_STAGE_NONE {
		return nil, stageError(m.device, int(stage), code)
	}

	return &cudaMatrix{device: m.device, rows: m.rows, cols: o.cols, ptr: out}, nil
}

func (m *cudaMatrix) Download() (blas32.General, error) {
	if m.ptr == nil {
		return blas32.General{}, &gpu.OpError{Op: gpu.OpTransfer, Device: m.device, Err: gpu.ErrFreed}
	}

	data := make([]float32, m.rows*m.cols)
	var code C.int
	stage := C.gp_download(C.int(m.device), (*C.float)(unsafe.Pointer(&data[0])), m.ptr, C.size_t(len(data)), &code)
	if stage != C.GP_STAGE_NONE {
		return blas32.General{}, stageError(m.device, int(stage), code)
	}

	return blas32.General{Rows: m.rows, Cols: m.cols, Stride: m.cols, Data: data}, nil
}

func (m *cudaMatrix) Free() error {
	if m.ptr == nil {
		return &gpu.OpError{Op: gpu.OpFree, Device: m.device, Err: gpu.ErrFreed}
	}

	var code C.int
	stage := C.gp_free(C.int(m.device), m.ptr, &code)
	m.ptr = nil
	if stage != C.GP_STAGE_NONE {
		return stageError(m.device, int(stage), code)
	}
	return nil
}

package probe

import (
	"errors"
	"fmt"

	"gpuprobe/internal/gpu"
)

// ErrorKind classifies probe failures.
type ErrorKind string

const (
	// KindNoDevice means the runtime enumerated no device or could not be initialised.
	KindNoDevice ErrorKind = "no-device"
	// KindQueryFailure means a device was enumerated but its properties could not be read.
	KindQueryFailure ErrorKind = "query-failure"
	// KindComputeFailure means allocation, transfer, multiplication or verification failed.
	KindComputeFailure ErrorKind = "compute-failure"
)

// Operations recorded in ProbeError.Op besides the gpu.Op* device operations.
const (
	OpDeviceCount = "device-count"
	OpDeviceName  = "device-name"
	OpTotalMemory = "total-memory"
	OpVerify      = "verify"
)

// ProbeError is the failure half of a probe outcome.
type ProbeError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the ProbeError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr.Kind
	}
	return ""
}

// computeFailure attributes err to the device operation that raised it.
func computeFailure(fallbackOp string, err error) *ProbeError {
	op := fallbackOp
	var opErr *gpu.OpError
	if errors.As(err, &opErr) {
		op = opErr.Op
	}
	return &ProbeError{Kind: KindComputeFailure, Op: op, Err: err}
}

package gpu

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"
)

var errInvalidOrdinal = errors.New("invalid device ordinal")

// FakeDevice describes one simulated accelerator.
type FakeDevice struct {
	Name        string
	TotalMemory uint64
	NameErr     error
	MemoryErr   error
}

// FakeContext is an in-memory DeviceContext used by tests and dry runs.
// Matrix products are evaluated on the host with gonum when downloaded.
type FakeContext struct {
	Devices  []FakeDevice
	CountErr error
	// UploadErr fails the allocation step.
	UploadErr error
	// MulErr fails the multiply step, e.g. to simulate out-of-memory.
	MulErr error
	// MulPanic, when non-nil, is raised as a panic from Mul.
	MulPanic interface{}
	// Corrupt perturbs downloaded products so result verification fails.
	Corrupt bool
	Info    RuntimeInfo

	mu      sync.Mutex
	live    int
	uploads int
	closed  bool
}

// NewFakeContext returns a fake runtime exposing the given devices.
func NewFakeContext(devices ...FakeDevice) *FakeContext {
	return &FakeContext{
		Devices: devices,
		Info:    RuntimeInfo{Backend: "fake", ComputeBuild: true},
	}
}

// DeviceCount returns the number of configured devices.
func (f *FakeContext) DeviceCount() (int, error) {
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	return len(f.Devices), nil
}

// DeviceName returns the configured name or NameErr.
func (f *FakeContext) DeviceName(index int) (string, error) {
	dev, err := f.device(index)
	if err != nil {
		return "", err
	}
	if dev.NameErr != nil {
		return "", dev.NameErr
	}
	return dev.Name, nil
}

// TotalMemory returns the configured memory size or MemoryErr.
func (f *FakeContext) TotalMemory(index int) (uint64, error) {
	dev, err := f.device(index)
	if err != nil {
		return 0, err
	}
	if dev.MemoryErr != nil {
		return 0, dev.MemoryErr
	}
	return dev.TotalMemory, nil
}

// Upload copies host into a simulated device allocation.
func (f *FakeContext) Upload(index int, host blas32.General) (DeviceMatrix, error) {
	if _, err := f.device(index); err != nil {
		return nil, &OpError{Op: OpAllocate, Device: index, Err: err}
	}
	if f.UploadErr != nil {
		return nil, &OpError{Op: OpAllocate, Device: index, Err: f.UploadErr}
	}

	data := make([]float32, len(host.Data))
	copy(data, host.Data)

	f.mu.Lock()
	f.live++
	f.uploads++
	f.mu.Unlock()

	return &fakeMatrix{
		ctx:   f,
		index: index,
		value: blas32.General{Rows: host.Rows, Cols: host.Cols, Stride: host.Stride, Data: data},
	}, nil
}

// RuntimeInfo returns Info.
func (f *FakeContext) RuntimeInfo() (RuntimeInfo, error) {
	return f.Info, nil
}

// Close marks the context closed.
func (f *FakeContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// LiveMatrices reports allocations not yet freed.
func (f *FakeContext) LiveMatrices() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Uploads reports the total number of Upload calls that allocated.
func (f *FakeContext) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// Closed reports whether Close was called.
func (f *FakeContext) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeContext) device(index int) (FakeDevice, error) {
	if index < 0 || index >= len(f.Devices) {
		return FakeDevice{}, fmt.Errorf("%w: %d", errInvalidOrdinal, index)
	}
	return f.Devices[index], nil
}

// fakeMatrix holds either uploaded data or a pending product of two operands.
type fakeMatrix struct {
	ctx   *FakeContext
	index int
	value blas32.General
	lhs   *blas32.General
	rhs   *blas32.General
	freed bool
}

func (m *fakeMatrix) Rows() int {
	if m.lhs != nil {
		return m.lhs.Rows
	}
	return m.value.Rows
}

func (m *fakeMatrix) Cols() int {
	if m.rhs != nil {
		return m.rhs.Cols
	}
	return m.value.Cols
}

func (m *fakeMatrix) Mul(other DeviceMatrix) (DeviceMatrix, error) {
	if m.freed {
		return nil, &OpError{Op: OpMultiply, Device: m.index, Err: ErrFreed}
	}
	o, ok := other.(*fakeMatrix)
	if !ok || o.ctx != m.ctx {
		return nil, &OpError{Op: OpMultiply, Device: m.index, Err: errors.New("operand belongs to another context")}
	}
	if o.freed {
		return nil, &OpError{Op: OpMultiply, Device: m.index, Err: ErrFreed}
	}
	if m.Cols() != o.Rows() {
		return nil, &OpError{Op: OpMultiply, Device: m.index, Err: fmt.Errorf("dimension mismatch: %dx%d × %dx%d", m.Rows(), m.Cols(), o.Rows(), o.Cols())}
	}
	if m.ctx.MulPanic != nil {
		panic(m.ctx.MulPanic)
	}
	if m.ctx.MulErr != nil {
		return nil, &OpError{Op: OpMultiply, Device: m.index, Err: m.ctx.MulErr}
	}

	lhs, err := m.resolve()
	if err != nil {
		return nil, err
	}
	rhs, err := o.resolve()
	if err != nil {
		return nil, err
	}

	m.ctx.mu.Lock()
	m.ctx.live++
	m.ctx.mu.Unlock()

	return &fakeMatrix{ctx: m.ctx, index: m.index, lhs: &lhs, rhs: &rhs}, nil
}

func (m *fakeMatrix) Download() (blas32.General, error) {
	if m.freed {
		return blas32.General{}, &OpError{Op: OpTransfer, Device: m.index, Err: ErrFreed}
	}
	out, err := m.resolve()
	if err != nil {
		return blas32.General{}, err
	}
	data := make([]float32, len(out.Data))
	copy(data, out.Data)
	if m.ctx.Corrupt && m.lhs != nil {
		for i := range data {
			data[i] += 1
		}
	}
	return blas32.General{Rows: out.Rows, Cols: out.Cols, Stride: out.Stride, Data: data}, nil
}

func (m *fakeMatrix) Free() error {
	if m.freed {
		return &OpError{Op: OpFree, Device: m.index, Err: ErrFreed}
	}
	m.freed = true
	m.ctx.mu.Lock()
	m.ctx.live--
	m.ctx.mu.Unlock()
	return nil
}

// resolve evaluates a pending product on the host and caches it.
func (m *fakeMatrix) resolve() (blas32.General, error) {
	if m.lhs == nil {
		return m.value, nil
	}
	if m.value.Data == nil {
		product, err := hostMul(*m.lhs, *m.rhs)
		if err != nil {
			return blas32.General{}, &OpError{Op: OpMultiply, Device: m.index, Err: err}
		}
		m.value = product
	}
	return m.value, nil
}

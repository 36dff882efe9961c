//go:build cuda

package gpu

import (
	"errors"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas/blas32"

	"gpuprobe/internal/logging"
)

const (
	mockDriverVersion = "535.104.05"
	uuidBoard0        = "GPU-12345678-1234-1234-1234-123456789012"
	uuidBoard1        = "GPU-87654321-4321-4321-4321-210987654321"
)

func mockDevice(name, uuid string, memory uint64) MockDevice {
	return MockDevice{
		Name:             name,
		NameReturn:       nvml.SUCCESS,
		UUID:             uuid,
		UUIDReturn:       nvml.SUCCESS,
		MemoryTotal:      memory,
		MemoryInfoReturn: nvml.SUCCESS,
	}
}

func newMockNVML(devices ...MockDevice) *MockNVML {
	mock := NewMockNVML()
	mock.DriverVersion = mockDriverVersion
	mock.CudaVersion = 12020
	mock.DeviceCount = len(devices)
	mock.Devices = devices
	return mock
}

func newMockRTX2060() *MockNVML {
	return newMockNVML(mockDevice("NVIDIA GeForce RTX 2060", uuidBoard0, 6*1024*1024*1024))
}

// fakeRuntime lists the UUIDs of the devices the compute runtime exposes, in
// runtime ordinal order.
type fakeRuntime struct {
	visible  []string
	countErr error

	uploadIndex int
	uploadRows  int
}

func (r *fakeRuntime) DeviceCount() (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return len(r.visible), nil
}

func (r *fakeRuntime) DeviceUUID(index int) (string, error) {
	if index < 0 || index >= len(r.visible) {
		return "", errors.New("invalid device ordinal")
	}
	return r.visible[index], nil
}

func (r *fakeRuntime) Upload(index int, host blas32.General) (DeviceMatrix, error) {
	r.uploadIndex = index
	r.uploadRows = host.Rows
	return nil, errors.New("recorded")
}

func TestNVMLContext_Queries(t *testing.T) {
	logger := logging.NewLogger(logging.LevelError)
	mock := newMockRTX2060()
	ctx := NewNVMLContext(mock, &fakeRuntime{visible: []string{uuidBoard0}}, logger)

	count, err := ctx.DeviceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	name, err := ctx.DeviceName(0)
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 2060", name)

	total, err := ctx.TotalMemory(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6*1024*1024*1024), total)

	// NVML is initialised once across queries
	assert.Equal(t, 1, mock.initCalls)

	require.NoError(t, ctx.Close())
	assert.Equal(t, 1, mock.shutdownCalls)
	require.NoError(t, ctx.Close())
	assert.Equal(t, 1, mock.shutdownCalls, "second Close must not shut down again")
}

func TestNVMLContext_CountFollowsRuntime(t *testing.T) {
	mock := newMockNVML(
		mockDevice("NVIDIA A100-SXM4-40GB", uuidBoard0, 40_000_000_000),
		mockDevice("NVIDIA GeForce RTX 2060", uuidBoard1, 6_000_000_000),
	)

	// CUDA_VISIBLE_DEVICES="" hides every board NVML still lists.
	ctx := NewNVMLContext(mock, &fakeRuntime{}, nil)
	count, err := ctx.DeviceCount()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, mock.initCalls, "counting must not depend on NVML")
}

func TestNVMLContext_OrdinalMapsByUUID(t *testing.T) {
	mock := newMockNVML(
		mockDevice("NVIDIA A100-SXM4-40GB", uuidBoard0, 40_000_000_000),
		mockDevice("NVIDIA GeForce RTX 2060", uuidBoard1, 6_000_000_000),
	)

	// CUDA_VISIBLE_DEVICES=1: runtime ordinal 0 is NVML board 1.
	ctx := NewNVMLContext(mock, &fakeRuntime{visible: []string{uuidBoard1}}, nil)

	count, err := ctx.DeviceCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	name, err := ctx.DeviceName(0)
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 2060", name)

	total, err := ctx.TotalMemory(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000_000_000), total)
}

func TestNVMLContext_UUIDLookupSkipsUnreadableBoards(t *testing.T) {
	broken := mockDevice("NVIDIA A100-SXM4-40GB", "", 40_000_000_000)
	broken.UUIDReturn = nvml.ERROR_GPU_IS_LOST
	mock := newMockNVML(broken, mockDevice("NVIDIA GeForce RTX 2060", uuidBoard1, 6_000_000_000))
	ctx := NewNVMLContext(mock, &fakeRuntime{visible: []string{uuidBoard1}}, nil)

	name, err := ctx.DeviceName(0)
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA GeForce RTX 2060", name)
}

func TestNVMLContext_UUIDNotFound(t *testing.T) {
	ctx := NewNVMLContext(newMockRTX2060(), &fakeRuntime{visible: []string{uuidBoard1}}, nil)

	_, err := ctx.DeviceName(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), uuidBoard1)
}

func TestNVMLContext_InitFailed(t *testing.T) {
	mock := NewMockNVML()
	mock.InitReturn = nvml.ERROR_LIBRARY_NOT_FOUND
	ctx := NewNVMLContext(mock, &fakeRuntime{visible: []string{uuidBoard0}}, nil)

	_, err := ctx.DeviceName(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))

	require.NoError(t, ctx.Close())
	assert.Equal(t, 0, mock.shutdownCalls)
}

func TestNVMLContext_RuntimeCountFailed(t *testing.T) {
	runtime := &fakeRuntime{countErr: errors.New("CUDA driver version is insufficient")}
	ctx := NewNVMLContext(newMockRTX2060(), runtime, nil)

	_, err := ctx.DeviceCount()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device count")
	assert.ErrorIs(t, err, runtime.countErr)
}

func TestNVMLContext_WithoutRuntime(t *testing.T) {
	ctx := NewNVMLContext(newMockRTX2060(), nil, nil)

	_, err := ctx.DeviceCount()
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))

	_, err = ctx.DeviceName(0)
	assert.True(t, errors.Is(err, ErrRuntimeUnavailable))

	_, err = ctx.Upload(0, NewRandomMatrix(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComputeUnavailable))
}

func TestNVMLContext_QueryFailures(t *testing.T) {
	mock := newMockRTX2060()
	mock.Devices[0].NameReturn = nvml.ERROR_GPU_IS_LOST
	mock.Devices[0].MemoryInfoReturn = nvml.ERROR_GPU_IS_LOST
	ctx := NewNVMLContext(mock, &fakeRuntime{visible: []string{uuidBoard0}}, nil)

	_, err := ctx.DeviceName(0)
	assert.Error(t, err)

	_, err = ctx.TotalMemory(0)
	assert.Error(t, err)

	_, err = ctx.DeviceName(3)
	assert.Error(t, err)
}

func TestNVMLContext_RuntimeInfo(t *testing.T) {
	mock := newMockRTX2060()
	mock.DriverVersionReturn = nvml.ERROR_NOT_SUPPORTED
	ctx := NewNVMLContext(mock, &fakeRuntime{}, nil)

	info, err := ctx.RuntimeInfo()
	require.NoError(t, err)
	assert.Equal(t, "nvml", info.Backend)
	assert.Empty(t, info.DriverVersion)
	assert.Equal(t, 12020, info.CUDAVersion)
	assert.Equal(t, "12.2", info.CUDAVersionString())
	assert.True(t, info.ComputeBuild)
}

func TestNVMLContext_UploadDelegates(t *testing.T) {
	runtime := &fakeRuntime{visible: []string{uuidBoard0}}
	ctx := NewNVMLContext(newMockRTX2060(), runtime, nil)

	_, err := ctx.Upload(0, NewRandomMatrix(8))
	require.EqualError(t, err, "recorded")
	assert.Equal(t, 0, runtime.uploadIndex)
	assert.Equal(t, 8, runtime.uploadRows)
}

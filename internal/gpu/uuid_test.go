package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDeviceUUID(t *testing.T) {
	raw := [16]byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x12, 0x34, 0x12, 0x34, 0x12, 0x34, 0x56, 0x78, 0x90, 0x12}
	assert.Equal(t, "GPU-12345678-1234-1234-1234-123456789012", FormatDeviceUUID(raw))

	assert.Equal(t, "GPU-00000000-0000-0000-0000-000000000000", FormatDeviceUUID([16]byte{}))
}

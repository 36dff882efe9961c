package gpu

import "fmt"

// FormatDeviceUUID renders raw UUID bytes as NVML prints them,
// e.g. "GPU-12345678-1234-1234-1234-123456789012".
func FormatDeviceUUID(b [16]byte) string {
	return fmt.Sprintf("GPU-%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

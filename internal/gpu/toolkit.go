package gpu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"gpuprobe/internal/logging"
)

// ContainerToolkitReport describes NVIDIA Container Toolkit support on the host.
type ContainerToolkitReport struct {
	InContainer    bool   `json:"in_container"`
	DockerSupport  bool   `json:"docker_support"`
	ToolkitVersion string `json:"toolkit_version,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	err := cmd.Run()
	return stdout.Bytes(), err
}

// ToolkitDetector reports whether containers on this host can be given GPUs.
// Inside a container the probe usually cannot see the host's Docker daemon,
// which is why a missing device hints at `--gpus all`.
type ToolkitDetector struct {
	logger        *logging.Logger
	run           CommandRunner
	containerMark string
}

// NewToolkitDetector creates a detector shelling out to docker and nvidia-container-toolkit.
func NewToolkitDetector(logger *logging.Logger) *ToolkitDetector {
	return NewToolkitDetectorWithRunner(logger, execRunner)
}

// NewToolkitDetectorWithRunner creates a detector with a custom command runner (for testing).
func NewToolkitDetectorWithRunner(logger *logging.Logger, run CommandRunner) *ToolkitDetector {
	return &ToolkitDetector{
		logger:        logger,
		run:           run,
		containerMark: "/.dockerenv",
	}
}

// DetectContainerToolkit checks whether Docker lists the nvidia runtime.
func (td *ToolkitDetector) DetectContainerToolkit() ContainerToolkitReport {
	td.logger.Debug("gpu.toolkit.detect.start", "Starting Container Toolkit detection", nil)

	report := ContainerToolkitReport{InContainer: td.inContainer()}

	if _, err := td.run("docker", "info"); err != nil {
		report.ErrorMessage = "Docker is not available"
		td.logger.Debug("gpu.toolkit.docker.unavailable", "Docker not found", map[string]interface{}{
			"error": err.Error(),
		})
		return report
	}

	support, detail, err := td.detectDockerRuntime()
	if err != nil || !support {
		report.ErrorMessage = detail
		td.logger.Info("gpu.toolkit.runtime.absent", "NVIDIA runtime not detected", map[string]interface{}{
			"detail": detail,
		})
		return report
	}

	report.DockerSupport = true
	report.ToolkitVersion = td.getToolkitVersion()

	td.logger.Info("gpu.toolkit.detected", "Container Toolkit detected", map[string]interface{}{
		"version": report.ToolkitVersion,
	})

	return report
}

func (td *ToolkitDetector) inContainer() bool {
	_, err := os.Stat(td.containerMark)
	return err == nil
}

func (td *ToolkitDetector) detectDockerRuntime() (bool, string, error) {
	if out, err := td.run("docker", "info", "--format", "{{json .Runtimes}}"); err == nil {
		runtimes := make(map[string]json.RawMessage)
		if err := json.Unmarshal(out, &runtimes); err == nil {
			if _, ok := runtimes["nvidia"]; ok {
				return true, "", nil
			}
		} else {
			td.logger.Warn("gpu.toolkit.runtime.parse_failed", "Failed to parse docker runtime json", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	out, err := td.run("docker", "info")
	if err != nil {
		return false, fmt.Sprintf("docker info failed: %v", err), err
	}

	info := string(out)
	if strings.Contains(info, "Runtimes: nvidia") || strings.Contains(info, "nvidia-container-runtime") {
		return true, "", nil
	}

	return false, "NVIDIA runtime not listed in docker info", nil
}

// getToolkitVersion parses "NVIDIA Container Toolkit CLI version X.Y.Z".
func (td *ToolkitDetector) getToolkitVersion() string {
	out, err := td.run("nvidia-container-toolkit", "--version")
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "version") {
			if parts := strings.Fields(line); len(parts) > 0 {
				return parts[len(parts)-1]
			}
		}
	}

	return ""
}

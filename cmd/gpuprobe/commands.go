package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"gpuprobe/internal/fsutil"
	"gpuprobe/internal/gpu"
	"gpuprobe/internal/probe"
)

func newCheckCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a GPU is available, with its name and memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCheck()
		},
	}
	a.addReportFlags(cmd)
	return cmd
}

func newHealthCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run a matrix multiply on the GPU and report whether it succeeded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHealth()
		},
	}
	a.addReportFlags(cmd)
	return cmd
}

func newEnvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the runtime environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.runEnv()
			return nil
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gpuprobe version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "gpuprobe version %s\n", version)
		},
	}
}

func (a *app) addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&a.jsonOut, "json", false, "print the report as JSON instead of text")
	cmd.Flags().StringVar(&a.savePath, "save", "", "also write the JSON report to this path")
}

func (a *app) openDevices() gpu.DeviceContext {
	return a.newContext(a.logger)
}

func (a *app) runCheck() error {
	devices := a.openDevices()
	defer fsutil.CloseWithError(devices.Close, a.logger, "device context")

	opts := a.options()
	res, err := probe.NewProber(devices, opts, a.logger).CheckAvailability()
	report := probe.NewAvailabilityReport(res, err)

	switch {
	case a.jsonOut:
		a.printJSON(report)
	case err != nil:
		probe.NewRenderer(a.stderr).QueryFailure(err)
	default:
		probe.NewRenderer(a.stdout).Availability(res, opts.LowVRAMThresholdGB)
	}

	a.save(report)
	a.exitCode = report.ExitCode()
	return nil
}

func (a *app) runHealth() error {
	devices := a.openDevices()
	defer fsutil.CloseWithError(devices.Close, a.logger, "device context")

	opts := a.options()
	res, err := probe.NewProber(devices, opts, a.logger).Health()
	report := probe.NewHealthReport(res, err)

	if a.jsonOut {
		a.printJSON(report)
	} else {
		probe.NewRenderer(a.stdout).Health(err, opts.MatrixSize)
	}

	a.save(report)
	a.exitCode = report.ExitCode()
	return nil
}

func (a *app) runEnv() {
	devices := a.openDevices()
	defer fsutil.CloseWithError(devices.Close, a.logger, "device context")

	fmt.Fprintln(a.stdout, "=== Runtime Environment ===")

	executable, err := os.Executable()
	if err != nil {
		executable = "unknown"
	}
	fmt.Fprintf(a.stdout, "Binary: %s\n", executable)
	fmt.Fprintf(a.stdout, "Go version: %s\n", runtime.Version())
	fmt.Fprintf(a.stdout, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	info, infoErr := devices.RuntimeInfo()
	fmt.Fprintf(a.stdout, "Compute build: %s\n", yesNo(info.ComputeBuild))
	if info.Backend != "" {
		fmt.Fprintf(a.stdout, "Backend: %s\n", info.Backend)
	}
	if infoErr != nil {
		fmt.Fprintf(a.stdout, "Runtime: unavailable (%v)\n", infoErr)
	} else {
		fmt.Fprintf(a.stdout, "Driver version: %s\n", orUnknown(info.DriverVersion))
		fmt.Fprintf(a.stdout, "CUDA version: %s\n", orUnknown(info.CUDAVersionString()))
	}

	if count, err := devices.DeviceCount(); err != nil {
		fmt.Fprintf(a.stdout, "Device count: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(a.stdout, "Device count: %d\n", count)
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintln(a.stdout, "=== Container Toolkit ===")
	toolkit := a.newToolkit(a.logger).DetectContainerToolkit()
	fmt.Fprintf(a.stdout, "In container: %s\n", yesNo(toolkit.InContainer))
	fmt.Fprintf(a.stdout, "Docker GPU support: %s\n", yesNo(toolkit.DockerSupport))
	if toolkit.ToolkitVersion != "" {
		fmt.Fprintf(a.stdout, "Toolkit version: %s\n", toolkit.ToolkitVersion)
	}
	if toolkit.ErrorMessage != "" {
		fmt.Fprintf(a.stdout, "Note: %s\n", toolkit.ErrorMessage)
	}
}

func (a *app) printJSON(report probe.Report) {
	data, err := report.Marshal()
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(a.stdout, string(data))
}

// save writes the report when --save is set. A failed write is reported but
// does not change the probe's exit code.
func (a *app) save(report probe.Report) {
	if a.savePath == "" {
		return
	}
	if err := probe.SaveReport(report, a.savePath, a.logger); err != nil {
		fmt.Fprintf(a.stderr, "Warning: failed to save report: %v\n", err)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gpuprobe/internal/config"
	"gpuprobe/internal/gpu"
	"gpuprobe/internal/gpu/cudart"
	"gpuprobe/internal/logging"
	"gpuprobe/internal/probe"
)

var version = "0.1.0-dev"

const (
	exitOK        = 0
	exitUnhealthy = 1
	// exitSetup covers invalid flags and configuration. The probe never ran.
	exitSetup = 2
)

type contextFactory func(logger *logging.Logger) gpu.DeviceContext

type toolkitFactory func(logger *logging.Logger) *gpu.ToolkitDetector

// app carries flag values and the resources built from them for one invocation.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	newContext contextFactory
	newToolkit toolkitFactory

	configPath string
	logLevel   string
	savePath   string
	jsonOut    bool
	fakeDevice string

	cfg      config.Config
	logger   *logging.Logger
	exitCode int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, cudart.NewDefaultContext, gpu.NewToolkitDetector))
}

func run(args []string, stdout, stderr io.Writer, newContext contextFactory, newToolkit toolkitFactory) int {
	a := &app{
		stdout:     stdout,
		stderr:     stderr,
		newContext: newContext,
		newToolkit: newToolkit,
	}

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if closeErr := a.logger.Close(); closeErr != nil {
		fmt.Fprintf(stderr, "Warning: failed to close log file: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitSetup
	}
	return a.exitCode
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gpuprobe",
		Short: "One-shot GPU readiness probes for containers and hosts",
		Long: `gpuprobe confirms that a GPU compute runtime is usable.

  check   device availability, name and memory (exit 1 when no device)
  health  runs a matrix multiply on the device (exit 1 when it fails)
  env     describes the runtime environment`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: system and user config.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&a.fakeDevice, "fake-device", "", "probe a simulated device NAME:GB instead of the runtime")
	if err := flags.MarkHidden("fake-device"); err != nil {
		panic(fmt.Sprintf("Failed to hide fake-device flag: %v", err))
	}

	root.AddCommand(
		newCheckCommand(a),
		newHealthCommand(a),
		newEnvCommand(a),
		newVersionCommand(a),
	)

	return root
}

// setup loads configuration and builds the logger and, for --fake-device,
// replaces the device context factory.
func (a *app) setup() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	levelName := a.cfg.Logging.Level
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}

	if a.cfg.Logging.File != "" {
		a.logger, err = logging.NewFileLogger(level, a.cfg.Logging.File)
		if err != nil {
			return err
		}
	} else {
		a.logger = logging.NewLoggerWithWriter(level, a.stderr)
	}

	if a.fakeDevice != "" {
		device, err := parseFakeDevice(a.fakeDevice)
		if err != nil {
			return err
		}
		a.newContext = func(*logging.Logger) gpu.DeviceContext {
			return gpu.NewFakeContext(device)
		}
	}

	return nil
}

func (a *app) options() probe.Options {
	return probe.Options{
		DeviceIndex:        a.cfg.Probe.DeviceIndex,
		LowVRAMThresholdGB: a.cfg.Probe.LowVRAMThresholdGB,
		MatrixSize:         a.cfg.Health.MatrixSize,
		Verify:             a.cfg.Health.Verify,
		VerifySamples:      a.cfg.Health.VerifySamples,
		Tolerance:          a.cfg.Health.Tolerance,
	}
}

// parseFakeDevice parses NAME:GB, e.g. "Mock-GPU-2060:6.5".
func parseFakeDevice(value string) (gpu.FakeDevice, error) {
	sep := strings.LastIndex(value, ":")
	if sep <= 0 || sep == len(value)-1 {
		return gpu.FakeDevice{}, fmt.Errorf("invalid --fake-device %q: want NAME:GB", value)
	}

	gb, err := strconv.ParseFloat(value[sep+1:], 64)
	if err != nil || math.IsNaN(gb) || gb < 0 {
		return gpu.FakeDevice{}, fmt.Errorf("invalid --fake-device memory %q: want a non-negative number of GB", value[sep+1:])
	}

	// float64(math.MaxUint64) rounds up to 2^64, which no uint64 can hold.
	bytes := gb * 1e9
	if bytes >= math.MaxUint64 {
		return gpu.FakeDevice{}, fmt.Errorf("invalid --fake-device memory %q: exceeds %d bytes", value[sep+1:], uint64(math.MaxUint64))
	}

	return gpu.FakeDevice{Name: value[:sep], TotalMemory: uint64(bytes)}, nil
}

package probe

import (
	"encoding/json"
	"fmt"
	"time"

	"gpuprobe/internal/fsutil"
	"gpuprobe/internal/logging"
)

// Probe names used in reports.
const (
	NameAvailability = "availability"
	NameHealth       = "health"
)

// Report is the machine-readable record of a single probe run.
type Report struct {
	Timestamp    time.Time `json:"timestamp"`
	Probe        string    `json:"probe"`
	Result       *Result   `json:"result,omitempty"`
	Healthy      *bool     `json:"healthy,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewAvailabilityReport records the outcome of CheckAvailability.
func NewAvailabilityReport(res Result, err error) Report {
	report := Report{
		Timestamp: time.Now().UTC(),
		Probe:     NameAvailability,
		Result:    &res,
	}
	if err != nil {
		report.ErrorKind = KindOf(err)
		report.ErrorMessage = err.Error()
	} else if !res.Available {
		report.ErrorKind = KindNoDevice
	}
	return report
}

// NewHealthReport records the outcome of Health.
func NewHealthReport(res Result, err error) Report {
	healthy := err == nil
	report := Report{
		Timestamp: time.Now().UTC(),
		Probe:     NameHealth,
		Result:    &res,
		Healthy:   &healthy,
	}
	if err != nil {
		report.ErrorKind = KindOf(err)
		report.ErrorMessage = err.Error()
	}
	return report
}

// ExitCode maps the report to the process exit status a supervisor relies on:
// 0 when available/healthy, 1 otherwise.
func (r Report) ExitCode() int {
	if r.ErrorMessage != "" || r.ErrorKind != "" {
		return 1
	}
	if r.Healthy != nil && !*r.Healthy {
		return 1
	}
	if r.Result != nil && !r.Result.Available {
		return 1
	}
	return 0
}

// Marshal renders the report as indented JSON.
func (r Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

// SaveReport writes the report to path atomically.
func SaveReport(report Report, path string, logger *logging.Logger) error {
	data, err := report.Marshal()
	if err != nil {
		return err
	}

	if err := fsutil.EnsureParentDir(path); err != nil {
		return err
	}

	if err := fsutil.AtomicWriteFile(path, data, fsutil.DefaultFilePermissions, logger); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	logger.Info("probe.report.saved", "Probe report saved", map[string]interface{}{
		"path":  path,
		"probe": report.Probe,
	})
	return nil
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLogger_ShouldLog(t *testing.T) {
	tests := []struct {
		name     string
		minLevel Level
		logLevel Level
		want     bool
	}{
		{"debug logs when min is debug", LevelDebug, LevelDebug, true},
		{"error logs when min is debug", LevelDebug, LevelError, true},
		{"debug does not log when min is info", LevelInfo, LevelDebug, false},
		{"info does not log when min is warn", LevelWarn, LevelInfo, false},
		{"warn logs when min is warn", LevelWarn, LevelWarn, true},
		{"error logs when min is error", LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.minLevel)
			if got := logger.shouldLog(tt.logLevel); got != tt.want {
				t.Errorf("shouldLog() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogger_LogWritesJSONEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelInfo, &buf)

	logger.Info("probe.availability.device", "GPU device detected", map[string]interface{}{
		"name":  "Mock-GPU-2060",
		"index": 0,
	})

	var event Event
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("Failed to parse log output as JSON: %v\nOutput: %s", err, buf.String())
	}

	if event.Level != LevelInfo {
		t.Errorf("Expected level %s, got %s", LevelInfo, event.Level)
	}
	if event.Type != "probe.availability.device" {
		t.Errorf("Expected type 'probe.availability.device', got %s", event.Type)
	}
	if event.Payload["name"] != "Mock-GPU-2060" {
		t.Errorf("Expected payload name 'Mock-GPU-2060', got %v", event.Payload["name"])
	}
	if event.Timestamp == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LevelWarn, &buf)

	logger.Debug("test.debug", "filtered", nil)
	logger.Info("test.info", "filtered", nil)
	logger.Warn("test.warn", "kept", nil)
	logger.Error("test.error", "kept", map[string]interface{}{"code": 500})

	output := buf.String()
	if strings.Contains(output, "test.debug") || strings.Contains(output, "test.info") {
		t.Errorf("Expected debug and info to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "test.warn") || !strings.Contains(output, "test.error") {
		t.Errorf("Expected warn and error events, got: %s", output)
	}
	if !strings.Contains(output, "500") {
		t.Errorf("Expected payload to be serialised, got: %s", output)
	}
}

func TestLogger_NilIsSilent(t *testing.T) {
	var logger *Logger
	logger.Info("test.nil", "must not panic", nil)
	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger returned %v", err)
	}
}

func TestNewFileLogger_CreatesDirectoryAndAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "gpuprobe", "probe.log")

	first, err := NewFileLogger(LevelInfo, logPath)
	if err != nil {
		t.Fatalf("Failed to create file logger: %v", err)
	}
	first.Info("test.first", "First message", nil)
	if closeErr := first.Close(); closeErr != nil {
		t.Fatalf("Failed to close logger: %v", closeErr)
	}

	second, err := NewFileLogger(LevelInfo, logPath)
	if err != nil {
		t.Fatalf("Failed to reopen file logger: %v", err)
	}
	second.Info("test.second", "Second message", nil)
	if closeErr := second.Close(); closeErr != nil {
		t.Fatalf("Failed to close logger: %v", closeErr)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 log lines, got %d: %s", len(lines), content)
	}
	if !strings.Contains(lines[0], "test.first") || !strings.Contains(lines[1], "test.second") {
		t.Errorf("Expected events in append order, got: %s", content)
	}
}

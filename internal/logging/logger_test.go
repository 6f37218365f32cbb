package logging

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level LogLevel) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: level, Output: &buf, Format: "text"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	return logger, &buf
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   LogLevel
	}{
		{"default config", Config{Level: LogLevelNormal, Format: "text"}, LogLevelNormal},
		{"verbose json", Config{Level: LogLevelVerbose, Format: "json"}, LogLevelVerbose},
		{"quiet config", Config{Level: LogLevelQuiet, Format: "text"}, LogLevelQuiet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf

			logger, err := NewLogger(tt.config)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if logger.GetLevel() != tt.want {
				t.Errorf("NewLogger() level = %v, want %v", logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewLoggerWithRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "guild-backup.log")

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, LogFile: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("written to both sinks")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
	if !strings.Contains(string(data), "written to both sinks") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(buf.String(), "written to both sinks") {
		t.Errorf("primary output missing message, got: %s", buf.String())
	}
}

func TestLoggerWithContext(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose)

	ctx := ContextWithOperationID(context.Background(), "restore-42")
	logger.WithContext(ctx).Info("tagged")

	if !strings.Contains(buf.String(), "operation_id=restore-42") {
		t.Errorf("expected operation_id field, got: %s", buf.String())
	}
	if got := OperationIDFromContext(context.Background()); got != "" {
		t.Errorf("OperationIDFromContext() on bare context = %q, want empty", got)
	}
}

func TestLogCapture(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogCapture("123", "ABCDEFGHJKLM", 2048, time.Second, nil)
	output := buf.String()
	if !strings.Contains(output, "Snapshot captured") || !strings.Contains(output, "backup_id=ABCDEFGHJKLM") {
		t.Errorf("unexpected capture log: %s", output)
	}

	buf.Reset()
	logger.LogCapture("123", "", 0, time.Second, errors.New("space unreachable"))
	output = buf.String()
	if !strings.Contains(output, "Snapshot capture failed") || !strings.Contains(output, "space unreachable") {
		t.Errorf("unexpected capture failure log: %s", output)
	}
}

func TestLogRestorePhaseAndOutcome(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogRestorePhase("t1", "load_roles", 3, 0, time.Millisecond)
	if !strings.Contains(buf.String(), "phase=load_roles") {
		t.Errorf("expected phase field, got: %s", buf.String())
	}

	buf.Reset()
	logger.LogRestorePhase("t1", "load_messages", 3, 2, time.Millisecond)
	if !strings.Contains(buf.String(), "skipped operations") {
		t.Errorf("expected skipped warning, got: %s", buf.String())
	}

	buf.Reset()
	logger.LogRestoreOutcome("t1", "B1", "cancelled", time.Second, errors.New("cancelled"))
	if !strings.Contains(buf.String(), "Restore cancelled") {
		t.Errorf("expected cancelled message, got: %s", buf.String())
	}

	buf.Reset()
	logger.LogRestoreOutcome("t1", "B1", "completed", time.Second, nil)
	if !strings.Contains(buf.String(), "Restore completed") {
		t.Errorf("expected completed message, got: %s", buf.String())
	}
}

func TestLogStorageOperationOnlyAtDebug(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelNormal)

	logger.LogStorageOperation("LOCAL", "put", "t1/ABC.bkp", time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output at normal level, got: %s", buf.String())
	}

	logger.LogStorageOperation("LOCAL", "put", "t1/ABC.bkp", time.Millisecond, errors.New("disk full"))
	if !strings.Contains(buf.String(), "operation=storage_put") {
		t.Errorf("expected failure to be logged, got: %s", buf.String())
	}
}

func TestIsLevelEnabled(t *testing.T) {
	tests := []struct {
		name        string
		loggerLevel LogLevel
		testLevel   LogLevel
		want        bool
	}{
		{"quiet logger, quiet level", LogLevelQuiet, LogLevelQuiet, true},
		{"quiet logger, normal level", LogLevelQuiet, LogLevelNormal, false},
		{"normal logger, verbose level", LogLevelNormal, LogLevelVerbose, false},
		{"verbose logger, verbose level", LogLevelVerbose, LogLevelVerbose, true},
		{"verbose logger, debug level", LogLevelVerbose, LogLevelDebug, false},
		{"debug logger, debug level", LogLevelDebug, LogLevelDebug, true},
		{"unknown level", LogLevelDebug, LogLevel("loud"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newBufferLogger(t, tt.loggerLevel)
			if got := logger.IsLevelEnabled(tt.testLevel); got != tt.want {
				t.Errorf("IsLevelEnabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogOperationStart(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelVerbose)

	finish := logger.LogOperationStart("export", map[string]interface{}{"backup_id": "ABC"})
	if !strings.Contains(buf.String(), "Operation started") {
		t.Errorf("expected start message, got: %s", buf.String())
	}

	buf.Reset()
	finish(nil)
	if !strings.Contains(buf.String(), "success=true") {
		t.Errorf("expected success=true, got: %s", buf.String())
	}

	finish2 := logger.LogOperationStart("export", nil)
	buf.Reset()
	finish2(errors.New("boom"))
	if !strings.Contains(buf.String(), "success=false") || !strings.Contains(buf.String(), "boom") {
		t.Errorf("expected failure fields, got: %s", buf.String())
	}
}

package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows detailed operational information
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything, including per-call tracing
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const operationIDKey contextKey = "operation_id"

// Logger provides structured logging capabilities
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
	closer io.Closer
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool

	// LogFile enables a rotating file sink in addition to Output.
	LogFile       string
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
	CompressFiles bool
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	var output io.Writer = os.Stdout
	if config.Output != nil {
		output = config.Output
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetLevel(toLogrusLevel(config.Level))

	if config.ShowCaller {
		logger.SetReportCaller(true)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				filename := filepath.Base(f.File)
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
			},
		})
	}

	var closer io.Closer
	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.LogFile, err)
		}

		rotating := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    valueOr(config.MaxSizeMB, 50),
			MaxBackups: valueOr(config.MaxBackups, 5),
			MaxAge:     config.MaxAgeDays,
			Compress:   config.CompressFiles,
		}
		output = io.MultiWriter(output, rotating)
		closer = rotating
	}

	logger.SetOutput(output)

	return &Logger{
		logger: logger,
		level:  config.Level,
		closer: closer,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stdout,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

// Close releases the rotating file sink, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// WithContext returns a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := OperationIDFromContext(ctx); id != "" {
		entry = entry.WithField("operation_id", id)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogCapture logs the outcome of a snapshot capture
func (l *Logger) LogCapture(spaceID, backupID string, sizeBytes int64, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "capture",
		"space_id":  spaceID,
		"backup_id": backupID,
		"size":      sizeBytes,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Snapshot capture failed")
		return
	}
	l.logger.WithFields(fields).Info("Snapshot captured")
}

// LogRestorePhase logs the completion of a single restore phase
func (l *Logger) LogRestorePhase(targetID, phase string, succeeded, skipped int, duration time.Duration) {
	fields := logrus.Fields{
		"operation": "restore_phase",
		"target_id": targetID,
		"phase":     phase,
		"succeeded": succeeded,
		"skipped":   skipped,
		"duration":  duration.String(),
	}

	if skipped > 0 {
		l.logger.WithFields(fields).Warn("Restore phase finished with skipped operations")
		return
	}
	l.logger.WithFields(fields).Info("Restore phase finished")
}

// LogRestoreOutcome logs the terminal state of a restore
func (l *Logger) LogRestoreOutcome(targetID, backupID, outcome string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "restore",
		"target_id": targetID,
		"backup_id": backupID,
		"outcome":   outcome,
		"duration":  duration.String(),
	}

	switch {
	case err != nil && outcome == "cancelled":
		l.logger.WithFields(fields).Warn("Restore cancelled")
	case err != nil:
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Restore failed")
	default:
		l.logger.WithFields(fields).Info("Restore completed")
	}
}

// LogStorageOperation logs a backend call at debug level, or at error level on failure
func (l *Logger) LogStorageOperation(provider, op, key string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "storage_" + op,
		"provider":  provider,
		"key":       key,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Storage operation failed")
		return
	}
	l.logger.WithFields(fields).Debug("Storage operation completed")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
		} else {
			logFields["success"] = true
			l.logger.WithFields(logFields).Info("Operation completed")
		}
	}
}

// ContextWithOperationID tags a context so log entries built from it carry the ID
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// OperationIDFromContext extracts the operation ID from context
func OperationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

func valueOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

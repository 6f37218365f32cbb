package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypePlatform represents a rejected call to the chat platform
	ErrorTypePlatform ErrorType = "platform"
	// ErrorTypeRateLimit represents a platform rate limit rejection
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNotFound represents a missing remote or local entity
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePermission represents permission/access errors
	ErrorTypePermission ErrorType = "permission"
	// ErrorTypeConnection represents network failures
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return e.Message
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to operators
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	err := NewAppError(errorType, message, cause)
	err.Recoverable = true
	return err
}

// ErrorClassifier maps raw errors onto AppError categories
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if restErr := ec.classifyPlatformError(err); restErr != nil {
		return restErr
	}
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyPlatformError classifies REST rejections from the chat platform by HTTP status
func (ec *ErrorClassifier) classifyPlatformError(err error) *AppError {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return nil
	}

	status := restErr.Response.StatusCode
	var classified *AppError
	switch {
	case status == http.StatusNotFound:
		classified = NewAppError(ErrorTypeNotFound, "Platform entity does not exist", err)
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		classified = NewAppError(ErrorTypePermission, "Missing permissions on the platform", err).
			WithUserMessage("The bot lacks permission for this action - check its role position and permissions")
	case status == http.StatusTooManyRequests:
		classified = NewRecoverableError(ErrorTypeRateLimit, "Rate limited by the platform", err)
	case status >= 500:
		classified = NewRecoverableError(ErrorTypePlatform, "Platform service error", err)
	default:
		classified = NewAppError(ErrorTypePlatform, fmt.Sprintf("Platform rejected request with status %d", status), err)
	}

	classified.WithContext("http_status", status)
	if restErr.Message != nil {
		classified.WithContext("platform_code", restErr.Message.Code)
	}
	return classified
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverableError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverableError(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverableError(ErrorTypeConnection, "Network I/O error", err)
		}
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverableError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

// classifyFileSystemError classifies file system errors
func (ec *ErrorClassifier) classifyFileSystemError(err error) *AppError {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch {
		case errors.Is(pathErr.Err, syscall.ENOENT):
			return NewAppError(ErrorTypeNotFound,
				fmt.Sprintf("File or directory not found: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.EACCES):
			return NewAppError(ErrorTypePermission,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case errors.Is(pathErr.Err, syscall.ENOSPC):
			return NewAppError(ErrorTypeValidation, "No space left on device", err)
		}
	}
	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
	}
}

// NewDefaultRetryHandler creates a retry handler with default configuration
func NewDefaultRetryHandler() *RetryHandler {
	return NewRetryHandler(DefaultRetryConfig())
}

// Retry executes operation, retrying while the classified error is recoverable.
// The error returned after the last attempt is the operation's own error so
// callers can still match on its concrete type.
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled", err)
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !rh.classifier.ClassifyError(err).IsRecoverable() {
			return err
		}
		if attempt == rh.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", ctx.Err())
		case <-time.After(rh.calculateDelay(attempt)):
		}
	}

	return lastErr
}

// calculateDelay returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)
	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}
	return delay
}

// GracefulShutdownHandler runs registered cleanup functions on SIGINT/SIGTERM
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	once          sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signalChan: make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start starts listening for shutdown signals
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if _, ok := <-gsh.signalChan; ok {
			gsh.Shutdown()
		}
	}()
}

// Stop stops listening for signals without running the shutdown functions
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
	close(gsh.signalChan)
}

// Done is closed once every shutdown function has run
func (gsh *GracefulShutdownHandler) Done() <-chan struct{} {
	return gsh.done
}

// Shutdown runs the registered functions in reverse registration order, once.
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		defer close(gsh.done)

		gsh.mu.Lock()
		funcs := append([]func() error(nil), gsh.shutdownFuncs...)
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}
	return NewErrorClassifier().ClassifyError(err).IsRecoverable()
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	return NewErrorClassifier().ClassifyError(err).Type
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return err.Error()
}

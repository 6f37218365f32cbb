package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restError(status int, code int) error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: status, Status: http.StatusText(status)},
		ResponseBody: []byte(`{}`),
		Message:      &discordgo.APIErrorMessage{Code: code, Message: "rejected"},
	}
}

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	assert.Equal(t, ErrorTypeConnection, appErr.Type)
	assert.False(t, appErr.IsRecoverable())
	assert.Equal(t, "connection: connection failed (caused by: underlying error)", appErr.Error())
	assert.ErrorIs(t, appErr, cause)
}

func TestAppErrorWithContextAndUserMessage(t *testing.T) {
	appErr := NewAppError(ErrorTypePlatform, "create failed", nil).
		WithContext("channel", "general").
		WithUserMessage("Could not create channel")

	assert.Equal(t, "general", appErr.Context["channel"])
	assert.Equal(t, "Could not create channel", appErr.GetUserMessage())
	assert.Equal(t, "platform: create failed", appErr.Error())
}

func TestErrorClassifier_ClassifyPlatformError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantType    ErrorType
		recoverable bool
	}{
		{"unknown channel", restError(http.StatusNotFound, 10003), ErrorTypeNotFound, false},
		{"missing permissions", restError(http.StatusForbidden, 50013), ErrorTypePermission, false},
		{"rate limited", restError(http.StatusTooManyRequests, 0), ErrorTypeRateLimit, true},
		{"gateway unavailable", restError(http.StatusBadGateway, 0), ErrorTypePlatform, true},
		{"bad request", restError(http.StatusBadRequest, 50035), ErrorTypePlatform, false},
		{"wrapped", fmt.Errorf("create role: %w", restError(http.StatusForbidden, 50013)), ErrorTypePermission, false},
	}

	classifier := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantType, appErr.Type)
			assert.Equal(t, tt.recoverable, appErr.IsRecoverable())
			assert.Contains(t, appErr.Context, "http_status")
		})
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	classifier := NewErrorClassifier()

	timeout := classifier.ClassifyError(context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeTimeout, timeout.Type)
	assert.True(t, timeout.IsRecoverable())

	canceled := classifier.ClassifyError(fmt.Errorf("walk history: %w", context.Canceled))
	assert.Equal(t, ErrorTypeInterruption, canceled.Type)
	assert.False(t, canceled.IsRecoverable())
}

func TestErrorClassifier_ClassifyFileSystemError(t *testing.T) {
	tests := []struct {
		name     string
		errno    syscall.Errno
		wantType ErrorType
	}{
		{"missing", syscall.ENOENT, ErrorTypeNotFound},
		{"denied", syscall.EACCES, ErrorTypePermission},
		{"disk full", syscall.ENOSPC, ErrorTypeValidation},
	}

	classifier := NewErrorClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &os.PathError{Op: "open", Path: "/backups/x.bkp", Err: tt.errno}
			assert.Equal(t, tt.wantType, classifier.ClassifyError(err).Type)
		})
	}
}

type mockNetError struct{ timeout bool }

func (e *mockNetError) Error() string   { return "mock network error" }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func TestErrorClassifier_ClassifyNetworkError(t *testing.T) {
	classifier := NewErrorClassifier()

	appErr := classifier.ClassifyError(&mockNetError{timeout: true})
	assert.Equal(t, ErrorTypeTimeout, appErr.Type)
	assert.True(t, appErr.IsRecoverable())

	unknown := classifier.ClassifyError(&mockNetError{})
	assert.Equal(t, ErrorTypeUnknown, unknown.Type)
	assert.Nil(t, classifier.ClassifyError(nil))
}

func TestRetryHandler_Retry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after recoverable failures", func(t *testing.T) {
		attempts := 0
		err := NewRetryHandler(fast).Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return restError(http.StatusServiceUnavailable, 0)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on permanent failure", func(t *testing.T) {
		attempts := 0
		permanent := restError(http.StatusForbidden, 50013)
		err := NewRetryHandler(fast).Retry(context.Background(), func() error {
			attempts++
			return permanent
		})
		assert.Equal(t, 1, attempts)
		assert.Same(t, permanent, err)
	})

	t.Run("returns last error when attempts exhausted", func(t *testing.T) {
		attempts := 0
		err := NewRetryHandler(fast).Retry(context.Background(), func() error {
			attempts++
			return context.DeadlineExceeded
		})
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("honors canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewRetryHandler(fast).Retry(ctx, func() error { return nil })
		assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	rh := NewRetryHandler(RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2})

	assert.Equal(t, time.Second, rh.calculateDelay(1))
	assert.Equal(t, 2*time.Second, rh.calculateDelay(2))
	assert.Equal(t, 3*time.Second, rh.calculateDelay(3))
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error { order = append(order, 1); return nil })
	handler.RegisterShutdownFunc(func() error { order = append(order, 2); return errors.New("ignored") })

	handler.Shutdown()
	handler.Shutdown()

	select {
	case <-handler.Done():
	default:
		t.Fatal("expected Done to be closed after Shutdown")
	}
	assert.Equal(t, []int{2, 1}, order)
}

func TestHelpers(t *testing.T) {
	assert.False(t, IsRecoverableError(nil))
	assert.True(t, IsRecoverableError(restError(http.StatusTooManyRequests, 0)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(nil))
	assert.Equal(t, "", FormatUserError(nil))
	assert.Equal(t, "plain", FormatUserError(errors.New("plain")))

	permission := NewErrorClassifier().ClassifyError(restError(http.StatusForbidden, 50013))
	assert.Contains(t, FormatUserError(permission), "role position")
}

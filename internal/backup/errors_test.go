package backup

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupError_IsMatchesType(t *testing.T) {
	sentinel := &BackupError{Type: BackupErrorTypeCancelled}
	err := fmt.Errorf("phase load_roles: %w", NewCancelledError("restore cancelled", nil))

	assert.True(t, errors.Is(err, sentinel))
	assert.False(t, errors.Is(err, &BackupError{Type: BackupErrorTypeConflict}))
	assert.False(t, errors.Is(err, &BackupError{Type: BackupErrorTypeCancelled, Message: "other"}))
	assert.True(t, IsCancelled(err))
}

func TestBackupError_Helpers(t *testing.T) {
	cause := errors.New("disk gone")
	err := NewStorageError("write failed", cause).WithContext("key", "a/b.bkp")

	assert.Equal(t, "STORAGE_ERROR: write failed (caused by: disk gone)", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, "a/b.bkp", err.Context["key"])
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(NewValidationError("bad", nil)))
	assert.False(t, IsRetryable(cause))

	typ, ok := ErrorType(fmt.Errorf("wrapped: %w", NewNotFoundError("missing", nil)))
	assert.True(t, ok)
	assert.Equal(t, BackupErrorTypeNotFound, typ)
	assert.True(t, IsConflict(NewConflictError("busy", nil)))
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "first", nil)
	assert.Equal(t, "validation error for field 'a': first", errs.Error())

	errs.Add("b", "second", 2)
	assert.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "2 validation errors")
}

package utils

import (
	"errors"
	"fmt"
)

// Error codes (tool-owned, stable)
const (
	ErrCodeCursorExpired    = "CURSOR_EXPIRED"
	ErrCodeMetadataNotFound = "METADATA_NOT_FOUND"
	ErrCodeLocalFileMissing = "LOCAL_FILE_MISSING"
	ErrCodeTransferFailed   = "TRANSFER_FAILED"
	ErrCodeAccountNotFound  = "ACCOUNT_NOT_FOUND"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeSyncInProgress   = "SYNC_IN_PROGRESS"
	ErrCodeHashMismatch     = "HASH_MISMATCH"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeStoreError       = "STORE_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeUnknown          = "UNKNOWN"
)

// SyncError carries a stable error code plus optional context. It is the
// error type crossing component boundaries; callers branch on Code, never
// on message text.
type SyncError struct {
	Code      string
	Message   string
	Retryable bool
	Context   map[string]interface{}
	cause     error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.cause
}

// SyncErrorBuilder helps construct SyncError instances
type SyncErrorBuilder struct {
	err SyncError
}

// NewSyncError creates a new error builder
func NewSyncError(code, message string) *SyncErrorBuilder {
	return &SyncErrorBuilder{
		err: SyncError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *SyncErrorBuilder) WithRetryable(retryable bool) *SyncErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *SyncErrorBuilder) WithCause(cause error) *SyncErrorBuilder {
	b.err.cause = cause
	return b
}

func (b *SyncErrorBuilder) WithContext(key string, value interface{}) *SyncErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *SyncErrorBuilder) Build() *SyncError {
	e := b.err
	return &e
}

// IsCode reports whether err (or anything it wraps) is a SyncError with the
// given code.
func IsCode(err error, code string) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == code
	}
	return false
}

// CodeOf returns the error code of err, or ErrCodeUnknown for untyped errors.
func CodeOf(err error) string {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ErrCodeUnknown
}

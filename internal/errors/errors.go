package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the card scan worker
 *
 * Every failure the pipeline can surface to a caller maps to exactly one
 * ErrorCode, so the UI layer can distinguish "the provider is unhealthy"
 * from "your card could not be identified" from "re-scan and try again".
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Capture errors
	ErrorDeviceUnavailable ErrorCode = "DEVICE_UNAVAILABLE"
	ErrorDeviceNotReady    ErrorCode = "DEVICE_NOT_READY"

	// Recognition errors
	ErrorEngine      ErrorCode = "ENGINE_ERROR"
	ErrorEmptyResult ErrorCode = "EMPTY_RESULT"

	// Normalization errors
	ErrorTooShort ErrorCode = "TOO_SHORT"

	// Resolution errors
	ErrorNotFound ErrorCode = "NOT_FOUND"
	ErrorProvider ErrorCode = "PROVIDER_ERROR"
)

// ScanError represents a structured scan pipeline error
type ScanError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ScanError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err is (or wraps) a ScanError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *ScanError
	if stderrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// Factory functions for common errors

func NewDeviceUnavailableError(sessionID string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorDeviceUnavailable,
		Message:   "No imaging device granted access",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDeviceNotReadyError(sessionID string) *ScanError {
	return &ScanError{
		Code:      ErrorDeviceNotReady,
		Message:   "Imaging device has not produced a frame with non-zero dimensions yet",
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
}

func NewEngineError(sessionID string, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorEngine,
		Message:   "OCR engine failed",
		SessionID: sessionID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewEmptyResultError carries mode-specific guidance so the caller can tell
// the user what to point the camera at before retrying.
func NewEmptyResultError(sessionID, mode, guidance string) *ScanError {
	return &ScanError{
		Code:      ErrorEmptyResult,
		Message:   guidance,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"scan_mode": mode,
		},
	}
}

func NewTooShortError(kind string, got, min int) *ScanError {
	return &ScanError{
		Code:      ErrorTooShort,
		Message:   fmt.Sprintf("Normalized %s is too short: %d characters (minimum %d)", kind, got, min),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"kind":    kind,
			"length":  got,
			"minimum": min,
		},
	}
}

func NewNotFoundError(setCode string) *ScanError {
	return &ScanError{
		Code:      ErrorNotFound,
		Message:   fmt.Sprintf("No card found for set code %s, verify the code and re-scan", setCode),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"set_code": setCode,
		},
	}
}

func NewProviderError(url string, statusCode int, cause error) *ScanError {
	return &ScanError{
		Code:      ErrorProvider,
		Message:   fmt.Sprintf("Provider request failed with HTTP %d", statusCode),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url":         url,
			"status_code": statusCode,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ScanError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

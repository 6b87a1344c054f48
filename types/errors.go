package types

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of download errors
type ErrorType int

const (
	ErrorInvalidRequest ErrorType = iota
	ErrorInvalidProgress
	ErrorAlreadyDownloaded
	ErrorNotFound
	ErrorNotActive
	ErrorBotCheck
	ErrorFormatUnavailable
	ErrorProcess
	ErrorUnknown
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorInvalidRequest:
		return "invalid_request"
	case ErrorInvalidProgress:
		return "invalid_progress"
	case ErrorAlreadyDownloaded:
		return "already_downloaded"
	case ErrorNotFound:
		return "not_found"
	case ErrorNotActive:
		return "not_active"
	case ErrorBotCheck:
		return "bot_check"
	case ErrorFormatUnavailable:
		return "format_unavailable"
	case ErrorProcess:
		return "process"
	default:
		return "unknown"
	}
}

// MarshalText lets the type travel as its string form in JSON
func (et ErrorType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// DownloadError represents a structured error raised by the download engine
type DownloadError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (de *DownloadError) Error() string {
	if de.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", de.Type.String(), de.Message, de.Cause)
	}
	return fmt.Sprintf("%s: %s", de.Type.String(), de.Message)
}

// Unwrap returns the underlying cause error
func (de *DownloadError) Unwrap() error {
	return de.Cause
}

// NewDownloadError creates a new DownloadError with the specified type and message
func NewDownloadError(errorType ErrorType, message string) *DownloadError {
	return &DownloadError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewDownloadErrorWithCause creates a new DownloadError with a cause
func NewDownloadErrorWithCause(errorType ErrorType, message string, cause error) *DownloadError {
	return &DownloadError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (de *DownloadError) WithContext(key string, value interface{}) *DownloadError {
	if de.Context == nil {
		de.Context = make(map[string]interface{})
	}
	de.Context[key] = value
	return de
}

// IsType checks if the error is of a specific type
func (de *DownloadError) IsType(errorType ErrorType) bool {
	return de.Type == errorType
}

// IsDownloadError checks if err wraps a DownloadError and optionally one of the given types
func IsDownloadError(err error, errorType ...ErrorType) bool {
	var de *DownloadError
	if !errors.As(err, &de) {
		return false
	}
	if len(errorType) == 0 {
		return true
	}
	for _, et := range errorType {
		if de.Type == et {
			return true
		}
	}
	return false
}

// ErrorTypeOf returns the type of the wrapped DownloadError, or ErrorUnknown
func ErrorTypeOf(err error) ErrorType {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Type
	}
	return ErrorUnknown
}

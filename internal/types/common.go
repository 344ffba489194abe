// Package types provides unified type definitions for the Drover system
package types

import (
	"fmt"
	"time"
)

// DaemonState represents the observed state of the model-serving daemon
type DaemonState string

const (
	DaemonUp   DaemonState = "up"
	DaemonDown DaemonState = "down"
)

// String returns the string representation of the state
func (s DaemonState) String() string {
	return string(s)
}

// ModelStatus is the externally reported, reconciled model status
type ModelStatus string

const (
	StatusError       ModelStatus = "error"
	StatusDownloading ModelStatus = "downloading"
	StatusOK          ModelStatus = "ok"
	StatusLoading     ModelStatus = "loading"
)

// String returns the string representation of the status
func (s ModelStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s ModelStatus) IsValid() bool {
	switch s {
	case StatusError, StatusDownloading, StatusOK, StatusLoading:
		return true
	default:
		return false
	}
}

// ErrorCode represents unified error codes
type ErrorCode string

const (
	ErrModelNotFound      ErrorCode = "MODEL_NOT_FOUND"
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrDownloadInProgress ErrorCode = "DOWNLOAD_IN_PROGRESS"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrDownloadsDisabled  ErrorCode = "DOWNLOADS_DISABLED"
	ErrDaemonUnavailable  ErrorCode = "DAEMON_UNAVAILABLE"
	ErrDaemonTimeout      ErrorCode = "DAEMON_TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// String returns the string representation of the error code
func (e ErrorCode) String() string {
	return string(e)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrModelNotFound:
		return 404
	case ErrInvalidRequest:
		return 400
	case ErrDownloadInProgress:
		return 409
	case ErrRateLimited:
		return 429
	case ErrDownloadsDisabled:
		return 403
	case ErrDaemonUnavailable:
		return 503
	case ErrDaemonTimeout:
		return 504
	default:
		return 500
	}
}

// ErrorInfo represents detailed error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error returns a formatted error message
func (e *ErrorInfo) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ResponseMeta represents metadata included in API responses
type ResponseMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	Latency   int64  `json:"latency,omitempty"` // milliseconds
}

// NewResponseMeta creates a new ResponseMeta with current timestamp
func NewResponseMeta(requestID string) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// ApiResponse represents a unified API response format
type ApiResponse[T any] struct {
	Success  bool          `json:"success"`
	Data     T             `json:"data,omitempty"`
	Error    *ErrorInfo    `json:"error,omitempty"`
	Metadata *ResponseMeta `json:"metadata,omitempty"`
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse[T any](data T, requestID string) *ApiResponse[T] {
	return &ApiResponse[T]{
		Success:  true,
		Data:     data,
		Metadata: NewResponseMeta(requestID),
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code ErrorCode, message string, requestID string) *ApiResponse[struct{}] {
	return &ApiResponse[struct{}]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Metadata: NewResponseMeta(requestID),
	}
}

// NewErrorResponseWithDetails creates an error API response with details
func NewErrorResponseWithDetails(code ErrorCode, message, details string, requestID string) *ApiResponse[struct{}] {
	return &ApiResponse[struct{}]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: NewResponseMeta(requestID),
	}
}

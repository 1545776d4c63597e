package core

import (
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: capture_timeout, model_unavailable, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError with the same code, so copies made by the
// With* helpers still compare equal to the predefined errors.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Capture errors
	ErrCaptureTimeout = &ExecutionError{
		Category: ErrCategoryCapture,
		Code:     "capture_timeout",
		Message:  "no frame available within the capture budget",
	}
	ErrCaptureBusy = &ExecutionError{
		Category: ErrCategoryCapture,
		Code:     "capture_busy",
		Message:  "a capture is already in progress",
	}
	ErrCaptureClosed = &ExecutionError{
		Category: ErrCategoryCapture,
		Code:     "capture_closed",
		Message:  "capture session is closed",
	}
	ErrListenerUnsupported = &ExecutionError{
		Category: ErrCategoryCapture,
		Code:     "listener_unsupported",
		Message:  "frame listener not supported by capture session",
	}

	// Model errors
	ErrModelUnavailable = &ExecutionError{
		Category: ErrCategoryModel,
		Code:     "model_unavailable",
		Message:  "vision model request failed",
	}
	ErrMissingCredentials = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_credentials",
		Message:  "model API key is not configured",
	}

	// Parse errors
	ErrUnparsableAction = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "unparsable_action",
		Message:  "cannot parse action",
	}

	// Gesture errors
	ErrGestureCancelled = &ExecutionError{
		Category: ErrCategoryGesture,
		Code:     "gesture_cancelled",
		Message:  "gesture was cancelled",
	}
	ErrNotConnected = &ExecutionError{
		Category: ErrCategoryGesture,
		Code:     "not_connected",
		Message:  "device interaction service is not connected",
	}

	// Task errors
	ErrTaskCancelled = &ExecutionError{
		Category: ErrCategoryCancelled,
		Code:     "task_cancelled",
		Message:  "task cancelled",
	}
	ErrTaskRunning = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "task_running",
		Message:  "a task is already running on this agent",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

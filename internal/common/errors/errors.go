// Package errors provides standardized error handling for activity discovery,
// schedule management and Zeebe job failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Discovery / registry errors
const (
	ErrCodeRegistryNotInitialized ErrorCode = "REGISTRY_NOT_INITIALIZED"
	ErrCodeRegistryCleared        ErrorCode = "REGISTRY_CLEARED"
	ErrCodeRegistryPopulated      ErrorCode = "REGISTRY_ALREADY_POPULATED"
	ErrCodeActivityNotFound       ErrorCode = "ACTIVITY_NOT_FOUND"
	ErrCodeComponentSourceFailed  ErrorCode = "COMPONENT_SOURCE_FAILED"
	ErrCodeInvalidDescriptor      ErrorCode = "INVALID_DESCRIPTOR"
)

// Schedule lifecycle errors
const (
	ErrCodeScheduleNotManaged  ErrorCode = "SCHEDULE_NOT_MANAGED"
	ErrCodeDeleteNotConfirmed  ErrorCode = "DELETE_NOT_CONFIRMED"
	ErrCodeScheduleNotFound    ErrorCode = "SCHEDULE_NOT_FOUND"
	ErrCodeScheduleExists      ErrorCode = "SCHEDULE_ALREADY_EXISTS"
	ErrCodeEngineOperation     ErrorCode = "ENGINE_OPERATION_FAILED"
	ErrCodeEngineUnavailable   ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeEngineTimeout       ErrorCode = "ENGINE_TIMEOUT"
	ErrCodeScheduleStoreFailed ErrorCode = "SCHEDULE_STORE_FAILED"
)

// Activity execution errors
const (
	ErrCodeActivityFailed       ErrorCode = "ACTIVITY_FAILED"
	ErrCodeActivityInputInvalid ErrorCode = "ACTIVITY_INPUT_INVALID"
	ErrCodeActivityPanicked     ErrorCode = "ACTIVITY_PANICKED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// Unwrap exposes the original error so callers can match it with errors.Is.
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches two StandardErrors by code so sentinel values work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is matching. Constructors below return errors with the
// same code, so errors.Is(err, ErrScheduleNotManaged) holds for them.
var (
	ErrNotInitialized     = &StandardError{Code: ErrCodeRegistryNotInitialized, Message: "registry not initialized"}
	ErrCleared            = &StandardError{Code: ErrCodeRegistryCleared, Message: "registry has been cleared"}
	ErrAlreadyPopulated   = &StandardError{Code: ErrCodeRegistryPopulated, Message: "registry already populated"}
	ErrActivityNotFound   = &StandardError{Code: ErrCodeActivityNotFound, Message: "activity not found"}
	ErrScheduleNotManaged = &StandardError{Code: ErrCodeScheduleNotManaged, Message: "schedule not managed by this service"}
	ErrDeleteNotConfirmed = &StandardError{Code: ErrCodeDeleteNotConfirmed, Message: "schedule deletion requires confirmation"}
	ErrScheduleNotFound   = &StandardError{Code: ErrCodeScheduleNotFound, Message: "schedule not found"}
	ErrScheduleExists     = &StandardError{Code: ErrCodeScheduleExists, Message: "schedule already exists"}
	ErrEngineOperation    = &StandardError{Code: ErrCodeEngineOperation, Message: "workflow engine operation failed"}
)

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewNotInitializedError is returned by registry accessors before discovery ran.
func NewNotInitializedError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryNotInitialized,
		Message:   "registry not initialized",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewClearedError is returned by registry accessors after shutdown.
func NewClearedError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryCleared,
		Message:   "registry has been cleared",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlreadyPopulatedError is returned when discovery runs twice on one registry.
func NewAlreadyPopulatedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeRegistryPopulated,
		Message:   "registry already populated",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewActivityNotFoundError creates a non-retryable lookup error.
func NewActivityNotFoundError(name string) *StandardError {
	return &StandardError{
		Code:      ErrCodeActivityNotFound,
		Message:   "activity not found",
		Details:   fmt.Sprintf("name: %s", name),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewComponentSourceFailedError wraps a failure of the component source.
func NewComponentSourceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeComponentSourceFailed,
		Message:   "component source failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewInvalidDescriptorError reports a malformed activity or schedule declaration.
func NewInvalidDescriptorError(id, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidDescriptor,
		Message:   fmt.Sprintf("invalid descriptor %q", id),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScheduleNotManagedError is returned for operations on ids this process
// did not create or confirm.
func NewScheduleNotManagedError(scheduleID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleNotManaged,
		Message:   fmt.Sprintf("schedule %q is not managed by this service", scheduleID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeleteNotConfirmedError is returned when a delete request lacks force=true.
func NewDeleteNotConfirmedError(scheduleID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeleteNotConfirmed,
		Message:   fmt.Sprintf("deleting schedule %q requires explicit confirmation", scheduleID),
		Details:   "retry with force=true",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScheduleNotFoundError is returned by engines for unknown schedule ids.
func NewScheduleNotFoundError(scheduleID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleNotFound,
		Message:   fmt.Sprintf("schedule %q not found", scheduleID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScheduleExistsError is returned by engines when a create collides.
func NewScheduleExistsError(scheduleID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleExists,
		Message:   fmt.Sprintf("schedule %q already exists", scheduleID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEngineOperationError wraps a workflow engine failure. The original error
// is kept as Cause and its message as Details.
func NewEngineOperationError(operation, scheduleID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEngineOperation,
		Message:   fmt.Sprintf("%s schedule %q failed", operation, scheduleID),
		Details:   err.Error(),
		Retryable: true,
		Metadata: map[string]interface{}{
			"operation":  operation,
			"scheduleId": scheduleID,
		},
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewScheduleStoreError wraps a failure of the persistent schedule store.
func NewScheduleStoreError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeScheduleStoreFailed,
		Message:   fmt.Sprintf("schedule store %s failed", operation),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewActivityFailedError wraps an error returned by an activity handler.
func NewActivityFailedError(activity string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeActivityFailed,
		Message:   fmt.Sprintf("activity %q failed", activity),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewActivityInputInvalidError reports job variables that cannot be decoded.
func NewActivityInputInvalidError(activity string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeActivityInputInvalid,
		Message:   fmt.Sprintf("invalid input for activity %q", activity),
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewActivityPanickedError reports a recovered panic inside an activity handler.
func NewActivityPanickedError(activity string, recovered interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeActivityPanicked,
		Message:   fmt.Sprintf("activity %q panicked", activity),
		Details:   fmt.Sprint(recovered),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEngineUnavailable,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEngineTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeActivityFailed:       "ACTIVITY_FAILED",
	ErrCodeActivityInputInvalid: "ACTIVITY_INPUT_INVALID",
	ErrCodeActivityPanicked:     "ACTIVITY_PANICKED",
	ErrCodeActivityNotFound:     "ACTIVITY_NOT_FOUND",
	ErrCodeEngineUnavailable:    "ENGINE_UNAVAILABLE",
	ErrCodeEngineTimeout:        "ENGINE_TIMEOUT",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeActivityFailed,
		ErrCodeEngineUnavailable,
		ErrCodeEngineOperation,
		ErrCodeScheduleStoreFailed:
		return 3

	case ErrCodeEngineTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsCode reports whether any StandardError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var stdErr *StandardError
		if !stderrors.As(err, &stdErr) {
			return false
		}
		if stdErr.Code == code {
			return true
		}
		err = stdErr.Cause
	}
	return false
}

// CodeOf returns the code of the outermost StandardError in err's chain.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// RootMessage returns the message of the innermost error in the chain. It is
// used to record engine failures exactly as the engine reported them.
func RootMessage(err error) string {
	if err == nil {
		return ""
	}
	for {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "REGISTRY") || strings.Contains(codeStr, "DESCRIPTOR") || strings.Contains(codeStr, "COMPONENT"):
		return "DISCOVERY"
	case strings.HasPrefix(codeStr, "SCHEDULE") || strings.HasPrefix(codeStr, "DELETE"):
		return "SCHEDULE"
	case strings.HasPrefix(codeStr, "ENGINE"):
		return "ENGINE"
	case strings.HasPrefix(codeStr, "ACTIVITY"):
		return "ACTIVITY"
	default:
		return "OTHER"
	}
}

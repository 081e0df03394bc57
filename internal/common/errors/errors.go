// Package errors provides the engine's standardized error taxonomy and its
// mapping onto Camunda job failures.
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

const (
	// Configuration
	ErrCodeConfigMissing      ErrorCode = "CONFIG_MISSING"
	ErrCodeConfigLoadFailed   ErrorCode = "CONFIG_LOAD_FAILED"
	ErrCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrCodeUnconfigured       ErrorCode = "UNCONFIGURED"
	ErrCodeCompanyIDMismatch  ErrorCode = "COMPANY_ID_MISMATCH"
	ErrCodeInvalidRouteInput  ErrorCode = "INVALID_ROUTE_INPUT"
	ErrCodeFlowStateFailed    ErrorCode = "FLOW_STATE_FAILED"
	ErrCodeFlagWriteFailed    ErrorCode = "FLAG_WRITE_FAILED"
	ErrCodeInvalidationFailed ErrorCode = "INVALIDATION_FAILED"

	// Booking contract
	ErrCodeCompileError          ErrorCode = "COMPILE_ERROR"
	ErrCodeMissingSlotRef        ErrorCode = "MISSING_SLOT_REF"
	ErrCodeBookingEnableRejected ErrorCode = "BOOKING_ENABLE_REJECTED"

	// Language-model fallback chain
	ErrCodeProviderTimeout   ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderError     ErrorCode = "PROVIDER_ERROR"
	ErrCodeFallbackExhausted ErrorCode = "FALLBACK_EXHAUSTED"

	// Notifications
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"

	// Workflow engine
	ErrCodeWorkflowUnavailable ErrorCode = "WORKFLOW_UNAVAILABLE"
	ErrCodeWorkflowTimeout     ErrorCode = "WORKFLOW_TIMEOUT"
	ErrCodeWorkflowRejected    ErrorCode = "WORKFLOW_REJECTED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another *StandardError by code so callers can compare against
// the exported sentinels below.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfigMissing         = &StandardError{Code: ErrCodeConfigMissing}
	ErrUnconfigured          = &StandardError{Code: ErrCodeUnconfigured}
	ErrBookingEnableRejected = &StandardError{Code: ErrCodeBookingEnableRejected}
	ErrFallbackExhausted     = &StandardError{Code: ErrCodeFallbackExhausted}
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

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigMissingError is the only hard failure the routing layer returns.
func NewConfigMissingError(companyID string) *StandardError {
	e := newError(ErrCodeConfigMissing, "No agent configuration for company", fmt.Sprintf("companyId: %s", companyID), false)
	e.Metadata = map[string]interface{}{"companyId": companyID}
	return e
}

// NewConfigLoadFailedError wraps a transient source failure.
func NewConfigLoadFailedError(companyID string, err error) *StandardError {
	e := newError(ErrCodeConfigLoadFailed, "Agent configuration could not be loaded", fmt.Sprintf("companyId: %s, error: %v", companyID, err), true)
	e.cause = err
	return e
}

// NewConfigInvalidError reports a document that failed schema validation.
func NewConfigInvalidError(companyID string, problems []string) *StandardError {
	e := newError(ErrCodeConfigInvalid, "Agent configuration document is invalid", strings.Join(problems, "; "), false)
	e.Metadata = map[string]interface{}{"companyId": companyID, "problems": problems}
	return e
}

// NewUnconfiguredError marks a required per-company setting as absent.
func NewUnconfiguredError(setting string) *StandardError {
	return newError(ErrCodeUnconfigured, "Required company setting is absent", fmt.Sprintf("setting: %s", setting), false)
}

func NewCompanyIDMismatchError(requested, got string) *StandardError {
	return newError(ErrCodeCompanyIDMismatch, "Configuration source returned another company", fmt.Sprintf("requested: %s, got: %s", requested, got), false)
}

func NewInvalidRouteInputError(details string) *StandardError {
	return newError(ErrCodeInvalidRouteInput, "Invalid routing input", details, false)
}

func NewFlowStateFailedError(err error) *StandardError {
	e := newError(ErrCodeFlowStateFailed, "Conversation flow state unavailable", err.Error(), true)
	e.cause = err
	return e
}

func NewFlagWriteFailedError(flag string, err error) *StandardError {
	e := newError(ErrCodeFlagWriteFailed, "Feature flag write failed", fmt.Sprintf("flag: %s, error: %v", flag, err), true)
	e.cause = err
	return e
}

func NewInvalidationFailedError(companyID string, err error) *StandardError {
	e := newError(ErrCodeInvalidationFailed, "Config invalidation broadcast failed", fmt.Sprintf("companyId: %s, error: %v", companyID, err), true)
	e.cause = err
	return e
}

// NewMissingSlotRefError reports slot ids referenced by groups but absent from the library.
func NewMissingSlotRefError(slotIDs []string) *StandardError {
	e := newError(ErrCodeMissingSlotRef, "Slot group references unknown slot", fmt.Sprintf("missingSlotRefs: %s", strings.Join(slotIDs, ",")), false)
	e.Metadata = map[string]interface{}{"missingSlotRefs": slotIDs}
	return e
}

func NewCompileError(details string) *StandardError {
	return newError(ErrCodeCompileError, "Booking contract did not compile cleanly", details, false)
}

// NewBookingEnableRejectedError blocks the V2 booking toggle.
func NewBookingEnableRejectedError(companyID string, missing []string, activeSlots int) *StandardError {
	e := newError(ErrCodeBookingEnableRejected, "Booking contract V2 cannot be enabled",
		fmt.Sprintf("companyId: %s, missingSlotRefs: [%s], activeSlots: %d", companyID, strings.Join(missing, ","), activeSlots), false)
	e.Metadata = map[string]interface{}{
		"companyId":       companyID,
		"missingSlotRefs": missing,
		"activeSlots":     activeSlots,
	}
	return e
}

func NewProviderTimeoutError(providerID string, err error) *StandardError {
	e := newError(ErrCodeProviderTimeout, "Language-model provider timeout", fmt.Sprintf("provider: %s", providerID), true)
	e.cause = err
	return e
}

func NewProviderError(providerID string, err error) *StandardError {
	e := newError(ErrCodeProviderError, "Language-model provider error", fmt.Sprintf("provider: %s, error: %v", providerID, err), true)
	e.cause = err
	return e
}

// NewFallbackExhaustedError is treated by callers exactly like Escalate.
func NewFallbackExhaustedError(attempted int) *StandardError {
	e := newError(ErrCodeFallbackExhausted, "All language-model providers failed", fmt.Sprintf("providersAttempted: %d", attempted), false)
	e.Metadata = map[string]interface{}{"providersAttempted": attempted}
	return e
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Notification delivery failed", fmt.Sprintf("channel: %s, error: %v", channel, err), true)
	e.cause = err
	return e
}

// NewWorkflowEngineError wraps a failed Zeebe command. Rejections are not retryable.
func NewWorkflowEngineError(code ErrorCode, operation string, err error) *StandardError {
	e := newError(code, "Workflow engine operation failed", fmt.Sprintf("operation: %s, error: %v", operation, err), code != ErrCodeWorkflowRejected)
	e.cause = err
	return e
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended Camunda retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeConfigLoadFailed,
		ErrCodeFlowStateFailed,
		ErrCodeFlagWriteFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeInvalidationFailed,
		ErrCodeWorkflowUnavailable,
		ErrCodeWorkflowTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandard extracts a *StandardError from an error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in the chain, or "" if none.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ""
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "CONFIG") || codeStr == string(ErrCodeUnconfigured) || strings.Contains(codeStr, "INVALIDATION"):
		return "CONFIG"
	case strings.Contains(codeStr, "SLOT") || strings.Contains(codeStr, "COMPILE") || strings.Contains(codeStr, "BOOKING"):
		return "BOOKING"
	case strings.Contains(codeStr, "PROVIDER") || strings.Contains(codeStr, "FALLBACK"):
		return "LLM"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "WORKFLOW"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

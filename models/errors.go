package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInteraction        = "ERR_INTERACTION"
	ErrCodeClassification     = "ERR_CLASSIFICATION"
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeGeneration         = "ERR_GENERATION"
	ErrCodeExecution          = "ERR_EXECUTION"
	ErrCodePolicyBlock        = "ERR_POLICY_BLOCK"
	ErrCodeInvalidInput       = "ERR_INVALID_INPUT"
	ErrCodeTimeout            = "ERR_TIMEOUT"
	ErrCodeRateLimited        = "ERR_RATE_LIMITED"
	ErrCodeUnauthorized       = "ERR_UNAUTHORIZED"
	ErrCodeInternal           = "ERR_INTERNAL"

	// LLM-related error codes.
	ErrCodeLLMFailure     = "ERR_LLM_FAILURE"
	ErrCodeLLMAuthFailure = "ERR_LLM_AUTH_FAILURE"
	ErrCodeLLMRateLimited = "ERR_LLM_RATE_LIMITED"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WorkflowError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type WorkflowError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new WorkflowError.
func NewWorkflowError(code, message string, err error) *WorkflowError {
	return &WorkflowError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *WorkflowError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

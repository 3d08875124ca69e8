package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyQuery        = NewDomainError(ErrCodeValidation, "query is required")
	ErrQueryTooLong      = NewDomainError(ErrCodeValidation, "query exceeds maximum length")
	ErrInvalidJobStatus  = NewDomainError(ErrCodeValidation, "invalid research job status")
	ErrInvalidJobStage   = NewDomainError(ErrCodeValidation, "invalid research job stage")
	ErrInvalidProgress   = NewDomainError(ErrCodeValidation, "stage progress must be between 0 and 100")
	ErrMissingJobID      = NewDomainError(ErrCodeValidation, "research job ID is required")
	ErrInvalidCredTier   = NewDomainError(ErrCodeValidation, "invalid credibility tier")
	ErrMissingSourceText = NewDomainError(ErrCodeValidation, "source text is required")
)

// Not found errors
var (
	ErrJobNotFound    = NewDomainError(ErrCodeNotFound, "research job not found")
	ErrResultNotFound = NewDomainError(ErrCodeNotFound, "research result not found")
	ErrReportNotFound = NewDomainError(ErrCodeNotFound, "research report not archived")
)

// Operation errors
var (
	ErrJobTerminal        = NewDomainError(ErrCodeInvalidOperation, "research job is already in a terminal state")
	ErrInvalidTransition  = NewDomainError(ErrCodeInvalidOperation, "invalid research job status transition")
	ErrQueueShuttingDown  = NewDomainError(ErrCodeInvalidOperation, "research queue is shutting down")
	ErrArchiveUnavailable = NewDomainError(ErrCodeInternalError, "report archive operation failed")
)

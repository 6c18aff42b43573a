package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest        = "BAD_REQUEST"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrForbidden         = "FORBIDDEN"
	ErrNotFound          = "NOT_FOUND"
	ErrConflict          = "CONFLICT"
	ErrInternalError     = "INTERNAL_ERROR"
	ErrRemoteUnavailable = "REMOTE_UNAVAILABLE"
	ErrRemoteTimeout     = "REMOTE_TIMEOUT"
)

// Case-engine error codes.
const (
	ErrCaseNotFound        = "CASE_NOT_FOUND"
	ErrCorrelationNotFound = "CORRELATION_NOT_FOUND"
	ErrMismatchedCounts    = "MISMATCHED_COUNTS"
	ErrEvidenceNotFound    = "EVIDENCE_NOT_FOUND"
	ErrCaseNoEvidence      = "CASE_NO_EVIDENCE"
	ErrRetriesExhausted    = "RETRIES_EXHAUSTED"
	ErrPartialDelete       = "PARTIAL_DELETE"
	ErrCloseRejected       = "CLOSE_REJECTED"
	ErrDuplicateEvidence   = "DUPLICATE_EVIDENCE"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IsCode reports whether err is an *ErrorEnvelope carrying the given code.
func IsCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Conflicts on variable patches
// are transient: the caller is expected to re-read, re-merge, and re-write.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewRemoteUnavailableError returns a REMOTE_UNAVAILABLE error.
func NewRemoteUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRemoteUnavailable,
		Message: "The workflow engine is temporarily unavailable",
	}
}

// NewRemoteTimeoutError returns a REMOTE_TIMEOUT error.
func NewRemoteTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRemoteTimeout,
		Message: "The workflow engine did not respond in time",
	}
}

// NewCaseNotFoundError returns a CASE_NOT_FOUND error for the given key.
func NewCaseNotFoundError(businessKey string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCaseNotFound,
		Message: fmt.Sprintf("case with businessKey %s not found", businessKey),
	}
}

// NewCorrelationNotFoundError returns a CORRELATION_NOT_FOUND error.
func NewCorrelationNotFoundError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCorrelationNotFound,
		Message: "no open case contains a pending request matching the response",
	}
}

// NewMismatchedCountsError returns a MISMATCHED_COUNTS error.
func NewMismatchedCountsError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrMismatchedCounts, Message: msg}
}

// NewEvidenceNotFoundError returns an EVIDENCE_NOT_FOUND error.
func NewEvidenceNotFoundError(businessKey, evidenceID string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrEvidenceNotFound,
		Message: fmt.Sprintf("case %s does not contain evidence with id %s", businessKey, evidenceID),
	}
}

// NewCaseNoEvidenceError returns a CASE_NO_EVIDENCE error.
func NewCaseNoEvidenceError(businessKey string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCaseNoEvidence,
		Message: fmt.Sprintf("case %s does not contain any evidence files", businessKey),
	}
}

// NewRetriesExhaustedError returns a RETRIES_EXHAUSTED error. It is the
// terminal outcome of the update retry loop, distinguishable from both
// success and the transient failures that preceded it.
func NewRetriesExhaustedError(businessKey string, attempts int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrRetriesExhausted,
		Message: fmt.Sprintf("cannot update case %s: %d attempts exhausted", businessKey, attempts),
	}
}

// NewPartialDeleteError returns a PARTIAL_DELETE error. The workflow instance
// is gone but evidence file cleanup failed; operators must reconcile by hand.
func NewPartialDeleteError(businessKey string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrPartialDelete,
		Message: fmt.Sprintf("case %s deleted but evidence cleanup failed: %v", businessKey, cause),
	}
}

// NewCloseRejectedError returns a CLOSE_REJECTED error. The engine refused an
// empty task completion while closing, which requires operator intervention.
func NewCloseRejectedError(businessKey string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrCloseRejected,
		Message: fmt.Sprintf("cannot close case %s: engine rejected empty completion: %v", businessKey, cause),
	}
}

// NewDuplicateEvidenceError returns a DUPLICATE_EVIDENCE error.
func NewDuplicateEvidenceError(name, businessKey string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDuplicateEvidence,
		Message: fmt.Sprintf("file %s is already uploaded in case %s", name, businessKey),
	}
}

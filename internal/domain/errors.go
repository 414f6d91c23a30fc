package domain

import (
	"errors"
	"fmt"
)

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

// Is lets errors.Is match wrapped DomainErrors by code and message.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
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
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeIndexNotReady    = "INDEX_NOT_READY"
	ErrCodeUnavailable      = "UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidChunkerKind     = NewDomainError(ErrCodeValidation, "invalid chunker kind")
	ErrInvalidChunkOverlap    = NewDomainError(ErrCodeValidation, "chunk overlap must be smaller than chunk size")
	ErrInvalidEmbeddingDim    = NewDomainError(ErrCodeValidation, "embedding dimensionality must be positive")
	ErrInvalidIndexJobStatus  = NewDomainError(ErrCodeValidation, "invalid index job status")
	ErrInvalidIndexJobAction  = NewDomainError(ErrCodeValidation, "invalid index job action")
	ErrMissingRequiredField   = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidReconcileTarget = NewDomainError(ErrCodeValidation, "reconcile requires a knowledge base id, a document id, or both")
)

// Not found errors
var (
	ErrKnowledgeBaseNotFound = NewDomainError(ErrCodeNotFound, "knowledge base not found")
	ErrDocumentNotFound      = NewDomainError(ErrCodeNotFound, "document not found")
	ErrOrganizationNotFound  = NewDomainError(ErrCodeNotFound, "organization not found")
	ErrDocumentNotIndexed    = NewDomainError(ErrCodeNotFound, "document is not indexed in this knowledge base")
)

// Already exists errors
var (
	ErrKnowledgeBaseAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "knowledge base already exists")
)

// Quota errors
var (
	ErrQuotaExceeded = NewDomainError(ErrCodeQuotaExceeded, "embedding quota exceeded")
)

// Operation errors
var (
	// ErrKnowledgeBaseDisabled is returned when a knowledge base is in the
	// error state. Indexing and search stay blocked until an operator
	// intervenes.
	ErrKnowledgeBaseDisabled = NewDomainError(ErrCodeInvalidOperation, "knowledge base is in error state and requires operator intervention")
	ErrDimensionImmutable    = NewDomainError(ErrCodeInvalidOperation, "embedding dimensionality cannot change after creation")
)

// Index readiness errors
var (
	// ErrIndexNotReady signals that the vector index for a knowledge base is
	// still being built. Search retries this class internally.
	ErrIndexNotReady = NewDomainError(ErrCodeIndexNotReady, "vector index is not ready")
	// ErrSearchUnavailable is surfaced once the index-not-ready retry budget
	// is exhausted. Callers may retry later.
	ErrSearchUnavailable = NewDomainError(ErrCodeUnavailable, "vector index is still building, retry later")
)

// ProviderError is produced at the embedding provider adapter boundary. The
// Retryable flag is the single source of truth for retry decisions; callers
// never re-derive it from message text.
type ProviderError struct {
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider error (%s, status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider error (%s): %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewRetryableProviderError wraps a transient provider failure (rate limit,
// timeout, 5xx).
func NewRetryableProviderError(statusCode int, err error) *ProviderError {
	return &ProviderError{Retryable: true, StatusCode: statusCode, Err: err}
}

// NewPermanentProviderError wraps a permanent provider failure (auth failure,
// unknown model, other 4xx).
func NewPermanentProviderError(statusCode int, err error) *ProviderError {
	return &ProviderError{Retryable: false, StatusCode: statusCode, Err: err}
}

// IsRetryableProviderError reports whether err is a transient provider error.
func IsRetryableProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsPermanentProviderError reports whether err is a permanent provider error.
func IsPermanentProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && !pe.Retryable
}

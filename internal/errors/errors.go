package errors

import (
	"fmt"
)

// CodectxError is the structured error type for codectx.
// It provides rich context for error handling, logging, and user presentation.
type CodectxError struct {
	// Code is the unique error code (e.g., "ERR_403_NOT_INDEXED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Path, Embedding, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CodectxError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CodectxError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CodectxError.
func (e *CodectxError) Is(target error) bool {
	if t, ok := target.(*CodectxError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CodectxError) WithDetail(key, value string) *CodectxError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *CodectxError) WithSuggestion(suggestion string) *CodectxError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CodectxError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CodectxError {
	return &CodectxError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CodectxError from an existing error.
// The error's message becomes the CodectxError message.
func Wrap(code string, err error) *CodectxError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf creates a new CodectxError with a formatted message.
func Newf(code string, format string, args ...any) *CodectxError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// PathError creates a path-related error.
func PathError(message string, cause error) *CodectxError {
	return New(ErrCodePathNotFound, message, cause)
}

// SplitError creates a chunking-related error.
func SplitError(message string, cause error) *CodectxError {
	return New(ErrCodeSplitFailed, message, cause)
}

// EmbeddingError creates an embedding provider error of the given kind.
// Unknown kinds map to the transport code.
func EmbeddingError(kind string, message string, cause error) *CodectxError {
	code := ErrCodeEmbedTransport
	switch kind {
	case "authentication":
		code = ErrCodeEmbedAuth
	case "rate_limited":
		code = ErrCodeEmbedRateLimited
	case "invalid_response":
		code = ErrCodeEmbedInvalidResponse
	}
	return New(code, message, cause)
}

// StoreError creates a vector store error of the given kind.
// Unknown kinds map to the connect code.
func StoreError(kind string, message string, cause error) *CodectxError {
	code := ErrCodeStoreConnect
	switch kind {
	case "schema":
		code = ErrCodeStoreSchema
	case "insert":
		code = ErrCodeStoreInsert
	case "query":
		code = ErrCodeStoreQuery
	case "search":
		code = ErrCodeStoreSearch
	}
	return New(code, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CodectxError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CodectxError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CodectxError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CodectxError.
// Returns empty string if not a CodectxError.
func GetCode(err error) string {
	if ce, ok := err.(*CodectxError); ok {
		return ce.Code
	}
	return ""
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ce, ok := err.(*CodectxError); ok && ce.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

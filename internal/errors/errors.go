// Package errors provides structured error types for the Errata system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryCompaction ErrorCategory = "COMPACTION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryState      ErrorCategory = "STATE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeEmptyBatch          = "EMPTY_BATCH"
	CodeInvalidPartitionKey = "INVALID_PARTITION_KEY"
	CodeInvalidRequest      = "INVALID_REQUEST"

	// Storage codes
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeCorruptFile    = "CORRUPT_FILE"

	// Compaction codes
	CodeLockHeld      = "LOCK_HELD"
	CodeCountMismatch = "COUNT_MISMATCH"
	CodeSourceMissing = "SOURCE_MISSING"

	// Query codes
	CodeQueryNotFound = "QUERY_NOT_FOUND"
	CodeScanFailed    = "SCAN_FAILED"

	// State codes
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a structured Error.
func GetCategory(err error) ErrorCategory {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a structured Error.
func GetCode(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Infrastructure
// failures are; input errors and consistency violations are not.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryStorage && code == CodeReadFailed:
		return true
	case category == ErrCategoryCompaction && code == CodeLockHeld:
		return true
	case category == ErrCategoryState && code == CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCompactionError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryCompaction, code, message, cause)
}

func NewQueryError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

func NewStateError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryState, code, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

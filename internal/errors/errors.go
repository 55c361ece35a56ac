// Package errors provides structured error types for the Trailmap system.
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
	ErrCategoryScan       ErrorCategory = "SCAN"
	ErrCategoryIdentity   ErrorCategory = "IDENTITY"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidFilter    = "INVALID_FILTER"
	CodeInvalidDateRange = "INVALID_DATE_RANGE"
	CodeUnknownStartKey  = "UNKNOWN_START_KEY"

	// Scan codes
	CodeScanFailed       = "SCAN_FAILED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	// Identity codes
	CodeResolutionFailed = "RESOLUTION_FAILED"
	CodePersonNotFound   = "PERSON_NOT_FOUND"

	// Cache codes
	CodeCacheUnavailable = "CACHE_UNAVAILABLE"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// TrailmapError is the structured error type used throughout the system.
type TrailmapError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TrailmapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TrailmapError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TrailmapError) Is(target error) bool {
	var t *TrailmapError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TrailmapError.
func New(category ErrorCategory, code, message string) *TrailmapError {
	return &TrailmapError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TrailmapError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TrailmapError {
	return &TrailmapError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TrailmapError) WithDetails(details map[string]interface{}) *TrailmapError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var te *TrailmapError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TrailmapError.
func GetCategory(err error) ErrorCategory {
	var te *TrailmapError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TrailmapError.
func GetCode(err error) string {
	var te *TrailmapError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Scan failures are
// transient from the caller's perspective; validation, identity and cache
// errors are not (the cache path degrades to direct aggregation instead).
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryScan && code == CodeScanFailed:
		return true
	case category == ErrCategoryScan && code == CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *TrailmapError {
	return New(ErrCategoryValidation, code, message)
}

func NewScanError(code, message string, cause error) *TrailmapError {
	return Wrap(ErrCategoryScan, code, message, cause)
}

func NewIdentityError(code, message string, cause error) *TrailmapError {
	return Wrap(ErrCategoryIdentity, code, message, cause)
}

func NewCacheError(message string, cause error) *TrailmapError {
	return Wrap(ErrCategoryCache, CodeCacheUnavailable, message, cause)
}

func NewInternalError(message string, cause error) *TrailmapError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

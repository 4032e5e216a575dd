package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/snapshot-refresher/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents invalid caller input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents a missing snapshot or resource
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents a state transition that is no longer allowed
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents throttling of our own API
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents upstream data provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySource represents a failure inside one source run
	CategorySource ErrorCategory = "source"
)

// Error codes recorded on source runs and returned by the API
const (
	CodeSourceRun           = "ERR_SOURCE_RUN"
	CodeSourceNotConfigured = "ERR_SOURCE_NOT_CONFIGURED"
	CodePrices              = "ERR_PRICES"
	CodeOrchestration       = "ERR_ORCHESTRATION"
	CodeProviderRateLimit   = "PROVIDER_RATE_LIMIT"
	CodeSnapshotNotFound    = "SNAPSHOT_NOT_FOUND"
	CodeSnapshotFinalized   = "SNAPSHOT_ALREADY_FINALIZED"
	CodeInvalidSources      = "INVALID_SOURCES"
	CodeInvalidParameter    = "INVALID_PARAMETER"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Caller errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInvalidSourcesError reports enabled source keys that are not known
func NewInvalidSourcesError(unknown []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidSources,
		Message:    fmt.Sprintf("unknown source keys: %v", unknown),
		Details: map[string]interface{}{
			"unknown": unknown,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewSnapshotNotFoundError creates the not found error for a snapshot id
func NewSnapshotNotFoundError(snapshotID string) *CategorizedError {
	err := NewNotFoundError("snapshot", snapshotID)
	err.Code = CodeSnapshotNotFound
	return err
}

// NewSnapshotFinalizedError is returned when a snapshot is no longer RUNNING
func NewSnapshotFinalizedError(snapshotID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeSnapshotFinalized,
		Message:    fmt.Sprintf("snapshot %s is already finalized", snapshotID),
		Details: map[string]interface{}{
			"snapshotId": snapshotID,
		},
	}
}

// NewRateLimitError creates a rate limit error for our own API
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewOrchestrationError marks a failure that aborted a whole snapshot run
func NewOrchestrationError(snapshotID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeOrchestration,
		Message:    fmt.Sprintf("snapshot %s orchestration failed", snapshotID),
		Cause:      cause,
		Details: map[string]interface{}{
			"snapshotId": snapshotID,
		},
	}
}

// Source and provider errors

// NewSourceRunError wraps a runner failure for one source key
func NewSourceRunError(sourceKey string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySource,
		StatusCode: http.StatusBadGateway,
		Code:       CodeSourceRun,
		Message:    fmt.Sprintf("source %s failed", sourceKey),
		Cause:      cause,
		Details: map[string]interface{}{
			"sourceKey": sourceKey,
		},
	}
}

// NewSourceNotConfiguredError is recorded when no runner is registered for a key
func NewSourceNotConfiguredError(sourceKey string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySource,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeSourceNotConfigured,
		Message:    fmt.Sprintf("no runner configured for source %s", sourceKey),
		Details: map[string]interface{}{
			"sourceKey": sourceKey,
		},
	}
}

// NewPriceResolutionError is recorded on the prices run when nothing was priced
func NewPriceResolutionError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodePrices,
		Message:    message,
	}
}

// NewProviderError creates a data provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderStatusError records a non-2xx response from a provider
func NewProviderStatusError(provider string, status int) *CategorizedError {
	err := NewProviderError(provider, nil)
	err.Code = "PROVIDER_HTTP_STATUS"
	err.StatusCode = status
	err.Message = fmt.Sprintf("%s returned HTTP %d", provider, status)
	err.Details["status"] = status
	return err
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "PROVIDER_TIMEOUT",
		Message:    fmt.Sprintf("data provider timeout: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderRateLimitError creates a provider rate limit error
func NewProviderRateLimitError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeProviderRateLimit,
		Message:    fmt.Sprintf("data provider rate limit exceeded: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	catErr := &CategorizedError{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
	switch err.Code {
	case CodeInvalidSources, CodeInvalidParameter:
		catErr.Category, catErr.StatusCode = CategoryValidation, http.StatusBadRequest
	case CodeSnapshotNotFound, "NOT_FOUND":
		catErr.Category, catErr.StatusCode = CategoryNotFound, http.StatusNotFound
	case CodeSnapshotFinalized:
		catErr.Category, catErr.StatusCode = CategoryConflict, http.StatusConflict
	case CodeProviderRateLimit:
		catErr.Category, catErr.StatusCode = CategoryProvider, http.StatusTooManyRequests
	default:
		catErr.Category, catErr.StatusCode = CategorySystem, http.StatusInternalServerError
	}
	return catErr
}

// CodeOf returns the error code to record for err, or fallback when uncategorized
func CodeOf(err error, fallback string) string {
	var catErr *CategorizedError
	if errors.As(err, &catErr) && catErr.Code != "" {
		return catErr.Code
	}
	return fallback
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache:
		return true
	case CategoryProvider:
		// 4xx other than throttling will not improve on retry
		return catErr.StatusCode == http.StatusTooManyRequests ||
			catErr.StatusCode >= 500 ||
			catErr.Code == "PROVIDER_ERROR"
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

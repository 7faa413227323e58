// Package errors provides standardized error handling for RuleGate components.
// It defines the service error taxonomy (validation, store, dependency,
// policy), error classification for retry and HTTP mapping decisions, and
// helpers for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Request validation errors
	ErrValidation      = errors.New("malformed validation request")
	ErrMissingContent  = errors.New("content is required")
	ErrMissingPlatform = errors.New("platform is required")
	ErrUnknownMode     = errors.New("unknown validation mode")

	// Rule store errors
	ErrStoreUnavailable = errors.New("rule store unavailable")
	ErrStoreResponse    = errors.New("malformed rule store response")

	// Circuit breaker and degradation errors
	ErrCircuitOpen           = errors.New("circuit breaker is open")
	ErrDependencyUnavailable = errors.New("dependency unavailable and no cached result")

	// Cache errors
	ErrCacheMiss    = errors.New("cache miss")
	ErrInvalidKey   = errors.New("invalid cache key")
	ErrUntrustedPut = errors.New("cache entries require store-backed origin")

	// Configuration and policy errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingConfig    = errors.New("missing required configuration")
	ErrPolicyValidation = errors.New("policy update rejected")

	// Triage errors
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrPromotionFailed       = errors.New("promotion failed")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient. Transient errors are the only
// errors that feed circuit breaker failure accounting.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrDependencyUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Common transient patterns from wrapped third-party errors
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporarily unavailable",
		"no such host",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input or a data bug.
// Invalid errors never count against the circuit breaker.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingContent) ||
		errors.Is(err, ErrMissingPlatform) ||
		errors.Is(err, ErrUnknownMode) ||
		errors.Is(err, ErrStoreResponse) ||
		errors.Is(err, ErrPolicyValidation) ||
		errors.Is(err, ErrMissingIdempotencyKey) ||
		errors.Is(err, ErrInvalidKey)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		// Default to transient for unknown errors to allow retry
		return ErrorTransient
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class ErrorClass, err error, component, operation string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   err.Error(),
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorTransient, Wrap(err, component, method, action), component, method)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorInvalid, Wrap(err, component, method, action), component, method)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorFatal, Wrap(err, component, method, action), component, method)
}

package errors

import (
	"errors"
	"fmt"
)

// Generic error types for infrastructure and validation

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrExternal indicates an external API returned an error
	ErrExternal = errors.New("external API error")

	// ErrNotImplemented indicates a capability is not implemented
	ErrNotImplemented = errors.New("not implemented")

	// ErrRateLimitExceeded indicates an API rate limit was hit
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Workflow error taxonomy. These drive the engine's recovery policy:
// ambiguous classification degrades to a refusal, an undecidable route or a
// synthesis failure terminates the turn, and evaluator errors consume a retry.

var (
	// ErrClassificationAmbiguous indicates the intent judgment could not be parsed
	ErrClassificationAmbiguous = errors.New("classification ambiguous")

	// ErrRoutingUndecidable indicates no evidence route could be chosen
	ErrRoutingUndecidable = errors.New("routing undecidable")

	// ErrExternalCallTimeout indicates an external call exceeded its deadline
	ErrExternalCallTimeout = errors.New("external call timeout")

	// ErrEntityUnresolved indicates a company name could not be mapped to a ticker
	ErrEntityUnresolved = errors.New("entity unresolved")

	// ErrAllEntitiesUnresolved indicates no entity in the request could be resolved
	ErrAllEntitiesUnresolved = errors.New("all entities unresolved")

	// ErrSynthesisFailure indicates the report could not be produced
	ErrSynthesisFailure = errors.New("synthesis failure")

	// ErrQualityEvaluation indicates the evaluator call itself failed
	ErrQualityEvaluation = errors.New("quality evaluation error")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidStrategy = errors.New("invalid strategy")
	ErrAuth            = errors.New("credentials rejected")
	ErrService         = errors.New("partitioning service error")
	ErrTimeout         = errors.New("partitioning request timed out")
	ErrIO              = errors.New("output write failed")
	ErrInvalidJSONLD   = errors.New("linked-data response is not valid JSON")
)

// InvalidStrategyError reports a bad or inconsistent strategy configuration.
// It is detected before any network call and is never retried.
type InvalidStrategyError struct {
	Field  string
	Reason string
}

func (e *InvalidStrategyError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid strategy: %s", e.Reason)
	}
	return fmt.Sprintf("invalid strategy: %s: %s", e.Field, e.Reason)
}

func (e *InvalidStrategyError) Is(target error) bool { return target == ErrInvalidStrategy }

// NewInvalidStrategy builds an InvalidStrategyError with a formatted reason.
func NewInvalidStrategy(field, format string, args ...any) error {
	return &InvalidStrategyError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AuthError is returned when the remote service rejects the credentials.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("credentials rejected (status %d): %s", e.Status, e.Message)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// ServiceError is any non-success response from the partitioning service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("partitioning service returned %d: %s", e.Status, e.Message)
}

func (e *ServiceError) Is(target error) bool { return target == ErrService }

// TimeoutError wraps a request that exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	if e.Err == nil {
		return ErrTimeout.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTimeout, e.Err)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

func (e *TimeoutError) Unwrap() error { return e.Err }

// IOError is a local persistence failure.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

// IsRetryable reports whether err may be retried under the pipeline retry policy.
// Only service errors and timeouts qualify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidStrategy) {
		return false
	}
	return errors.Is(err, ErrService) || errors.Is(err, ErrTimeout)
}

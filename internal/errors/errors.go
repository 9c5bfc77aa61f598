// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrRestricted         = errors.New("endpoint restricted from this location")
	ErrAllEndpointsFailed = errors.New("all exchange endpoints failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrPriceUnavailable   = errors.New("price unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDataNotFound       = errors.New("data not found")
	ErrNoReport           = errors.New("no report available yet")
	ErrDatabaseError      = errors.New("database error")
)

// ExchangeError represents an error payload returned by the exchange API.
type ExchangeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange error [%d]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("exchange error [%d]: %s", e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError creates a new ExchangeError.
func NewExchangeError(code int, message string, err error) *ExchangeError {
	return &ExchangeError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// DataError represents a data-related error for one pair.
type DataError struct {
	DataType string
	Pair     string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Pair, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Pair, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, pair, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Pair:     pair,
		Message:  message,
		Err:      err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, dropping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

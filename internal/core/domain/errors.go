// Package domain provides the canonical types shared by the action pipeline.
package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError reports configuration that cannot be turned into a
// working pipeline component: a result type that satisfies no result
// contract, an unknown bean type, or a settings type of the wrong kind.
type ConfigurationError struct {
	// Message is the human-readable reason
	Message string

	// Type is the offending type identifier
	Type string

	// Source describes where the configuration came from (a result
	// descriptor, an interceptor option, ...). Optional.
	Source string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Type != "" {
		msg = fmt.Sprintf("type [%s] %s", e.Type, e.Message)
	}
	if e.Source != "" {
		return fmt.Sprintf("configuration error: %s - %s", msg, e.Source)
	}
	return "configuration error: " + msg
}

// NewConfigurationError creates a configuration error for a type identifier.
func NewConfigurationError(typeName, message string) *ConfigurationError {
	return &ConfigurationError{Type: typeName, Message: message}
}

// WithSource records where the offending configuration was declared.
func (e *ConfigurationError) WithSource(source string) *ConfigurationError {
	e.Source = source
	return e
}

// IsConfigurationError returns true if err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ArgumentError reports an invalid configuration value detected while the
// value was being set, before any request is served.
type ArgumentError struct {
	// Field is the option being set
	Field string

	// Value is the rejected raw value
	Value string

	// Message is the human-readable reason
	Message string

	// Err is the underlying parse error, if any
	Err error
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %s: %v", e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Message)
}

// Unwrap returns the underlying parse error.
func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// IsArgumentError returns true if err is or wraps an ArgumentError.
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

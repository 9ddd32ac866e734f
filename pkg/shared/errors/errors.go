// Package errors provides a lightweight, infrastructure-level error type
// for adapters (persistence, network, parsing) to describe what operation
// failed, on what component and resource, and why. Port adapters wrap an
// *OperationError into an internal/errors.AppError at the port boundary.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed infrastructure operation.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to %s", e.Operation)
	if e.Component != "" {
		fmt.Fprintf(&b, ", component: %s", e.Component)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, ", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ", cause: %s", e.Cause)
	}
	return b.String()
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a minimal error describing a failed action.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to %s", action)
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// FailedToWithDetails builds an *OperationError with component/resource context.
func FailedToWithDetails(operation, component, resource string, cause error) error {
	return &OperationError{
		Operation: operation,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Wrapf wraps err with a formatted message, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// DatabaseError builds an OperationError for the persistence component.
func DatabaseError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Cause: cause}
}

// NetworkError builds an OperationError for the network component, naming the endpoint as the resource.
func NetworkError(operation, endpoint string, cause error) error {
	return &OperationError{Operation: operation, Component: "network", Resource: endpoint, Cause: cause}
}

// ValidationError reports a field-level validation failure.
func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

// ConfigurationError reports a bad configuration setting.
func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

// TimeoutError reports an operation that exceeded its deadline.
func TimeoutError(operation, duration string) error {
	return fmt.Errorf("timeout while %s after %s", operation, duration)
}

// AuthenticationError reports a failed authentication attempt.
func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

// AuthorizationError reports a rejected authorization check.
func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

// ParseError reports a failed parse of a resource in a given format.
func ParseError(resource, format string, cause error) error {
	return &OperationError{
		Operation: fmt.Sprintf("parse %s as %s", resource, format),
		Cause:     cause,
	}
}

var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"unavailable",
	"reset by peer",
	"temporary",
}

// IsRetryable heuristically reports whether err represents a transient
// condition worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range retryableSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// Chain joins multiple non-nil errors into one, semicolon-separated.
func Chain(errs ...error) error {
	var messages []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		messages = append(messages, err.Error())
	}
	switch len(messages) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", messages[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(messages, "; "))
	}
}

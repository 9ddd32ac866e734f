// Package errors defines the structured error type returned by every
// exported operation on the deployment control plane (C5/C6/C7). Every
// failure mode in the design carries a kind, a message, optional details,
// and — when it wraps an infrastructure failure — the underlying cause.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType identifies one of the failure kinds the control plane surfaces.
type ErrorType string

const (
	// ErrorTypeValidation covers bad input: out-of-range resource envelopes,
	// empty names, malformed image references.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNameConflict is the per-user (user_id, name) uniqueness violation.
	ErrorTypeNameConflict ErrorType = "name_conflict"
	// ErrorTypeNotFound is an unknown deployment/replica id.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInvalidStateTransition covers operations rejected by the
	// deployment or replica state machine (e.g. scaling a DELETED deployment).
	ErrorTypeInvalidStateTransition ErrorType = "invalid_state_transition"
	// ErrorTypeInsufficientCapacity is returned when the scheduler's
	// capacity filter cannot satisfy the requested replica count.
	ErrorTypeInsufficientCapacity ErrorType = "insufficient_capacity"
	// ErrorTypeRuntimeError wraps a ContainerRuntime failure.
	ErrorTypeRuntimeError ErrorType = "runtime_error"
	// ErrorTypePersistenceError wraps an aborted persistence transaction.
	ErrorTypePersistenceError ErrorType = "persistence_error"
	// ErrorTypeRewardDistributionFailed is returned when settlement refuses
	// to let cleanup proceed.
	ErrorTypeRewardDistributionFailed ErrorType = "reward_distribution_failed"
	// ErrorTypeQueueFull is returned synchronously when the placement queue
	// is saturated.
	ErrorTypeQueueFull ErrorType = "queue_full"
	// ErrorTypeInternal is the catch-all for anything that isn't one of the above.
	ErrorTypeInternal ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:                http.StatusBadRequest,
	ErrorTypeNameConflict:              http.StatusConflict,
	ErrorTypeNotFound:                  http.StatusNotFound,
	ErrorTypeInvalidStateTransition:    http.StatusConflict,
	ErrorTypeInsufficientCapacity:      http.StatusServiceUnavailable,
	ErrorTypeRuntimeError:              http.StatusInternalServerError,
	ErrorTypePersistenceError:          http.StatusInternalServerError,
	ErrorTypeRewardDistributionFailed:  http.StatusConflict,
	ErrorTypeQueueFull:                 http.StatusServiceUnavailable,
	ErrorTypeInternal:                  http.StatusInternalServerError,
}

// AppError is the structured error returned by control-plane operations.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

// New creates an AppError of the given kind with the default status code.
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodeFor(errType),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *AppError {
	return New(errType, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error as the cause of a new AppError.
func Wrap(cause error, errType ErrorType, message string) *AppError {
	err := New(errType, message)
	err.Cause = cause
	return err
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, errType ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, errType, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional context, modifying the receiver in place.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted additional context.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

// Unwrap lets errors.Is/errors.As see through to the cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func statusCodeFor(errType ErrorType) int {
	if code, ok := statusCodes[errType]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// --- predefined constructors for the common cases each component raises ---

// NewValidationError reports a rejected input.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewNameConflictError reports a (user_id, name) uniqueness violation (D1).
func NewNameConflictError(name string) *AppError {
	return Newf(ErrorTypeNameConflict, "deployment name %q already in use", name)
}

// NewNotFoundError reports an unknown resource of the given kind.
func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

// NewInvalidStateTransitionError reports a rejected state transition.
func NewInvalidStateTransitionError(from, to, entity string) *AppError {
	return Newf(ErrorTypeInvalidStateTransition, "cannot transition %s from %s to %s", entity, from, to)
}

// NewInsufficientCapacityError reports a scheduler capacity-filter shortfall.
func NewInsufficientCapacityError(needed, available int) *AppError {
	return Newf(ErrorTypeInsufficientCapacity, "insufficient capacity: need %d nodes, found %d", needed, available)
}

// NewRuntimeError wraps a ContainerRuntime failure.
func NewRuntimeError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeRuntimeError, "container runtime operation failed: %s", op)
}

// NewPersistenceError wraps an aborted persistence transaction.
func NewPersistenceError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypePersistenceError, "persistence operation failed: %s", op)
}

// NewRewardDistributionFailedError identifies which reward failed settlement.
func NewRewardDistributionFailedError(rewardID string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeRewardDistributionFailed, "reward distribution failed for %s", rewardID)
}

// NewQueueFullError reports a saturated placement queue.
func NewQueueFullError() *AppError {
	return New(ErrorTypeQueueFull, "placement queue is full")
}

// IsType reports whether err is an *AppError of the given kind.
func IsType(err error, errType ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType extracts the ErrorType, defaulting to ErrorTypeInternal for
// anything that isn't an *AppError.
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode extracts the HTTP status code, defaulting to 500.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages holds the messages returned to callers for error kinds whose
// internal Message may leak operational detail.
var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:                 "the requested resource could not be found",
	ErrorTypeInvalidStateTransition:   "the requested operation is not valid for the current status",
	ErrorTypeRewardDistributionFailed: "reward settlement failed; the deployment was not removed",
	ErrorTypeQueueFull:                "the placement queue is currently full",
}

// SafeErrorMessage returns a message fit to return to a caller: validation
// and name-conflict messages are passed through verbatim (they describe the
// caller's own input), everything else is replaced by a generic,
// non-leaking message.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "an unexpected error occurred"
	}
	if appErr.Type == ErrorTypeValidation || appErr.Type == ErrorTypeNameConflict {
		return appErr.Message
	}
	if msg, ok := safeMessages[appErr.Type]; ok {
		return msg
	}
	return "an internal error occurred"
}

// LogFields renders an error into a logrus.Fields-shaped map for structured
// logging, without leaking safe-message redaction rules into the log (logs
// always get full detail).
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins a set of errors (nils filtered) into one error whose message
// concatenates each with " -> ". Returns nil if every argument is nil.
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
		joined := messages[0]
		for _, m := range messages[1:] {
			joined += " -> " + m
		}
		return fmt.Errorf("%s", joined)
	}
}

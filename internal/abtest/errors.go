package abtest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies dispatcher failures.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates an invalid experiment configuration.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// ErrCodeUnsupportedOperation indicates the operation is missing from a plan registry.
	ErrCodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// ErrCodeCollaboratorNotFound indicates a Plan B collaborator could not be resolved.
	ErrCodeCollaboratorNotFound ErrorCode = "COLLABORATOR_NOT_FOUND"

	// ErrCodeHandlerExecution indicates the handler or the queue publish failed.
	ErrCodeHandlerExecution ErrorCode = "HANDLER_EXECUTION_ERROR"

	// ErrCodeSinkForward indicates the analytics sink rejected a result.
	ErrCodeSinkForward ErrorCode = "SINK_FORWARD_ERROR"

	// ErrCodeInvalidArguments indicates the request could not be decoded.
	ErrCodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
)

// Error is a coded error with optional context.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code, so sentinel-style checks work:
//
//	errors.Is(err, &abtest.Error{Code: abtest.ErrCodeUnsupportedOperation})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a new Error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithContext adds contextual information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *Error {
	return NewError(ErrCodeConfiguration, message, nil)
}

// ErrUnsupportedOperation reports an operation missing from the named plan registries.
func ErrUnsupportedOperation(operation string, plans ...Plan) *Error {
	labels := make([]string, 0, len(plans))
	for _, p := range plans {
		labels = append(labels, p.Label())
	}
	msg := fmt.Sprintf("operation %q is not registered for %s", operation, strings.Join(labels, " or "))
	return NewError(ErrCodeUnsupportedOperation, msg, nil).
		WithContext("operation", operation).
		WithContext("registries", labels)
}

// ErrCollaboratorNotFound reports a missing Plan B collaborator.
func ErrCollaboratorNotFound(name string, err error) *Error {
	return NewError(ErrCodeCollaboratorNotFound, fmt.Sprintf("collaborator %q not found", name), err).
		WithContext("collaborator", name)
}

// ErrHandlerExecution wraps a handler or publish failure.
func ErrHandlerExecution(message string, err error) *Error {
	return NewError(ErrCodeHandlerExecution, message, err)
}

// ErrSinkForward wraps an analytics sink failure.
func ErrSinkForward(err error) *Error {
	return NewError(ErrCodeSinkForward, "analytics forward failed", err)
}

// ErrInvalidArguments creates an invalid arguments error.
func ErrInvalidArguments(message string, err error) *Error {
	return NewError(ErrCodeInvalidArguments, message, err)
}

// GetErrorCode extracts the ErrorCode from err, or "" when err is not an *Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

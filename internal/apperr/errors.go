package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrUnknown ErrorType = iota
	// ErrConfig means required configuration (credentials) is missing.
	ErrConfig
	// ErrValidation means the request itself is malformed.
	ErrValidation
	// ErrRemote is any non-2xx or network failure talking to the transcription service.
	ErrRemote
	// ErrNotFound covers unknown ids and referenced files missing from disk.
	ErrNotFound
	// ErrNotReady means the resource exists but its job has not completed.
	ErrNotReady
	// ErrProcessing is an external tool failure.
	ErrProcessing
	// ErrStorage is a failure of the persistent store.
	ErrStorage
)

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

// Errorf builds an error whose message is formatted like fmt.Sprintf.
func Errorf(errorType ErrorType, format string, args ...any) *Error {
	return NewError(errorType, fmt.Sprintf(format, args...))
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	return NewErrorWithCause(errorType, message, err)
}

func (e *Error) Error() string {
	parts := []string{e.Message}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrConfig:
		return "Config"
	case ErrValidation:
		return "Validation"
	case ErrRemote:
		return "RemoteService"
	case ErrNotFound:
		return "NotFound"
	case ErrNotReady:
		return "NotReady"
	case ErrProcessing:
		return "Processing"
	case ErrStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// HTTPStatus is the response code a synchronous handler uses for this type.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNotReady:
		return http.StatusConflict
	case ErrRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// TypeOf returns the type of the outermost *Error in err's chain, or ErrUnknown.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrUnknown
}

func IsErrorType(err error, errorType ErrorType) bool {
	return err != nil && TypeOf(err) == errorType
}

// Message returns the user-facing message: the outermost *Error message
// followed by its cause, or err.Error() for foreign errors.
func Message(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if appErr.Cause == nil {
		return appErr.Message
	}
	return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
}

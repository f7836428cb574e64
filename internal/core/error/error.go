package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// StreamingDisabledMessage is returned when streaming is turned off by configuration.
	StreamingDisabledMessage = "streaming is disabled"
	// TransportInitMessage is returned when the header render of a stream cannot be sent.
	TransportInitMessage = "failed to initialize stream"
	// TransportErrorMessage describes a failed call to the chat transport.
	TransportErrorMessage = "chat transport call failed"
)

var (
	// ErrStreamingDisabled is the sentinel behind StreamingDisabled.
	ErrStreamingDisabled = errors.New("streaming disabled")
	// ErrTransportInit is the sentinel behind TransportInit.
	ErrTransportInit = errors.New("transport init")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// StreamingDisabled is the hard failure returned by StartStream when streaming is off.
func StreamingDisabled() *AppError {
	return New(ErrStreamingDisabled, http.StatusServiceUnavailable, StreamingDisabledMessage)
}

// TransportInit wraps the cause of a failed header render.
func TransportInit(cause error) *AppError {
	return New(fmt.Errorf("%w: %w", ErrTransportInit, cause), http.StatusBadGateway, TransportInitMessage)
}

// WrapTransport wraps a generic chat transport failure. Sentinels carried by err
// stay reachable through errors.Is.
func WrapTransport(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return New(err, http.StatusBadGateway, TransportErrorMessage)
}

// StatusOf returns the HTTP status attached to err, or 500 when there is none.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

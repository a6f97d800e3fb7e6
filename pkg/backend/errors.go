package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend failure classes.
var (
	// ErrBackendInit is returned when a local engine fails to load.
	ErrBackendInit = errors.New("backend: initialization failed")

	// ErrBackendCall is returned for transient per-frame failures.
	ErrBackendCall = errors.New("backend: call failed")

	// ErrChannel is returned when the streaming channel cannot be opened or written.
	ErrChannel = errors.New("backend: channel error")

	// ErrClosed is returned after a backend has been closed.
	ErrClosed = errors.New("backend: closed")
)

// APIError is a non-success response from the remote detection service.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the response body, truncated.
	Message string

	// Backend identifies which backend received the response.
	Backend string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("backend [%s]: API error %d: %s", e.Backend, e.StatusCode, e.Message)
}

// Unwrap classifies every API error as a call failure.
func (e *APIError) Unwrap() error {
	return ErrBackendCall
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// BackendError wraps an error with backend context.
type BackendError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with backend context.
func WrapError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

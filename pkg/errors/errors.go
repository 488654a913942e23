// Package errors defines the sentinel errors shared across the index engine
// and maps them to HTTP status codes at the API boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration marks malformed or conflicting field/class
	// configuration. It is raised at schema-resolution time, never while
	// indexing individual records.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrRecordRead marks a source field value that could not be read.
	// Indexing degrades to an empty value instead of failing.
	ErrRecordRead = errors.New("record field unreadable")
	// ErrWriteFailure marks a rejected segment flush or merge. The active
	// segment remains intact and the operation is safe to retry.
	ErrWriteFailure = errors.New("index write failure")
	// ErrRebuildAborted marks a rebuild scan that failed before completion.
	// The previously live index remains authoritative.
	ErrRebuildAborted = errors.New("rebuild aborted")
	// ErrQuerySyntax marks a malformed search query.
	ErrQuerySyntax = errors.New("invalid query syntax")
	// ErrRecordNotFound marks a lookup for an identity the index does not hold.
	ErrRecordNotFound = errors.New("record not found")
	// ErrInvalidInput marks a malformed API request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrWriterLocked marks a data directory already locked by another writer.
	ErrWriterLocked = errors.New("index writer already locked")
	// ErrTimeout marks an operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// AppError pairs a sentinel error with an operator-facing message and an
// HTTP status for the API layer.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps a sentinel error in an AppError.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf wraps a sentinel error in an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the API should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrQuerySyntax), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrWriterLocked):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by the ValidationError returned for unknown ids.
var ErrNotFound = errors.New("not found")

// ValidationError reports a caller mistake in a public manager call.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func notFound(kind, id string) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("%s %s not found", kind, id),
		Err:     ErrNotFound,
	}
}

// DownloadError is a dispatch or adapter failure. Its message is what gets
// recorded on the failed job.
type DownloadError struct {
	Source  string
	Message string
	Err     error
}

func (e *DownloadError) Error() string {
	return e.Message
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// UnsupportedSourceError is the cause of a DownloadError raised for a source
// tag that has no registered adapter.
type UnsupportedSourceError struct {
	Source string
}

func (e *UnsupportedSourceError) Error() string {
	return "unsupported source: " + e.Source
}

func newUnsupportedSourceError(source string) *DownloadError {
	cause := &UnsupportedSourceError{Source: source}
	return &DownloadError{Source: source, Message: cause.Error(), Err: cause}
}

func newDownloadError(source string, err error) *DownloadError {
	return &DownloadError{Source: source, Message: err.Error(), Err: err}
}

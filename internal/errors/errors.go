// Package errors provides the structured error types used across the
// engine. All errors carry a kind, a message, and an optional cause;
// whether an error is retryable or fatal is derived from its kind, so that
// callers can branch on failure class without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by failure class.
type Kind string

const (
	// KindParse indicates an ill-formed expression or schema text.
	KindParse Kind = "parse_error"

	// KindTypeClash indicates a row that does not match its claimed layout.
	KindTypeClash Kind = "type_clash"

	// KindFormat indicates an on-disk file failing its framing or version
	// check.
	KindFormat Kind = "format_error"

	// KindFilesystem indicates an I/O failure reading or writing a segment.
	KindFilesystem Kind = "filesystem_error"

	// KindConvert indicates a data conversion failure during ingest or
	// query evaluation.
	KindConvert Kind = "convert_error"

	// KindInvalidConfiguration indicates a missing or ill-typed required
	// option. Fatal at startup.
	KindInvalidConfiguration Kind = "invalid_configuration"

	// KindRecursionLimit indicates exceeded schema include depth.
	KindRecursionLimit Kind = "recursion_limit_reached"

	// KindDeadlineExceeded indicates a query exceeding its client deadline.
	KindDeadlineExceeded Kind = "deadline_exceeded"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain. Returns the empty kind
// when the chain contains no structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether the error chain contains an error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the error class admits a retry. Only
// filesystem faults are retried, and only once.
func IsRetryable(err error) bool {
	return KindOf(err) == KindFilesystem
}

// IsFatal reports whether the error class must terminate the process.
func IsFatal(err error) bool {
	return KindOf(err) == KindInvalidConfiguration
}

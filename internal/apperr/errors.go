// Package apperr defines the typed error taxonomy shared by every layer.
// Handlers map codes to transport status; services return them unwrapped so
// callers can dispatch on CodeOf.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers.
type Code string

const (
	// CodeInvalidState — the requested action is not legal from the record's
	// current status (includes illegal workflow transitions).
	CodeInvalidState Code = "INVALID_STATE"

	// CodeForbidden — the actor's role is insufficient for the requested stage.
	CodeForbidden Code = "FORBIDDEN"

	// CodeValidationFailed — the request payload is malformed or incomplete
	// (e.g. a rejection without a reason).
	CodeValidationFailed Code = "VALIDATION_FAILED"

	// CodePostingFailed — a side-effect write could not be completed; the
	// whole commit has been rolled back.
	CodePostingFailed Code = "POSTING_FAILED"

	// CodeContention — optimistic-concurrency retries were exhausted.
	CodeContention Code = "CONTENTION"

	// CodeConflict — a single commit lost the concurrency token check.
	// Coordinators retry on this; it surfaces as CONTENTION when retries run out.
	CodeConflict Code = "CONFLICT"

	// CodeNotFound — the referenced record does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInternal — unexpected failure (database, encoding).
	CodeInternal Code = "INTERNAL"
)

// Error is a code-carrying error. The wrapped cause, if any, is reachable
// through errors.Unwrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates a cause with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", kind, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, reason string) *Error {
	return Newf(CodeValidationFailed, "%s: %s", field, reason)
}

// CodeOf extracts the code from an error chain. Plain errors report
// CodeInternal; nil reports the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

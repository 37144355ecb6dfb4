// Package fiscalerrors defines the coded error vocabulary shared by the
// fiscal services and the HTTP layer. Services return these so transports can
// translate consistently without string matching.
package fiscalerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a fiscal domain failure.
type Code string

const (
	// CodeNotConfigured means the site has no live signing adapter.
	CodeNotConfigured Code = "NOT_CONFIGURED"

	// CodeRecordFailed means the signing adapter rejected or failed the call.
	CodeRecordFailed Code = "RECORD_FAILED"

	// CodeAlreadyExists means the resource (report, run record) is already present.
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// CodeBadRequest means the caller supplied malformed input.
	CodeBadRequest Code = "BAD_REQUEST"

	// CodeNotFound means the requested entity does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeUnsupportedCountry means no compliance standard is registered for the country.
	CodeUnsupportedCountry Code = "UNSUPPORTED_COUNTRY"

	// CodeInternal is the fallback for unexpected failures.
	CodeInternal Code = "INTERNAL"
)

// Error carries a code alongside the message so callers can branch on the
// class of failure rather than the text.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status used by the control surface.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeUnsupportedCountry:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeNotConfigured:
		return http.StatusPreconditionFailed
	case CodeRecordFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

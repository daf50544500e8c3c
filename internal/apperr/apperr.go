// Package apperr defines the coded errors shared by the attendance core and
// the transports in front of it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeNotEnrolled          Code = "NOT_ENROLLED"
	CodeNoActiveSession      Code = "NO_ACTIVE_SESSION"
	CodeSessionNotActive     Code = "SESSION_NOT_ACTIVE"
	CodeAlreadyEnrolled      Code = "ALREADY_ENROLLED"
	CodeDeviceMismatch       Code = "DEVICE_MISMATCH"
	CodeQualityRejected      Code = "QUALITY_REJECTED"
	CodeVerificationNoMatch  Code = "VERIFICATION_NO_MATCH"
	CodeAttemptsExhausted    Code = "ATTEMPTS_EXHAUSTED"
	CodeVerificationError    Code = "VERIFICATION_ERROR"
	CodeSessionConflict      Code = "SESSION_CONFLICT"
	CodeConflict             Code = "CONFLICT"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeForbidden            Code = "FORBIDDEN"
	CodeUnauthenticated      Code = "UNAUTHENTICATED"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeInternal             Code = "INTERNAL"
)

// Error is a coded error. Reason carries a machine-readable detail such as
// the quality rejection cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinel comparisons like
// errors.Is(err, apperr.ErrNotFound) work for wrapped values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

// Sentinels for errors.Is.
var (
	ErrStoreUnavailable    = &Error{Code: CodeStoreUnavailable, Message: "state store unavailable"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNotEnrolled         = &Error{Code: CodeNotEnrolled, Message: "no face template enrolled"}
	ErrNoActiveSession     = &Error{Code: CodeNoActiveSession, Message: "no active session for class"}
	ErrSessionNotActive    = &Error{Code: CodeSessionNotActive, Message: "session is not active"}
	ErrAlreadyEnrolled     = &Error{Code: CodeAlreadyEnrolled, Message: "face template already enrolled"}
	ErrDeviceMismatch      = &Error{Code: CodeDeviceMismatch, Message: "account is bound to another device"}
	ErrQualityRejected     = &Error{Code: CodeQualityRejected, Message: "face capture rejected"}
	ErrVerificationNoMatch = &Error{Code: CodeVerificationNoMatch, Message: "face does not match"}
	ErrAttemptsExhausted   = &Error{Code: CodeAttemptsExhausted, Message: "verification attempts exhausted, see administrator"}
	ErrVerificationError   = &Error{Code: CodeVerificationError, Message: "verification failed"}
	ErrSessionConflict     = &Error{Code: CodeSessionConflict, Message: "session changed concurrently"}
	ErrInvalidArgument     = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrForbidden           = &Error{Code: CodeForbidden, Message: "forbidden"}
)

// New builds a coded error.
func New(code Code, msg string) *Error { return &Error{Code: code, Message: msg} }

// Wrap attaches a code to a lower-level error.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

func Invalid(msg string) *Error  { return New(CodeInvalidArgument, msg) }
func NotFound(msg string) *Error { return New(CodeNotFound, msg) }
func Conflict(msg string) *Error { return New(CodeConflict, msg) }

// Unavailable marks a transport failure as transient.
func Unavailable(err error) *Error {
	return Wrap(CodeStoreUnavailable, "state store unavailable", err)
}

// Rejected reports a quality gate rejection with its reason.
func Rejected(reason string) *Error {
	return &Error{Code: CodeQualityRejected, Message: "face capture rejected", Reason: reason}
}

// CodeOf returns the code of the first *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns the reason of the first *Error in the chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Retryable reports whether the caller may retry the same operation.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreUnavailable, CodeQualityRejected, CodeVerificationNoMatch, CodeVerificationError:
		return true
	}
	return false
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeVerificationNoMatch, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeDeviceMismatch, CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeNotEnrolled, CodeNoActiveSession:
		return http.StatusNotFound
	case CodeSessionNotActive, CodeAlreadyEnrolled, CodeSessionConflict, CodeConflict:
		return http.StatusConflict
	case CodeQualityRejected, CodeVerificationError:
		return http.StatusUnprocessableEntity
	case CodeAttemptsExhausted, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

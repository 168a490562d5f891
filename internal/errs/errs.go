/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errs defines the error-kind taxonomy shared by every control
// plane service: request handlers translate a Kind to an HTTP status,
// queue handlers translate a Kind to a retry/abort decision.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the error categories of spec §7. It is never a
// concrete Go error type name — callers compare with errors.Is against one
// of the sentinel errors below, or use AsKind / Kind() on a *Error.
type Kind string

const (
	// KindValidation means the input failed schema or semantic validation.
	KindValidation Kind = "ValidationError"
	// KindAuthentication means the bearer token is missing or invalid.
	KindAuthentication Kind = "AuthenticationError"
	// KindAuthorization means the principal is authenticated but not permitted.
	KindAuthorization Kind = "AuthorizationError"
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = "NotFoundError"
	// KindConflict means a uniqueness or precondition check failed.
	KindConflict Kind = "ConflictError"
	// KindRateLimit means a quota was exceeded.
	KindRateLimit Kind = "RateLimitError"
	// KindUpstream means a downstream service call failed; retry-safe.
	KindUpstream Kind = "UpstreamError"
	// KindInternal means an invariant was violated. Never retried automatically.
	KindInternal Kind = "InternalError"
)

// Error is a typed error carrying one of the Kind values plus a
// caller-facing message and an optional symbolic code.
type Error struct {
	kind    Kind
	message string
	code    string
	cause   error
}

// New creates an *Error of the given kind with the given message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf creates an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind wrapping an underlying cause.
// errors.Unwrap(result) returns cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// WithCode attaches a symbolic code (e.g. "too-recent", "quota-exceeded")
// surfaced in the error body's optional "code" field.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the symbolic code, if set.
func (e *Error) Code() string { return e.code }

// Message returns the caller-facing message, without the kind prefix.
func (e *Error) Message() string { return e.message }

// HTTPStatus maps err's Kind to the status code named in spec §7. Errors
// that are not *Error (or don't wrap one) map to 500.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsAbort reports whether a queue handler encountering err should abort the
// job (no retry) rather than let it propagate for the queue to retry. Per
// spec §4.6/§7, only a post-recheck ValidationError or NotFoundError aborts;
// everything else — including InternalError — retries or is quarantined by
// the queue's own retry-limit bookkeeping. InternalError is deliberately
// NOT an abort: it signals an invariant violation that operator attention
// should see via retry exhaustion and alerting, not a silent drop.
func IsAbort(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == KindValidation || e.kind == KindNotFound
}

// AsKind reports whether err is (or wraps) an *Error of kind k.
func AsKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.kind == k
}

// Sentinel errors for conditions common across components, kept distinct
// from domain-specific *Error values so callers can errors.Is against a
// stable identity regardless of message text.
var (
	ErrMissingBody  = New(KindValidation, "request body is required")
	ErrInvalidInput = New(KindValidation, "invalid input")
)

// Package errs defines the gateway's error taxonomy. Every failure is
// tagged with a Kind and a Retryable flag at the point it is constructed,
// so callers never have to infer retryability from message text.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthRequired  Kind = "auth_required"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindOriginDenied  Kind = "origin_denied"
	KindTimeout       Kind = "timeout"
	KindUnavailable   Kind = "unavailable"
	KindUpstream      Kind = "upstream"
	KindMisconfigured Kind = "misconfigured"
)

// Error is a tagged gateway error.
type Error struct {
	Kind      Kind
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error kind to the status code the gateway responds with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindOriginDenied:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindMisconfigured:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Validation returns a fatal 400-class error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// QuotaExceeded returns the 429 rejection. It is a hard stop at the
// business-policy layer; no backoff compensates for it.
func QuotaExceeded() *Error {
	return &Error{Kind: KindQuotaExceeded, Message: "Rate limit exceeded"}
}

// OriginDenied returns the CORS rejection.
func OriginDenied(origin string) *Error {
	return &Error{Kind: KindOriginDenied, Message: fmt.Sprintf("origin not allowed: %s", origin)}
}

// Timeout wraps an upstream deadline expiry. Retryable by the client.
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Retryable: true, Message: "upstream request timed out", Err: err}
}

// Unavailable wraps an upstream 503. Retryable by the client.
func Unavailable(msg string) *Error {
	return &Error{Kind: KindUnavailable, Retryable: true, Message: msg}
}

// Upstream wraps any other upstream failure. Not retryable.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// Misconfigured reports missing deployment configuration.
func Misconfigured(msg string) *Error {
	return &Error{Kind: KindMisconfigured, Message: msg}
}

// KindOf extracts the Kind from err, or "" if err carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err was tagged retryable at construction.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

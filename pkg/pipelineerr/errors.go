// Package pipelineerr defines the error taxonomy shared by every pipeline
// component. Every component returns *Error rather than an ad-hoc wrapped
// error so that exactly one place — the HTTP boundary — has to translate
// domain failures into status codes.
package pipelineerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error categories. New kinds are not expected; the
// HTTP status mapping in Status() must stay exhaustive over this type.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	RateLimited     Kind = "rate_limited"
	Timeout         Kind = "timeout"
	Unreachable     Kind = "unreachable"
	UpstreamError   Kind = "upstream_error"
	ParseError      Kind = "parse_error"
	Internal        Kind = "internal"
)

// Error is the concrete error type returned by every component.
type Error struct {
	Kind   Kind
	Op     string // component/operation that failed, e.g. "ingestion.chunk"
	Msg    string
	Err    error          // wrapped cause, may be nil
	Fields map[string]any // structured context for logging
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps a Kind to the HTTP status code it must surface as. This is
// the only place in the codebase that performs this translation.
func (k Kind) Status() int {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case Timeout:
		return http.StatusGatewayTimeout
	case Unreachable:
		return http.StatusServiceUnavailable
	case UpstreamError:
		return http.StatusBadGateway
	case ParseError:
		return http.StatusUnprocessableEntity
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the orchestrator-level retry policy (§4.6/§4.9)
// should attempt this error again: transient transport errors, upstream
// 5xx, and rate limiting, but never 4xx other than 429.
func (k Kind) Retriable() bool {
	switch k {
	case RateLimited, Timeout, Unreachable, UpstreamError:
		return true
	default:
		return false
	}
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func wrap(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NewInvalidArgument(op, format string, args ...any) *Error {
	return newf(InvalidArgument, op, format, args...)
}

func NewNotFound(op, format string, args ...any) *Error {
	return newf(NotFound, op, format, args...)
}

func NewForbidden(op, format string, args ...any) *Error {
	return newf(Forbidden, op, format, args...)
}

func NewUnauthorized(op, format string, args ...any) *Error {
	return newf(Unauthorized, op, format, args...)
}

func NewRateLimited(op string, err error) *Error {
	return wrap(RateLimited, op, err, "rate limited")
}

func NewTimeout(op string, err error) *Error {
	return wrap(Timeout, op, err, "deadline exceeded")
}

func NewUnreachable(op string, err error) *Error {
	return wrap(Unreachable, op, err, "downstream unreachable")
}

func NewUpstreamError(op string, statusCode int, err error) *Error {
	e := wrap(UpstreamError, op, err, "upstream returned status %d", statusCode)
	e.Fields = map[string]any{"status_code": statusCode}
	return e
}

func NewParseError(op string, err error) *Error {
	return wrap(ParseError, op, err, "could not parse output")
}

func NewInternal(op string, err error) *Error {
	return wrap(Internal, op, err, "internal error")
}

// As is a thin convenience wrapper over errors.As for the common case of
// recovering the *Error from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return Internal
}

// Package apperr holds the error taxonomy shared by the HTTP handlers and the
// realtime gateway. Services wrap one of the sentinels so callers can branch
// with errors.Is without knowing which feature produced the error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrRateLimited = errors.New("rate limited")
)

type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

func newf(kind error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(ErrValidation, format, args...) }
func NotFound(format string, args ...any) error   { return newf(ErrNotFound, format, args...) }
func Forbidden(format string, args ...any) error  { return newf(ErrForbidden, format, args...) }
func Conflict(format string, args ...any) error   { return newf(ErrConflict, format, args...) }
func RateLimited(format string, args ...any) error {
	return newf(ErrRateLimited, format, args...)
}

// Code maps an error onto the stable code used in HTTP bodies and realtime acks.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// Status maps an error onto an HTTP status code.
func Status(err error) int {
	switch Code(err) {
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "conflict":
		return http.StatusConflict
	case "rate_limited":
		return http.StatusTooManyRequests
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Message returns a message safe to show to a client. Internal errors are
// masked so store details never leak.
func Message(err error) string {
	if Code(err) == "internal_error" {
		return "internal server error"
	}
	return err.Error()
}

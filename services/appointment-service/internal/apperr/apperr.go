// Package apperr defines the error kinds the appointment engine reports to
// callers and how each maps onto HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindSlotUnavailable   Kind = "slot_unavailable"
	KindIllegalTransition Kind = "illegal_transition"
	KindForbidden         Kind = "forbidden"
	KindLedgerUnavailable Kind = "ledger_unavailable"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is a classified failure. Reason is safe to show to callers; Err
// is the underlying cause and is only logged.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err,
// apperr.ErrForbidden) works regardless of reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrSlotUnavailable   = &Error{Kind: KindSlotUnavailable}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrLedgerUnavailable = &Error{Kind: KindLedgerUnavailable}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func InvalidRequest(format string, args ...any) *Error {
	return New(KindInvalidRequest, fmt.Sprintf(format, args...))
}

func Forbidden(reason string) *Error { return New(KindForbidden, reason) }

func NotFound(reason string) *Error { return New(KindNotFound, reason) }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reason returns the caller-facing message for err.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	return string(KindOf(err))
}

// Retryable reports whether the same request may succeed later without
// any change by the caller.
func Retryable(err error) bool {
	return KindOf(err) == KindLedgerUnavailable
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindSlotUnavailable, KindIllegalTransition:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindLedgerUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

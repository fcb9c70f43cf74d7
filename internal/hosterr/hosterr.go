// Package hosterr implements the host's error taxonomy (spec §7). Every
// internal package returns these kinds so the dispatcher and harness can
// translate errors into structured responses or tool-result events without
// string-matching messages.
package hosterr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category from the host's taxonomy.
type Kind string

const (
	NotFound             Kind = "NotFound"
	IntegrityError       Kind = "IntegrityError"
	ValidationError      Kind = "ValidationError"
	ChainError           Kind = "ChainError"
	StaleLockfile        Kind = "StaleLockfile"
	PermissionDenied     Kind = "PermissionDenied"
	LimitExceeded        Kind = "LimitExceeded"
	BudgetReservation    Kind = "BudgetReservation"
	RiskBlocked          Kind = "RiskBlocked"
	CancellationRequested Kind = "CancellationRequested"
	Timeout              Kind = "Timeout"
	PrimitiveError       Kind = "PrimitiveError"
)

// Error is a structured host error: a taxonomy Kind, a human message, and an
// optional detail payload (e.g. the partial chain for a ChainError, or the
// offending artifact id for an IntegrityError).
type Error struct {
	Kind    Kind
	Message string
	Detail  any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// WithDetail attaches a structured detail payload and returns the receiver
// for chaining at the call site.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		var herr *Error
		if !errors.As(err, &herr) {
			return false
		}
		if herr.Kind == kind {
			return true
		}
		err = herr.Wrapped
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return ""
}

package store

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the collaborator boundary. Route handlers
// map kinds onto HTTP responses; the core never throws across its public
// surface except for programmer errors (misconfiguration).
type Kind string

const (
	// KindValidation is bad input shape or range. Not retryable.
	KindValidation Kind = "validation"
	// KindNotFound means the referenced entity does not exist.
	KindNotFound Kind = "not_found"
	// KindUnauthorized means the acting user fails an ownership check.
	KindUnauthorized Kind = "unauthorized"
	// KindInvalidState means the state machine forbids the transition.
	KindInvalidState Kind = "invalid_state"
	// KindRemoteTimeout means a dispatcher-gated call exceeded its deadline.
	KindRemoteTimeout Kind = "remote_timeout"
	// KindRemoteUnavailable means the remote store failed after the
	// gateway's single internal retry. Callers may retry with backoff.
	KindRemoteUnavailable Kind = "remote_unavailable"
	// KindPartialFanout means an offer was accepted but one or more sibling
	// rejections failed. Surfaced distinctly so the caller can reconcile.
	KindPartialFanout Kind = "partial_fanout"
	// KindConfiguration is fatal and fails fast at startup.
	KindConfiguration Kind = "configuration"
)

// Error is the typed error every service in this core returns.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a typed error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a typed error around an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or empty if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Transient reports whether the caller may retry with backoff.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindRemoteTimeout, KindRemoteUnavailable:
		return true
	}
	return false
}

// ClientMessage maps an error onto the message shown to an end user.
// Validation and state errors surface as-is; transient remote failures map
// to a generic retry message so internal detail never leaks.
func ClientMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindUnauthorized, KindInvalidState, KindPartialFanout:
		return e.Message
	default:
		return "Something went wrong. Please try again."
	}
}

// Package apperr defines the application error taxonomy shared by the push
// and pull surfaces. Every rejected action maps to exactly one Kind, which in
// turn maps to a stable wire code sent back to the initiating client.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error.
type Kind int

const (
	// KindAuthentication: bad or missing credential. The connection is
	// refused; there is no automatic retry.
	KindAuthentication Kind = iota

	// KindAuthorization: the acting user is not a participant of the target
	// chat. Surfaced as a private error event, never broadcast; no state
	// is mutated.
	KindAuthorization

	// KindNotFound: the referenced chat or user does not exist.
	KindNotFound

	// KindInvalid: the request payload failed validation.
	KindInvalid

	// KindRateLimited: the acting user exceeded an action rate limit.
	KindRateLimited

	// KindTransient: a persistence or delivery failure that the client may
	// retry (the REST fallback covers sends; other events are best-effort).
	KindTransient
)

// Error is a classified application error. Code is the stable string sent on
// the wire in error events and REST bodies.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given kind, wire code, and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an Error around an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Authentication builds a credential-rejection error.
func Authentication(message string) *Error {
	return New(KindAuthentication, "authentication_failed", message)
}

// Authorization builds a non-participant rejection error.
func Authorization(message string) *Error {
	return New(KindAuthorization, "not_a_participant", message)
}

// NotFound builds a missing-entity error.
func NotFound(message string) *Error {
	return New(KindNotFound, "not_found", message)
}

// Invalid builds a validation error.
func Invalid(message string) *Error {
	return New(KindInvalid, "invalid_request", message)
}

// RateLimited builds a throttling error.
func RateLimited(message string) *Error {
	return New(KindRateLimited, "rate_limited", message)
}

// Transient wraps a retryable persistence or delivery failure.
func Transient(message string, err error) *Error {
	return Wrap(KindTransient, "transient_failure", message, err)
}

// KindOf extracts the Kind from err. Unclassified errors report KindTransient
// so that callers surface them to the initiator rather than dropping them.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// CodeOf extracts the wire code from err, falling back to transient_failure.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "transient_failure"
}

// MessageOf extracts the client-safe message from err. Unclassified errors
// return a generic message so internal details stay server-side.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

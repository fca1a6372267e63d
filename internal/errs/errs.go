// Package errs defines the failure kinds that cross collaborator boundaries.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindEmptyResponse     Kind = "empty_response"
	KindMalformedResponse Kind = "malformed_response"
	KindValidation        Kind = "validation_failure"
	KindRateLimit         Kind = "upstream_rate_limit"
	KindTransport         Kind = "transport_failure"
	KindQueueEmpty        Kind = "queue_empty"
	KindPayloadInvalid    Kind = "payload_invalid"
)

// Error carries a Kind alongside a human-readable message. Error() returns
// the message unchanged so that operators and callers see exactly what the
// failing collaborator reported.
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// RetryAfter is the upstream's requested delay, zero when none was given.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to err. The message is msg followed by err's text.
func Wrap(kind Kind, msg string, err error) *Error {
	text := msg
	if err != nil {
		if text != "" {
			text += ": "
		}
		text += err.Error()
	}
	return &Error{Kind: kind, Msg: text, Err: err}
}

// RateLimited reports an upstream 429. body is kept in the message so that
// retry hints embedded in it stay visible.
func RateLimited(body string, after time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Msg: "rate limited: " + body, RetryAfter: after}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's chain holds an *Error of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfter returns the upstream delay hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// Package apierrors is the typed error vocabulary §7 describes: a small
// closed set of "kinds" that every layer (resolver, exporter, seeder,
// registry) raises and the HTTP collaborator maps to status codes,
// instead of each layer inventing its own ad-hoc error strings.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind is one of the six error categories §7 defines.
type Kind int

const (
	// Internal covers anything not covered by the other kinds; it is
	// logged with stack context by the caller.
	Internal Kind = iota
	// NotFound covers a missing tile, record, or file.
	NotFound
	// BadRequest covers schema validation, format mismatch, and
	// malformed coverages.
	BadRequest
	// Conflict covers "an export/seed is already running".
	Conflict
	// Timeout covers lock acquisition or upstream fetch timeouts.
	Timeout
	// Upstream covers a non-2xx response from a forward fetch; the
	// original status code is preserved on the Error value.
	Upstream
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case BadRequest:
		return "bad_request"
	case Conflict:
		return "conflict"
	case Timeout:
		return "timeout"
	case Upstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error is a Kind-tagged error, wrapping an underlying cause.
type Error struct {
	Kind   Kind
	Status int // only meaningful when Kind == Upstream
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NewUpstream builds an Upstream Error carrying the preserved HTTP status.
func NewUpstream(status int, msg string, err error) *Error {
	return &Error{Kind: Upstream, Status: status, Msg: msg, Err: err}
}

// KindOf unwraps err looking for an *Error and returns its Kind, or
// Internal if err is not (or does not wrap) one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}

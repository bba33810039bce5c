// Package errs defines the structured error taxonomy shared by the feed,
// aggregator and publisher stages. Every failure in the pipeline is one of
// these kinds; nothing else crosses a stage boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind tags an Error with its failure class.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBadParse: malformed wire bytes, JSON, or a required field missing.
	KindBadParse
	// KindBadRequest: REST 4xx or venue rejection.
	KindBadRequest
	// KindBadConnection: TCP / websocket failure.
	KindBadConnection
	// KindBadStatus: REST 5xx.
	KindBadStatus
	// KindBadPublish: egress transport failure. The event is lost.
	KindBadPublish
	// KindUnknownInstrument: an update arrived before any snapshot.
	KindUnknownInstrument
	// KindInconsistent: a book invariant violation detected defensively.
	KindInconsistent
)

func (k Kind) String() string {
	switch k {
	case KindBadParse:
		return "BadParse"
	case KindBadRequest:
		return "BadRequest"
	case KindBadConnection:
		return "BadConnection"
	case KindBadStatus:
		return "BadStatus"
	case KindBadPublish:
		return "BadPublish"
	case KindUnknownInstrument:
		return "UnknownInstrument"
	case KindInconsistent:
		return "Inconsistent"
	}
	return "Unknown"
}

// Error carries a Kind, a human detail and an optional wrapped cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

func BadParse(cause error, format string, args ...interface{}) *Error {
	return newError(KindBadParse, cause, format, args...)
}

func BadRequest(cause error, format string, args ...interface{}) *Error {
	return newError(KindBadRequest, cause, format, args...)
}

func BadConnection(cause error, format string, args ...interface{}) *Error {
	return newError(KindBadConnection, cause, format, args...)
}

func BadStatus(cause error, format string, args ...interface{}) *Error {
	return newError(KindBadStatus, cause, format, args...)
}

func BadPublish(cause error, format string, args ...interface{}) *Error {
	return newError(KindBadPublish, cause, format, args...)
}

func UnknownInstrument(instrument string) *Error {
	return newError(KindUnknownInstrument, nil, "no book for instrument %s", instrument)
}

func Inconsistent(format string, args ...interface{}) *Error {
	return newError(KindInconsistent, nil, format, args...)
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Returns KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

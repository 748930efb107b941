// Package corerr defines the tagged error kinds the core surfaces to
// clients as the first Argument of a command response.
package corerr

import "fmt"

// Kind enumerates the error kinds the core can surface.
type Kind int

const (
	// KindNotReady signals the BDV has not completed its initial scan.
	KindNotReady Kind = iota
	// KindUnknownID signals a bdvID/walletID/delegateID was not found.
	KindUnknownID
	// KindInvalidArgument signals malformed arguments or an unknown method.
	KindInvalidArgument
	// KindBusy signals a side-scan already running, or too many callback waiters.
	KindBusy
	// KindStorageCorrupt signals a KV read returned an inconsistent SSH; fatal per-BDV.
	KindStorageCorrupt
	// KindTransportClosed is surfaced by the framing layer; core treats it as Terminate.
	KindTransportClosed
	// KindFatal signals index file corruption; tears down the whole service.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "NotReady"
	case KindUnknownID:
		return "UnknownID"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindBusy:
		return "Busy"
	case KindStorageCorrupt:
		return "StorageCorrupt"
	case KindTransportClosed:
		return "TransportClosed"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the core's tagged error type. It implements the standard
// error interface so it composes with fmt.Errorf/%w like any other Go
// error, while still carrying the Kind a command dispatcher needs to
// pick the right wire-level error code.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotReady is a convenience constructor for the common "BDV not ready" case.
func NotReady(bdvID string) *Error {
	return New(KindNotReady, "bdv %s has not completed its initial scan", bdvID)
}

// UnknownID is a convenience constructor for missing id lookups.
func UnknownID(kind, id string) *Error {
	return New(KindUnknownID, "unknown %s %q", kind, id)
}

// InvalidArgument is a convenience constructor for malformed requests.
func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, format, args...)
}

// Busy is a convenience constructor for contention errors.
func Busy(format string, args ...interface{}) *Error {
	return New(KindBusy, format, args...)
}

// KindOf returns err's tagged kind, or KindFatal when err carries no
// tag: an unclassified error reaching the dispatch layer means some
// collaborator failed in a way the core did not anticipate.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindFatal
}

// Retryable reports whether the client is expected to retry the request,
// (Busy and NotReady are advisory; everything else is not).
func Retryable(err error) bool {
	var coreErr *Error
	if e, ok := err.(*Error); ok {
		coreErr = e
	} else {
		return false
	}
	return coreErr.Kind == KindBusy || coreErr.Kind == KindNotReady
}

// Fatal reports whether err should tear down the affected BDV (or the
// whole service, for KindFatal).
func Fatal(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == KindStorageCorrupt || e.Kind == KindFatal
}

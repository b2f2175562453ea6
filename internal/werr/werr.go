// Package werr defines the closed error taxonomy surfaced by every windnf
// component.
package werr

import (
	"errors"
	"fmt"
)

// Code is one of the closed set of error classifications a component may
// report.
type Code int

const (
	_ Code = iota
	// InvalidArgument marks malformed input: an unparseable NEVRA, an
	// unknown repository type, a dangling source-repo reference.
	InvalidArgument
	// NotFound marks an absent repository, package, or remote resource.
	NotFound
	// Conflict marks a uniqueness violation.
	Conflict
	// Transport marks an HTTP/TLS failure after retries are exhausted.
	Transport
	// AuthRequired marks a proxy or server credential refusal that
	// survived session renewal.
	AuthRequired
	// Timeout marks an operation that exceeded its deadline.
	Timeout
	// TooLarge marks a memory-bounded fetch whose body exceeded its
	// ceiling.
	TooLarge
	// ChecksumMismatch marks a downloaded artifact that did not match its
	// declared digest.
	ChecksumMismatch
	// InvalidSnapshot marks a decompressed payload that is not a valid
	// SQLite file, or lacks the expected tables.
	InvalidSnapshot
	// MetadataMissing marks a repomd.xml lacking a primary_db entry.
	MetadataMissing
	// Blocked marks a metadata fetch that returned a non-repository
	// response (an interstitial challenge or proxy login page).
	Blocked
	// Busy marks a store already executing a mutating operation on the
	// same target.
	Busy
	// Cancelled marks a user interrupt.
	Cancelled
)

// String implements [fmt.Stringer].
func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Transport:
		return "Transport"
	case AuthRequired:
		return "AuthRequired"
	case Timeout:
		return "Timeout"
	case TooLarge:
		return "TooLarge"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case InvalidSnapshot:
		return "InvalidSnapshot"
	case MetadataMissing:
		return "MetadataMissing"
	case Blocked:
		return "Blocked"
	case Busy:
		return "Busy"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a tagged, wrapped error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements [error].
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("windnf: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("windnf: %s: %s", e.Code, e.Message)
}

// Unwrap allows [errors.Is] and [errors.As] to see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap constructs an *Error carrying cause as its wrapped error.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Newf constructs an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or 0 if err is not (or does not wrap)
// an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Package errors implements the error taxonomy shared by every layer of mokactl.
// Failures are classified by Kind so that callers can decide between dropping a
// fragment, suspending a session, or tearing the connection down, and so the
// TUI can present a consistent message with recovery suggestions.
//
// The standard library package is imported as stderrors wherever both are needed.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind categorizes a failure for appropriate handling.
type Kind string

const (
	// KindConnection failures are terminal for the current session.
	KindConnection Kind = "connection"
	// KindFraming failures drop the offending bytes; the connection survives.
	KindFraming Kind = "framing"
	// KindParse failures drop a single fragment of a payload.
	KindParse Kind = "parse"
	// KindFileIO failures are logged and otherwise ignored.
	KindFileIO Kind = "file_io"
	// KindProtocol covers request ordering, timeouts and invalid commands.
	KindProtocol Kind = "protocol"
	// KindConfiguration covers unreadable or invalid profiles.
	KindConfiguration Kind = "configuration"
)

// Error is a classified failure with diagnostic context.
type Error struct {
	Kind            Kind
	Op              string
	Message         string
	Fragment        string // offending payload fragment, parse errors only
	Path            string // file path, file errors only
	Err             error
	Recoverable     bool
	SuggestedAction string
	Timestamp       time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap provides access to the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind and operation, so sentinel
// values built with New can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == e.Op && (t.Message == "" || t.Message == e.Message)
}

// New creates a bare classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:        kind,
		Op:          op,
		Message:     message,
		Recoverable: kind != KindConnection,
		Timestamp:   time.Now(),
	}
}

// Connection wraps a dial, read or write failure.
func Connection(op string, err error) *Error {
	return &Error{
		Kind:            KindConnection,
		Op:              op,
		Err:             err,
		Recoverable:     true,
		SuggestedAction: "Check that the appliance is powered and on the same network, then reconnect",
		Timestamp:       time.Now(),
	}
}

// Framing wraps a decoder or encoder failure.
func Framing(op string, err error) *Error {
	return &Error{
		Kind:            KindFraming,
		Op:              op,
		Err:             err,
		Recoverable:     true,
		SuggestedAction: "The malformed frame was dropped; no action is needed",
		Timestamp:       time.Now(),
	}
}

// Parse reports a payload fragment that could not be decoded.
func Parse(op, fragment, reason string) *Error {
	return &Error{
		Kind:        KindParse,
		Op:          op,
		Message:     fmt.Sprintf("%s in %q", reason, fragment),
		Fragment:    fragment,
		Recoverable: true,
		Timestamp:   time.Now(),
	}
}

// FileIO wraps a local file failure.
func FileIO(op, path string, err error) *Error {
	return &Error{
		Kind:            KindFileIO,
		Op:              op,
		Message:         path,
		Path:            path,
		Err:             err,
		Recoverable:     true,
		SuggestedAction: "Check the file permissions and available disk space",
		Timestamp:       time.Now(),
	}
}

// Protocol wraps a request-level failure.
func Protocol(op string, err error) *Error {
	return &Error{
		Kind:            KindProtocol,
		Op:              op,
		Err:             err,
		Recoverable:     true,
		SuggestedAction: "Wait for the current request to finish, then retry",
		Timestamp:       time.Now(),
	}
}

// Configuration wraps a profile loading or validation failure.
func Configuration(op string, err error) *Error {
	return &Error{
		Kind:            KindConfiguration,
		Op:              op,
		Err:             err,
		Recoverable:     false,
		SuggestedAction: "Edit the profile file or pass --host and --port",
		Timestamp:       time.Now(),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

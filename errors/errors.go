// Package errors defines the error taxonomy shared by the bridge and executor.
//
// Callers distinguish failure classes with errors.Is / errors.As rather than by
// string matching:
//
//	ValidationError   — bulk parameters were malformed; nothing was dispatched
//	ErrTimeout        — one call's deadline elapsed with no reply
//	ErrConnectionLost — the channel dropped while calls were pending
//	RemoteError       — the executor replied ok=false; message is verbatim
//	ErrNotConnected   — a call was issued while the channel was down
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates a call was attempted with no current connection.
	ErrNotConnected = errors.New("not connected to executor")

	// ErrTimeout indicates a call's deadline elapsed before a reply arrived.
	ErrTimeout = errors.New("call timed out")

	// ErrConnectionLost indicates the channel disconnected while the call was pending.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed indicates the channel was closed deliberately.
	ErrClosed = errors.New("channel closed")
)

// ValidationError reports malformed bulk parameters. It is returned before any
// request is sent, so no partial side effects have occurred.
type ValidationError struct {
	Key    string // offending parameter key, empty if not key-specific
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("invalid bulk parameter %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("invalid bulk parameters: %s", e.Reason)
}

// RemoteError carries the executor-supplied failure message verbatim.
type RemoteError struct {
	Kind    string // operation kind that failed
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("executor error for %s: %s", e.Kind, e.Message)
}

// Error is a coded error wrapper for infrastructure failures (connect, encode,
// registry), in the style of a machine-readable code plus a human message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error wrapping err (err may be nil).
func New(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsTimeout reports whether err is a call timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsConnectionLost reports whether err was caused by losing the channel.
func IsConnectionLost(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// IsValidation reports whether err is a parameter validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

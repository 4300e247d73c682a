package binprot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Error types for binary protocol operations.
// Like the status codes they are grouped by what the caller should do with
// the connection afterwards: a status error leaves the stream in sync, a
// format or transport error does not.

// ErrTimeout matches any TransportError caused by a deadline.
var ErrTimeout = errors.New("binprot: i/o timeout")

// FormatError reports a malformed frame: a short header, a truncated body,
// a field that does not fit its width, or a response that does not match
// the request it answers.
//
// Connection handling: CLOSE, the stream position is unknown.
type FormatError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return "binprot: format error: " + e.Message + ": " + e.Err.Error()
	}
	return "binprot: format error: " + e.Message
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func (e *FormatError) ShouldCloseConnection() bool {
	return true
}

// RequestError is a non-zero status below ServerStatusThreshold: the request
// was understood and refused (key not found, key exists, auth failed...).
//
// Connection handling: REUSE. The caller may retry with other arguments.
type RequestError struct {
	Status Status
	Opcode Opcode
	Key    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("binprot: %s %q: %s", e.Opcode, e.Key, e.Status)
}

// Is matches the Status carried by the error.
func (e *RequestError) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

func (e *RequestError) ShouldCloseConnection() bool {
	return false
}

// ServerError is a status at or above ServerStatusThreshold: out of memory,
// busy, temporary failure... It may be transient.
//
// Connection handling: REUSE. Retrying with backoff is the caller's call.
type ServerError struct {
	Status Status
	Opcode Opcode
	Key    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("binprot: %s %q: server error: %s", e.Opcode, e.Key, e.Status)
}

func (e *ServerError) Is(target error) bool {
	s, ok := target.(Status)
	return ok && s == e.Status
}

func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// TransportError wraps connection-level failures: refused, reset, closed,
// deadline exceeded, cancelled.
//
// Connection handling: CLOSE and reconnect.
type TransportError struct {
	Op  string // dial, read, write, ...
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("binprot: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, os.ErrDeadlineExceeded) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTimeout && e.Timeout()
}

func (e *TransportError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned before any I/O when a key cannot be sent.
type InvalidKeyError struct {
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "binprot: invalid key: " + e.Message
}

func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// ErrorWithConnectionState is implemented by all error types of this package.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
// Unknown error types are treated conservatively and close the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}

// StatusError converts a response status to the matching typed error.
// It returns nil for StatusNoError.
func StatusError(status Status, opcode Opcode, key string) error {
	switch {
	case status == StatusNoError:
		return nil
	case status.IsServerSide():
		return &ServerError{Status: status, Opcode: opcode, Key: key}
	default:
		return &RequestError{Status: status, Opcode: opcode, Key: key}
	}
}

// ValidateKey checks the client-side key preconditions.
func ValidateKey(key string) error {
	if len(key) == 0 {
		return &InvalidKeyError{Message: "key is empty"}
	}
	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Message: fmt.Sprintf("key exceeds maximum length of %d bytes", MaxKeyLength)}
	}
	return nil
}

// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrResolution indicates the host or port could not be resolved.
	ErrResolution = errors.New("rcon: address resolution failed")

	// ErrConnection indicates no candidate address accepted a connection, or that a write to the
	// transport failed.
	ErrConnection = errors.New("rcon: connection error")

	// ErrConnectionClosed indicates the peer closed the connection before a read completed.
	ErrConnectionClosed = errors.New("rcon: connection closed by peer")

	// ErrConnectionLost indicates the connection failed in the middle of a packet exchange. It is
	// fatal to the session.
	ErrConnectionLost = errors.New("rcon: connection lost")

	// ErrMalformedPacket indicates a received packet declared a length below the protocol minimum.
	ErrMalformedPacket = errors.New("rcon: malformed packet")

	// ErrEncoding indicates a packet could not be encoded.
	ErrEncoding = errors.New("rcon: packet encoding failed")

	// ErrAuth indicates the server rejected the supplied credentials.
	ErrAuth = errors.New("rcon: unauthorized")

	// ErrCommandTooLong indicates a command exceeds the configured maximum payload. No I/O is
	// performed when it is returned.
	ErrCommandTooLong = errors.New("rcon: command too long")

	// ErrUnexpectedPacket indicates the server answered with a packet of an unexpected kind.
	ErrUnexpectedPacket = errors.New("rcon: unexpected packet")

	// ErrNotConnected is returned by operations that need an open transport.
	ErrNotConnected = errors.New("rcon: session not connected")

	// ErrAlreadyConnected is returned when connecting a session that already has a transport.
	ErrAlreadyConnected = errors.New("rcon: session already connected")

	// ErrAlreadyAuthenticated is returned when authenticating a session twice.
	ErrAlreadyAuthenticated = errors.New("rcon: session already authenticated")

	// ErrNotAuthenticated is returned when a command is submitted before authentication.
	ErrNotAuthenticated = errors.New("rcon: session not authenticated")

	// ErrSessionFailed is returned by every operation on a session that suffered a fatal error.
	ErrSessionFailed = errors.New("rcon: session failed")

	// ErrSessionClosed is returned by every operation on a closed session.
	ErrSessionClosed = errors.New("rcon: session closed")
)

// OpError records the operation and address involved in a failure, along with the underlying
// error.
type OpError struct {
	Op   string
	Addr string
	Err  error
}

func (e *OpError) Error() string {
	if e.Addr == "" {
		return "rcon " + e.Op + ": " + e.Err.Error()
	}
	return "rcon " + e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// TruncationWarning is returned next to a packet whose payload was larger than the configured
// maximum. The packet carries the first Kept bytes of the payload; the remainder was read off the
// wire and discarded so that the next packet still parses.
type TruncationWarning struct {
	// Declared is the payload size announced by the length field.
	Declared int

	// Kept is the number of payload bytes retained.
	Kept int
}

func (w *TruncationWarning) Error() string {
	return fmt.Sprintf("rcon: response truncated: %d of %d payload bytes kept", w.Kept, w.Declared)
}

// Severity classifies how an error affects a session.
type Severity int

const (
	// SeverityNone means no error occurred.
	SeverityNone Severity = iota

	// SeverityWarning means the operation produced a usable result with acknowledged data loss.
	SeverityWarning

	// SeverityRecoverable means the operation failed but the session may continue.
	SeverityRecoverable

	// SeverityFatal means the session cannot continue and must be closed.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// ClassifyError reports the [Severity] of err. Unknown errors are assumed to be fatal.
func ClassifyError(err error) Severity {
	var tw *TruncationWarning
	switch {
	case err == nil:
		return SeverityNone
	case errors.As(err, &tw):
		return SeverityWarning
	case errors.Is(err, ErrConnectionLost),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrConnection),
		errors.Is(err, ErrResolution),
		errors.Is(err, ErrMalformedPacket),
		errors.Is(err, ErrAuth),
		errors.Is(err, ErrSessionFailed),
		errors.Is(err, ErrSessionClosed):
		return SeverityFatal
	case errors.Is(err, ErrCommandTooLong),
		errors.Is(err, ErrEncoding),
		errors.Is(err, ErrUnexpectedPacket),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrAlreadyConnected),
		errors.Is(err, ErrAlreadyAuthenticated),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return SeverityRecoverable
	}
	return SeverityFatal
}

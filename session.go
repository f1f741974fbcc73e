// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied by the collaborator-facing API when the caller supplies nothing.
const (
	DefaultHost     = "localhost"
	DefaultPort     = "25575"
	DefaultPassword = ""
)

// State is the position of a [Session] in its lifecycle.
type State int

const (
	// StateDisconnected is the state of a new session.
	StateDisconnected State = iota

	// StateConnected means a transport is open but the session has not authenticated.
	StateConnected

	// StateAuthenticated means commands may be submitted.
	StateAuthenticated

	// StateClosed means the session was closed by its owner. It is terminal.
	StateClosed

	// StateFailed means the session suffered a fatal error. No further operations are valid; the
	// owner should Close the session and may open a new one.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is an RCON session over a single connection to an RCON server. It moves through
// [StateDisconnected], [StateConnected] and [StateAuthenticated], and ends in [StateClosed] or
// [StateFailed].
//
// Sessions are safe for concurrent use, but never have more than one request on the wire: each
// operation holds the session for its entire request and response round trip.
//
// RCON does not specify any keep alive functionality, so a session may fail with
// [ErrConnectionLost] when idle for an extended period.
type Session struct {
	// mu serializes operations so that only one request is outstanding at a time.
	mu sync.Mutex

	state     State
	transport Transport
	stream    *PacketStream
	addr      string

	cfg    SessionConfig
	codec  Codec
	logger zerolog.Logger
}

// NewSession returns a disconnected session configured by cfg.
func NewSession(cfg SessionConfig) *Session {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Session{
		state:  StateDisconnected,
		cfg:    cfg,
		codec:  Codec{MaxPayload: cfg.MaxPayload},
		logger: logger.With().Str("component", "rcon").Logger(),
	}
}

// Open connects a new session to host and port. Empty values select [DefaultHost] and
// [DefaultPort]. The returned session must be authenticated before commands can be submitted.
func Open(ctx context.Context, host, port string, cfg SessionConfig) (*Session, error) {
	s := NewSession(cfg)
	if err := s.Connect(ctx, host, port); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect dials host and port, trying every resolved address in turn. A failed connect leaves the
// session in [StateFailed].
func (s *Session) Connect(ctx context.Context, host, port string) error {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(StateDisconnected, "connect"); err != nil {
		return err
	}

	addr := net.JoinHostPort(host, port)
	s.logger.Debug().Str("addr", addr).Msg("connecting")

	t, err := Dial(ctx, host, port, s.cfg.Transport)
	if err != nil {
		s.state = StateFailed
		s.logger.Error().Err(err).Str("addr", addr).Msg("connect failed")
		return err
	}

	s.attach(t, addr)
	return nil
}

// Attach connects the session over a caller-supplied transport, such as one wrapping a TLS or Unix
// socket connection. Once attached, the session owns t and closes it.
func (s *Session) Attach(t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(StateDisconnected, "attach"); err != nil {
		return err
	}

	addr := ""
	if ra, ok := t.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		addr = ra.RemoteAddr().String()
	}
	s.attach(t, addr)
	return nil
}

// attach installs t as the session transport. Callers hold mu.
func (s *Session) attach(t Transport, addr string) {
	s.transport = t
	s.stream = NewPacketStream(t, s.codec, FromServer)
	s.addr = addr
	s.state = StateConnected
	if addr != "" {
		s.logger = s.logger.With().Str("addr", addr).Logger()
	}
	s.logger.Info().Msg("connected")
}

// Authenticate sends password to the server. It succeeds only when the server answers with an
// authorization response that does not carry [AuthFailedID]; any other outcome fails with
// [ErrAuth] and leaves the session in [StateFailed].
func (s *Session) Authenticate(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(StateConnected, "authenticate"); err != nil {
		return err
	}
	if len(password) > s.codec.Limit() {
		return &OpError{"authenticate", s.addr, fmt.Errorf("%w: password of %d bytes exceeds maximum of %d", ErrEncoding, len(password), s.codec.Limit())}
	}

	req := Packet{
		ID:   s.newRequestID(),
		Kind: KindAuth,
		Body: []byte(password),
	}
	resp, err := s.roundTrip(ctx, "authenticate", req)
	if err != nil {
		// Truncation is harmless on an auth response, whose body is expected to be empty.
		var tw *TruncationWarning
		if !errors.As(err, &tw) {
			return err
		}
	}

	if s.cfg.SkipAuthPreamble && resp.Kind == KindResponseValue && len(resp.Body) == 0 {
		s.logger.Debug().Int32("id", resp.ID).Msg("skipping empty response preceding auth response")
		resp, err = s.receive(ctx, "authenticate")
		if err != nil {
			var tw *TruncationWarning
			if !errors.As(err, &tw) {
				return err
			}
		}
	}

	if resp.Kind != KindAuthResponse || resp.ID == AuthFailedID {
		s.state = StateFailed
		s.logger.Warn().
			Str("kind", resp.Kind.String()).
			Int32("id", resp.ID).
			Msg("authentication rejected")
		return &OpError{"authenticate", s.addr, ErrAuth}
	}
	if resp.ID != req.ID {
		s.logger.Warn().Int32("want", req.ID).Int32("got", resp.ID).Msg("auth response id mismatch")
	}

	s.state = StateAuthenticated
	s.logger.Info().Msg("authenticated")
	return nil
}

// RunCommand submits cmd to the server and returns its output. A server may legitimately answer
// with no output, in which case the result is empty and err is nil.
//
// A command longer than the configured maximum fails with [ErrCommandTooLong] before any I/O. When
// the response exceeded the maximum, the truncated output is returned together with a
// [*TruncationWarning]; the session remains usable.
func (s *Session) RunCommand(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkState(StateAuthenticated, "command"); err != nil {
		return "", err
	}
	if len(cmd) > s.codec.Limit() {
		return "", &OpError{"command", s.addr, fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrCommandTooLong, len(cmd), s.codec.Limit())}
	}

	req := Packet{
		ID:   s.newRequestID(),
		Kind: KindExecCommand,
		Body: []byte(cmd),
	}
	resp, err := s.roundTrip(ctx, "command", req)
	var tw *TruncationWarning
	if err != nil && !errors.As(err, &tw) {
		return "", err
	}

	switch {
	case resp.Kind == KindAuthResponse && resp.ID == AuthFailedID:
		s.state = StateFailed
		s.logger.Warn().Msg("server revoked authorization")
		return "", &OpError{"command", s.addr, ErrAuth}
	case resp.Kind != KindResponseValue:
		return "", &OpError{"command", s.addr, fmt.Errorf("%w: got %s", ErrUnexpectedPacket, resp.Kind)}
	}
	if resp.ID != req.ID {
		s.logger.Warn().Int32("want", req.ID).Int32("got", resp.ID).Msg("response id mismatch")
	}

	if tw != nil {
		s.logger.Warn().Int("declared", tw.Declared).Int("kept", tw.Kept).Msg("response truncated")
		return string(resp.Body), &OpError{"command", s.addr, tw}
	}
	return string(resp.Body), nil
}

// Close releases the session's transport. It is safe to call in any state and more than once.
//
// Close waits for an in-flight request to finish. With no transport timeout that wait is unbounded
// unless the request's context is canceled.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.logger.Info().Msg("session closed")
	return err
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Addr returns the address the session is connected to, if known.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addr
}

// checkState ensures the session is in want before performing op. Callers hold mu.
func (s *Session) checkState(want State, op string) error {
	if s.state == want {
		return nil
	}
	var err error
	switch {
	case s.state == StateFailed:
		err = ErrSessionFailed
	case s.state == StateClosed:
		err = ErrSessionClosed
	case s.state == StateDisconnected:
		err = ErrNotConnected
	case want == StateDisconnected:
		err = ErrAlreadyConnected
	case s.state == StateConnected:
		err = ErrNotAuthenticated
	default:
		err = ErrAlreadyAuthenticated
	}
	return &OpError{op, s.addr, err}
}

// roundTrip sends req and receives exactly one response. Callers hold mu.
func (s *Session) roundTrip(ctx context.Context, op string, req Packet) (Packet, error) {
	if err := ctx.Err(); err != nil {
		return Packet{}, &OpError{op, s.addr, err}
	}

	stop := s.watch(ctx)
	defer stop()

	s.logPacket(ctx, "sending packet", req)
	if err := s.stream.Send(req); err != nil {
		if errors.Is(err, ErrEncoding) {
			return Packet{}, &OpError{op, s.addr, err}
		}
		return Packet{}, s.fail(ctx, op, fmt.Errorf("%w: %w", ErrConnectionLost, err))
	}
	return s.receiveLocked(ctx, op)
}

// receive reads one more packet within the current operation. Callers hold mu.
func (s *Session) receive(ctx context.Context, op string) (Packet, error) {
	stop := s.watch(ctx)
	defer stop()

	return s.receiveLocked(ctx, op)
}

func (s *Session) receiveLocked(ctx context.Context, op string) (Packet, error) {
	resp, err := s.stream.Receive()
	if err != nil {
		var tw *TruncationWarning
		if !errors.As(err, &tw) {
			return Packet{}, s.fail(ctx, op, err)
		}
		s.logPacket(ctx, "received truncated packet", resp)
		return resp, err
	}
	s.logPacket(ctx, "received packet", resp)
	return resp, nil
}

// watch applies the context's deadline to the transport and interrupts blocked I/O when the
// context is cancelled. The returned function removes both.
func (s *Session) watch(ctx context.Context) func() {
	d, ok := s.transport.(deadliner)
	if !ok {
		return func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.SetDeadline(deadline)
	}
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		_ = d.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		if !stop() {
			<-interrupted
		}
		_ = d.SetDeadline(time.Time{})
	}
}

// fail moves the session to [StateFailed] after a fatal error. Callers hold mu.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	s.state = StateFailed
	if cause := contextCause(ctx); cause != nil {
		err = fmt.Errorf("%w (%w)", err, cause)
	}
	s.logger.Error().Err(err).Str("op", op).Msg("session failed")
	return &OpError{op, s.addr, err}
}

// contextCause reports why ctx ended, if it has. A deadline that has passed counts even before the
// context's own timer fires.
func contextCause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *Session) newRequestID() int32 {
	if s.cfg.NewRequestID != nil {
		return s.cfg.NewRequestID()
	}
	return NewRequestID()
}

// logPacket sends a log record containing the provided log message and packet to the session's
// logger. When the logger is not level set for debug records, this function is essentially a NOP.
// If the provided packet is an outbound authorization packet, its body and length are obfuscated
// to prevent leaking a plaintext password into logs.
func (s *Session) logPacket(_ context.Context, logMsg string, packet Packet) {
	if s.logger.GetLevel() > zerolog.DebugLevel || zerolog.GlobalLevel() > zerolog.DebugLevel {
		return
	}

	// Unless the session is explicitly configured to log outbound authorization packets, scrub the
	// password when applicable.
	if packet.Kind == KindAuth && !s.cfg.LogOutboundAuthPackets {
		packet.Body = []byte{'x', 'x', 'x', 'x', 'x'}
	}

	if packet.Kind == KindUnknown {
		s.logger.Debug().Int32("id", packet.ID).Str("body", hex.EncodeToString(packet.Body)).Msg(logMsg)
		return
	}

	bs, err := Codec{MaxPayload: max(len(packet.Body), 1)}.Encode(packet)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal packet for logging")
		return
	}

	s.logger.Debug().
		Str("kind", packet.Kind.String()).
		Int32("id", packet.ID).
		Str("packet", hex.EncodeToString(bs)).
		Msg(logMsg)
}

// SessionConfig contains settings to control [Session] instances.
type SessionConfig struct {
	// MaxPayload is the largest command, password or response body in bytes. Longer commands are
	// rejected and longer responses truncated. Values less than or equal to zero select
	// [DefaultMaxPayload].
	MaxPayload int

	// Transport configures how [Session.Connect] dials the server.
	Transport TransportConfig

	// SkipAuthPreamble tolerates one empty [KindResponseValue] packet sent ahead of the
	// authorization response, as some servers do.
	SkipAuthPreamble bool

	// NewRequestID produces request IDs. Defaults to [NewRequestID].
	NewRequestID func() int32

	// Logger receives log entries from a session. A nil Logger discards them.
	Logger *zerolog.Logger

	// LogOutboundAuthPackets is a flag that must be explicitly enabled when the session is created.
	// This field enables debug logging to include outbound authorization request packets, exposing
	// server passwords in plaintext. When this field is false (the default value,) outbound
	// authorization packets will be sanitized to hide both the password text and packet length.
	//
	// WARNING: Only enable this flag if you are aware of the implications and are willing to accept
	// the risks!
	LogOutboundAuthPackets bool
}

// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultTransportTimeout bounds each blocking read or write on a transport.
const DefaultTransportTimeout = 5 * time.Second

// Transport delivers exact byte counts over a stream connection that may read or write short.
//
// Implementations own their connection exclusively and must release it at most once, no matter
// how many times Close is called.
type Transport interface {
	// WriteAll writes every byte of p or returns an error matching [ErrConnection].
	WriteAll(p []byte) error

	// ReadExact reads exactly n bytes. It returns an error matching [ErrConnectionClosed] when the
	// peer closes first, and [ErrConnection] for any other failure.
	ReadExact(n int) ([]byte, error)

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// deadliner is implemented by transports whose blocking operations can be interrupted.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// TransportConfig contains settings for [Dial] and [NewTransport].
type TransportConfig struct {
	// Timeout limits each individual read and write. Zero selects [DefaultTransportTimeout] and a
	// negative value disables the limit.
	Timeout time.Duration

	// LookupHost resolves a host name into addresses. Defaults to [net.DefaultResolver].
	LookupHost func(ctx context.Context, host string) ([]string, error)

	// LookupPort resolves a service name or number into a TCP port. Defaults to
	// [net.DefaultResolver].
	LookupPort func(ctx context.Context, network, service string) (int, error)

	// DialContext opens a connection to a single resolved address. Defaults to a [net.Dialer].
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (cfg TransportConfig) timeout() time.Duration {
	switch {
	case cfg.Timeout == 0:
		return DefaultTransportTimeout
	case cfg.Timeout < 0:
		return 0
	}
	return cfg.Timeout
}

// ConnTransport is a [Transport] over a [net.Conn]. While RCON specifies TCP, any connection will
// do: a [crypto/tls.Conn] for servers behind TLS, or a Unix socket when client and server share a
// machine.
type ConnTransport struct {
	conn    net.Conn
	timeout time.Duration

	// mu guards limit and serializes deadline updates on conn.
	mu    sync.Mutex
	limit time.Time

	closeOnce sync.Once
	closeErr  error
}

// NewTransport wraps conn. Once a conn is provided, it should not be used outside of the transport
// in order to ensure reliable message delivery.
func NewTransport(conn net.Conn, cfg TransportConfig) *ConnTransport {
	return &ConnTransport{
		conn:    conn,
		timeout: cfg.timeout(),
	}
}

// Dial resolves host and port and connects to the first resolved address that accepts a
// connection, trying every candidate in the order the resolver returned them.
func Dial(ctx context.Context, host, port string, cfg TransportConfig) (*ConnTransport, error) {
	lookupHost := cfg.LookupHost
	if lookupHost == nil {
		lookupHost = net.DefaultResolver.LookupHost
	}
	lookupPort := cfg.LookupPort
	if lookupPort == nil {
		lookupPort = net.DefaultResolver.LookupPort
	}
	dial := cfg.DialContext
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.timeout()}
		dial = d.DialContext
	}

	addr := net.JoinHostPort(host, port)

	portNum, err := lookupPort(ctx, "tcp", port)
	if err != nil {
		return nil, &OpError{"resolve", addr, fmt.Errorf("%w: %w", ErrResolution, err)}
	}
	hosts, err := lookupHost(ctx, host)
	if err != nil {
		return nil, &OpError{"resolve", addr, fmt.Errorf("%w: %w", ErrResolution, err)}
	}
	if len(hosts) == 0 {
		return nil, &OpError{"resolve", addr, fmt.Errorf("%w: no addresses for %q", ErrResolution, host)}
	}

	var errs []error
	for _, h := range hosts {
		candidate := net.JoinHostPort(h, strconv.Itoa(portNum))
		conn, err := dial(ctx, "tcp", candidate)
		if err == nil {
			return NewTransport(conn, cfg), nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &OpError{"connect", addr, fmt.Errorf("%w: %w", ErrConnection, errors.Join(errs...))}
}

// WriteAll writes p in full, looping over short writes.
func (t *ConnTransport) WriteAll(p []byte) error {
	if err := t.applyDeadline(t.conn.SetWriteDeadline); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	for len(p) > 0 {
		n, err := t.conn.Write(p)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %w", ErrConnection, io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

// ReadExact reads exactly n bytes, looping over short reads.
func (t *ConnTransport) ReadExact(n int) ([]byte, error) {
	if err := t.applyDeadline(t.conn.SetReadDeadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(t.conn, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return b, nil
}

// SetDeadline caps pending and future I/O at d, on top of the per-operation timeout. A time in the
// past interrupts a blocked read or write. The zero value removes the cap.
func (t *ConnTransport) SetDeadline(d time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.limit = d
	return t.conn.SetDeadline(t.deadline())
}

// applyDeadline computes the deadline for the next operation and hands it to set.
func (t *ConnTransport) applyDeadline(set func(time.Time) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return set(t.deadline())
}

// deadline returns the earlier of the per-operation timeout and the cap. Callers hold mu.
func (t *ConnTransport) deadline() time.Time {
	var d time.Time
	if t.timeout > 0 {
		d = time.Now().Add(t.timeout)
	}
	if !t.limit.IsZero() && (d.IsZero() || t.limit.Before(d)) {
		d = t.limit
	}
	return d
}

// RemoteAddr returns the address of the connected peer.
func (t *ConnTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Close closes the underlying connection exactly once. Later calls return the first result.
func (t *ConnTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/schultz-is/rcon"
)

// scriptedTransport replays canned server bytes and records everything written to it.
type scriptedTransport struct {
	mu         sync.Mutex
	in         *bytes.Reader
	written    bytes.Buffer
	writeCalls int
	readCalls  int
	closeCalls int
}

func newScriptedTransport(t *testing.T, responses ...rcon.Packet) *scriptedTransport {
	t.Helper()

	var buf bytes.Buffer
	for _, p := range responses {
		if _, err := p.WriteTo(&buf); err != nil {
			t.Fatalf("Failed to encode scripted response %v: %s", p, err)
		}
	}
	return newRawTransport(buf.Bytes())
}

func newRawTransport(b []byte) *scriptedTransport {
	return &scriptedTransport{in: bytes.NewReader(b)}
}

func (s *scriptedTransport) WriteAll(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeCalls++
	if s.closeCalls > 0 {
		return fmt.Errorf("%w: %w", rcon.ErrConnection, net.ErrClosed)
	}
	s.written.Write(p)
	return nil
}

func (s *scriptedTransport) ReadExact(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readCalls++
	b := make([]byte, n)
	if _, err := io.ReadFull(s.in, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", rcon.ErrConnectionClosed, err)
		}
		return nil, fmt.Errorf("%w: %w", rcon.ErrConnection, err)
	}
	return b, nil
}

func (s *scriptedTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCalls++
	return nil
}

func (s *scriptedTransport) calls() (writes, reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeCalls, s.readCalls, s.closeCalls
}

// sent decodes every packet the client wrote.
func (s *scriptedTransport) sent(t *testing.T) []rcon.Packet {
	t.Helper()

	s.mu.Lock()
	b := bytes.Clone(s.written.Bytes())
	s.mu.Unlock()

	stream := rcon.NewPacketStream(newRawTransport(b), rcon.Codec{}, rcon.FromClient)
	var ps []rcon.Packet
	for {
		p, err := stream.Receive()
		if errors.Is(err, rcon.ErrConnectionLost) {
			return ps
		}
		if err != nil {
			t.Fatalf("Failed to decode packet written by client: %s", err)
		}
		ps = append(ps, p)
	}
}

// pipeServer is the server end of a [net.Pipe], speaking whole packets.
type pipeServer struct {
	conn   net.Conn
	stream *rcon.PacketStream
}

// newPipe returns a session attached to the client end of a pipe, and the server end.
func newPipe(t *testing.T, cfg rcon.SessionConfig) (*rcon.Session, *pipeServer) {
	t.Helper()

	cc, sc := net.Pipe()
	t.Cleanup(func() {
		_ = cc.Close()
		_ = sc.Close()
	})

	s := rcon.NewSession(cfg)
	if err := s.Attach(rcon.NewTransport(cc, rcon.TransportConfig{})); err != nil {
		t.Fatalf("Failed to attach transport: %s", err)
	}

	server := &pipeServer{
		conn:   sc,
		stream: rcon.NewPacketStream(rcon.NewTransport(sc, rcon.TransportConfig{Timeout: -1}), rcon.Codec{}, rcon.FromClient),
	}
	return s, server
}

// serve answers each request read from the client with the packets produced by respond. It runs
// until the client goes away.
func (ps *pipeServer) serve(respond func(req rcon.Packet) [][]byte) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		for {
			req, err := ps.stream.Receive()
			if err != nil {
				return
			}
			for _, b := range respond(req) {
				if _, err := ps.conn.Write(b); err != nil {
					done <- err
					return
				}
			}
		}
	}()
	return done
}

func mustEncode(t *testing.T, p rcon.Packet) []byte {
	t.Helper()

	b, err := rcon.Codec{MaxPayload: 1 << 20}.Encode(p)
	if err != nil {
		t.Fatalf("Failed to encode packet %v: %s", p, err)
	}
	return b
}

// wire encodes p for use inside server goroutines, where t.Fatal is not allowed.
func wire(p rcon.Packet) []byte {
	b, err := rcon.Codec{MaxPayload: 1 << 20}.Encode(p)
	if err != nil {
		panic(err)
	}
	return b
}

// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

/*
Package rcon provides mechanisms for interacting with the Source RCON protocol as described by
Valve Software at https://developer.valvesoftware.com/wiki/Source_RCON_Protocol.

The package is layered. A [Codec] converts [Packet] values to and from their wire form without
performing I/O. A [Transport] moves exact byte counts over a connection. A [PacketStream] reads and
writes whole packets over a transport, keeping the framing in sync even when a response exceeds
the configured maximum. A [Session] drives the connect, authenticate and command exchange on top
of a stream:

	s, err := rcon.Open(ctx, "localhost", "25575", rcon.SessionConfig{})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Authenticate(ctx, password); err != nil {
		return err
	}
	out, err := s.RunCommand(ctx, "list")

Errors match the sentinel values declared in this package with [errors.Is]. [ClassifyError]
reports whether a session can continue after an error.
*/
package rcon

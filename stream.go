// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"fmt"
)

// discardChunk is the largest read issued while draining the tail of an oversized packet.
const discardChunk = 4096

// PacketStream reads and writes whole packets over a [Transport].
type PacketStream struct {
	t       Transport
	codec   Codec
	inbound Direction
}

// NewPacketStream returns a stream over t. Received packets are interpreted as travelling in the
// inbound direction: a client reads [FromServer] packets, a server reads [FromClient] packets.
func NewPacketStream(t Transport, codec Codec, inbound Direction) *PacketStream {
	return &PacketStream{
		t:       t,
		codec:   codec,
		inbound: inbound,
	}
}

// Send encodes p and writes it in full. Encoding failures match [ErrEncoding] and leave the
// transport untouched; write failures match [ErrConnection].
func (s *PacketStream) Send(p Packet) error {
	b, err := s.codec.Encode(p)
	if err != nil {
		return err
	}
	return s.t.WriteAll(b)
}

// Receive reads one complete packet.
//
// A declared length below the protocol minimum fails with [ErrMalformedPacket]. A payload larger
// than the codec's maximum is cut down to the maximum: the rest of the packet is read and dropped,
// and the truncated packet is returned together with a [*TruncationWarning]. Any transport failure
// matches [ErrConnectionLost].
func (s *PacketStream) Receive() (Packet, error) {
	header, err := s.t.ReadExact(HeaderSize)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: reading length: %w", ErrConnectionLost, err)
	}

	length := DeclaredLength(header)
	if length < WrapperSize {
		return Packet{}, fmt.Errorf("%w: declared length %d below minimum of %d", ErrMalformedPacket, length, WrapperSize)
	}

	declared := int(length) - WrapperSize
	limit := s.codec.Limit()
	if declared <= limit {
		body, err := s.t.ReadExact(int(length))
		if err != nil {
			return Packet{}, fmt.Errorf("%w: reading body: %w", ErrConnectionLost, err)
		}
		return s.codec.Decode(header, body, s.inbound)
	}

	// ID and type fields plus as much payload as the limit allows.
	kept, err := s.t.ReadExact(8 + limit)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: reading body: %w", ErrConnectionLost, err)
	}
	if err := s.discard(int(length) - len(kept)); err != nil {
		return Packet{}, fmt.Errorf("%w: draining oversized body: %w", ErrConnectionLost, err)
	}

	p := decodeBody(kept, s.inbound)
	return p, &TruncationWarning{Declared: declared, Kept: len(p.Body)}
}

// discard reads and drops n bytes.
func (s *PacketStream) discard(n int) error {
	for n > 0 {
		chunk := min(n, discardChunk)
		if _, err := s.t.ReadExact(chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

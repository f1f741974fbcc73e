// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
)

// WrapperSize is the cumulative size of non-body bytes that contribute to calculation of the packet
// size that precedes a binary packet. Eight bytes are accounted for by the packet ID and type,
// while two bytes are accounted for by the null byte termination of the body and packet. The packet
// size itself is not included in the size calculation.
const WrapperSize = 8 + 2

// HeaderSize is the size of the length field that precedes every packet.
const HeaderSize = 4

// DefaultMaxPayload is the largest body a [Codec] accepts when no other maximum is configured.
const DefaultMaxPayload = 4096

// AuthFailedID is the request ID a server answers with when authorization fails.
const AuthFailedID = -1

// Wire values of the packet type field. The value 2 is shared by server authorization responses
// and client command requests; the direction of travel tells them apart.
const (
	wireResponseValue int32 = 0
	wireAuthResponse  int32 = 2
	wireExecCommand   int32 = 2
	wireAuth          int32 = 3
)

// Direction identifies which peer sent a packet. It is needed to interpret the type field of a
// decoded packet.
type Direction int

const (
	// FromServer marks packets sent by the server to the client.
	FromServer Direction = iota

	// FromClient marks packets sent by the client to the server.
	FromClient
)

func (d Direction) String() string {
	if d == FromClient {
		return "client"
	}
	return "server"
}

// Kind indicates the purpose of a packet.
type Kind int

const (
	// KindUnknown is assigned to decoded packets whose type field is not recognized for their
	// direction. Packets of this kind cannot be encoded.
	KindUnknown Kind = iota

	// KindResponseValue represents a server response packet that contains the output of a command
	// initiated by a [KindExecCommand] request.
	KindResponseValue

	// KindAuthResponse represents a server authorization response packet. If authorization failed,
	// the packet ID will be [AuthFailedID] rather than that of the matching request.
	KindAuthResponse

	// KindExecCommand represents a client request packet that contains a command to be executed by
	// the server.
	KindExecCommand

	// KindAuth represents a client authorization request packet. Its body is the server password.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindResponseValue:
		return "SERVERDATA_RESPONSE_VALUE"
	case KindAuthResponse:
		return "SERVERDATA_AUTH_RESPONSE"
	case KindExecCommand:
		return "SERVERDATA_EXECCOMMAND"
	case KindAuth:
		return "SERVERDATA_AUTH"
	}
	return "UNKNOWN"
}

// Wire returns the value written to the type field for k, and false when k has no wire form.
func (k Kind) Wire() (int32, bool) {
	switch k {
	case KindResponseValue:
		return wireResponseValue, true
	case KindAuthResponse:
		return wireAuthResponse, true
	case KindExecCommand:
		return wireExecCommand, true
	case KindAuth:
		return wireAuth, true
	}
	return 0, false
}

// Direction returns the peer that sends packets of kind k.
func (k Kind) Direction() Direction {
	if k == KindExecCommand || k == KindAuth {
		return FromClient
	}
	return FromServer
}

// kindOf maps a wire type to a [Kind] given the direction the packet travelled.
func kindOf(wire int32, dir Direction) Kind {
	if dir == FromClient {
		switch wire {
		case wireExecCommand:
			return KindExecCommand
		case wireAuth:
			return KindAuth
		}
		return KindUnknown
	}
	switch wire {
	case wireResponseValue:
		return KindResponseValue
	case wireAuthResponse:
		return KindAuthResponse
	}
	return KindUnknown
}

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// ID is a field chosen by the client which can be used to correlate request packets with
	// response packets. It need not be unique. The singular case where a response ID will not match
	// its request is authorization failure, where the kind is [KindAuthResponse] and the ID is
	// [AuthFailedID].
	ID int32

	// Kind indicates the purpose of the packet.
	Kind Kind

	// Body contains the password, the command to be executed, or the server's response. It's
	// possible that the body is empty. It never contains the terminating null bytes.
	Body []byte
}

// Len returns the value of the length field that precedes p on the wire.
func (p Packet) Len() int32 {
	return int32(len(p.Body) + WrapperSize)
}

// MarshalBinary encodes the receiving [Packet] with a [Codec] limited to [DefaultMaxPayload]. This
// satisfies the [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	return Codec{}.Encode(p)
}

// WriteTo writes a binary representation of the packet to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}

// Equal determines if the provided packet content matches the receiving packet content. A nil and
// an empty body are considered equal.
func (p Packet) Equal(p2 Packet) bool {
	switch {
	case p.ID != p2.ID:
		return false
	case p.Kind != p2.Kind:
		return false
	case !bytes.Equal(p.Body, p2.Body):
		return false
	}
	return true
}

// Clone returns a copy of p that shares no memory with it.
func (p Packet) Clone() Packet {
	p.Body = bytes.Clone(p.Body)
	return p
}

// Codec converts packets to and from their wire representation. The zero value is ready to use
// and limits bodies to [DefaultMaxPayload] bytes.
type Codec struct {
	// MaxPayload is the largest body, in bytes, the codec will encode. Values less than or equal to
	// zero select [DefaultMaxPayload].
	MaxPayload int
}

// Limit returns the effective maximum body size.
func (c Codec) Limit() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// Encode lays out p as length, ID, type, body and two null bytes, all integers little-endian.
func (c Codec) Encode(p Packet) ([]byte, error) {
	if len(p.Body) > c.Limit() {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds maximum of %d", ErrEncoding, len(p.Body), c.Limit())
	}
	wire, ok := p.Kind.Wire()
	if !ok {
		return nil, fmt.Errorf("%w: packet kind %s has no wire value", ErrEncoding, p.Kind)
	}

	b := make([]byte, HeaderSize+WrapperSize+len(p.Body))
	binary.LittleEndian.PutUint32(b[0:4], uint32(p.Len()))
	binary.LittleEndian.PutUint32(b[4:8], uint32(p.ID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(wire))
	copy(b[12:], p.Body)
	// The final two bytes are already zero.

	return b, nil
}

// Decode reconstructs a packet from its 4-byte length header and the length bytes that follow it.
// The body ends at the first null byte within the declared length. Decode does not enforce the
// codec's maximum; callers that must bound memory check the declared length first.
func (c Codec) Decode(header, body []byte, dir Direction) (Packet, error) {
	if len(header) != HeaderSize {
		return Packet{}, fmt.Errorf("%w: header is %d bytes", ErrMalformedPacket, len(header))
	}
	length := int32(binary.LittleEndian.Uint32(header))
	if length < WrapperSize {
		return Packet{}, fmt.Errorf("%w: declared length %d below minimum of %d", ErrMalformedPacket, length, WrapperSize)
	}
	if int(length) != len(body) {
		return Packet{}, fmt.Errorf("%w: declared length %d but got %d bytes", ErrMalformedPacket, length, len(body))
	}
	return decodeBody(body, dir), nil
}

// decodeBody parses the ID, type and payload from b, which holds at least the ID and type fields.
func decodeBody(b []byte, dir Direction) Packet {
	p := Packet{
		ID:   int32(binary.LittleEndian.Uint32(b[0:4])),
		Kind: kindOf(int32(binary.LittleEndian.Uint32(b[4:8])), dir),
	}
	payload := b[8:]
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	if len(payload) > 0 {
		p.Body = bytes.Clone(payload)
	}
	return p
}

// DeclaredLength parses a 4-byte length header.
func DeclaredLength(header []byte) int32 {
	return int32(binary.LittleEndian.Uint32(header))
}

// NewRequestID returns a pseudo-random, non-negative request ID. IDs are not guaranteed unique;
// they only need to distinguish a response from the request sent just before it.
func NewRequestID() int32 {
	return rand.Int32()
}

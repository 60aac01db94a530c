// SPDX-License-Identifier: GPL-3.0-or-later

package wisp

import (
	"encoding/binary"
	"errors"

	"github.com/bassosimone/runtimex"
)

// PacketType is the one-byte Wisp packet type.
type PacketType uint8

// Enumerate the Wisp packet types.
const (
	// PacketConnect asks the server to open a new stream.
	PacketConnect = PacketType(0x01)

	// PacketData carries opaque stream bytes in either direction.
	PacketData = PacketType(0x02)

	// PacketContinue advertises buffer credit to the client.
	PacketContinue = PacketType(0x03)

	// PacketClose tears a stream down and carries a reason code.
	PacketClose = PacketType(0x04)
)

// CloseReason is the one-byte reason carried by a CLOSE packet.
type CloseReason uint8

// Enumerate the Wisp close reasons.
const (
	// CloseNormal indicates a voluntary or EOF-driven close.
	CloseNormal = CloseReason(0x02)

	// CloseNetworkError indicates an upstream I/O failure.
	CloseNetworkError = CloseReason(0x03)

	// CloseInvalid indicates invalid information in a packet.
	CloseInvalid = CloseReason(0x41)

	// CloseUnreachable indicates the destination could not be reached.
	CloseUnreachable = CloseReason(0x42)

	// CloseTimeout indicates the connection attempt timed out.
	CloseTimeout = CloseReason(0x43)

	// CloseRefused indicates the destination refused the connection.
	CloseRefused = CloseReason(0x44)
)

// StreamKind selects the transport used by a stream.
type StreamKind uint8

// Enumerate the stream kinds.
const (
	// StreamTCP streams bytes over a TCP connection.
	StreamTCP = StreamKind(0x01)

	// StreamUDP relays datagrams over a UDP socket.
	StreamUDP = StreamKind(0x02)
)

// frameHeaderSize is the fixed size of the type and stream-id header.
const frameHeaderSize = 5

// ErrFrameTooShort indicates that a buffer is too short to be a frame.
var ErrFrameTooShort = errors.New("wisp: frame shorter than five bytes")

// ErrConnectTooShort indicates that a CONNECT payload is too short.
var ErrConnectTooShort = errors.New("wisp: connect payload too short")

// Frame is a Wisp packet carried as one WebSocket binary message.
type Frame struct {
	// Type is the packet type.
	Type PacketType

	// StreamID identifies the stream within its session. Stream id
	// zero is reserved for session-scoped control frames.
	StreamID uint32

	// Payload contains the type-specific payload, possibly empty.
	Payload []byte
}

// MarshalFrame serializes a [Frame] into wire format.
func MarshalFrame(frame Frame) []byte {
	data := make([]byte, frameHeaderSize+len(frame.Payload))
	data[0] = byte(frame.Type)
	binary.LittleEndian.PutUint32(data[1:5], frame.StreamID)
	count := copy(data[frameHeaderSize:], frame.Payload)
	runtimex.Assert(count == len(frame.Payload))
	return data
}

// ParseFrame parses wire format into a [Frame].
//
// The returned payload aliases the input buffer rather than copying it.
//
// The only error condition is [ErrFrameTooShort]: per-type payload
// validation belongs to the dispatcher, not to the codec.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < frameHeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	frame := Frame{
		Type:     PacketType(data[0]),
		StreamID: binary.LittleEndian.Uint32(data[1:5]),
		Payload:  data[frameHeaderSize:],
	}
	return frame, nil
}

// ConnectRequest is the parsed payload of a CONNECT packet.
type ConnectRequest struct {
	// Kind selects TCP or UDP.
	Kind StreamKind

	// Port is the destination port.
	Port uint16

	// Host is the destination hostname or IP literal.
	Host string
}

// ParseConnect parses the payload of a CONNECT packet.
//
// The payload is a one-byte stream kind, a two-byte little-endian
// port, and a hostname occupying the rest of the payload. We require
// the hostname to be at least one byte long.
func ParseConnect(payload []byte) (ConnectRequest, error) {
	if len(payload) < 4 {
		return ConnectRequest{}, ErrConnectTooShort
	}
	creq := ConnectRequest{
		Kind: StreamKind(payload[0]),
		Port: binary.LittleEndian.Uint16(payload[1:3]),
		Host: string(payload[3:]),
	}
	return creq, nil
}

// continueFrame builds a CONTINUE frame advertising the given credit.
func continueFrame(streamID uint32, credit uint32) Frame {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, credit)
	return Frame{Type: PacketContinue, StreamID: streamID, Payload: payload}
}

// closeFrame builds a CLOSE frame carrying the given reason.
func closeFrame(streamID uint32, reason CloseReason) Frame {
	return Frame{Type: PacketClose, StreamID: streamID, Payload: []byte{byte(reason)}}
}

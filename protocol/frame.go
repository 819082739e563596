// Package protocol implements the wire codec for the daemon's multiplexed
// WebSocket framing: a fixed 8-byte envelope followed by an opcode-specific
// payload, as exchanged on both the /io and /control endpoints.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the only envelope version this daemon understands. Frames
// carrying any other value are dropped by the receiver.
const Version byte = 1

// HeaderLen is the size in bytes of the fixed frame envelope.
const HeaderLen = 8

// Opcode identifies the kind of frame payload that follows the envelope.
type Opcode byte

// Handshake set, legal on both /io and /control.
const (
	OpClientHello Opcode = 0x01
	OpServerHello Opcode = 0x02
	OpAuth        Opcode = 0x03
	OpAuthResult  Opcode = 0x04
	OpError       Opcode = 0x7F
)

// IO set, legal only on /io.
const (
	OpTCPConnect       Opcode = 0x10
	OpTCPConnected     Opcode = 0x11
	OpTCPSend          Opcode = 0x12
	OpTCPRecv          Opcode = 0x13
	OpTCPClose         Opcode = 0x14
	OpTCPListen        Opcode = 0x15
	OpTCPListenResult  Opcode = 0x16
	OpTCPAccept        Opcode = 0x17
	OpTCPStopListen    Opcode = 0x18
	OpTCPSecure        Opcode = 0x19
	OpTCPSecured       Opcode = 0x1A
	OpUDPBind          Opcode = 0x20
	OpUDPBound         Opcode = 0x21
	OpUDPSend          Opcode = 0x22
	OpUDPRecv          Opcode = 0x23
	OpUDPClose         Opcode = 0x24
	OpUDPJoinMulticast Opcode = 0x25
	OpUDPLeaveMulticast Opcode = 0x26
)

// Control set, legal only on /control.
const (
	OpRootsChanged      Opcode = 0xE0
	OpEvent             Opcode = 0xE1
	OpOpenFolderPicker  Opcode = 0xE2
)

// Endpoint distinguishes which WebSocket a Session was accepted on, which in
// turn gates which opcode set is legal.
type Endpoint int

const (
	EndpointIO Endpoint = iota
	EndpointControl
)

// ErrShortFrame is returned by Decode when fewer than HeaderLen bytes are
// available. Per spec, such frames carry no recoverable requestId and MUST
// be dropped silently rather than answered with an ERROR frame.
var ErrShortFrame = errors.New("protocol: frame shorter than header")

// ErrBadVersion is returned by Decode when the version byte doesn't match
// Version. Unlike ErrShortFrame, a requestId is still recoverable, so the
// caller can and must answer with an ERROR frame.
type ErrBadVersion struct {
	Got       byte
	RequestID uint32
}

func (e *ErrBadVersion) Error() string {
	return fmt.Sprintf("protocol: unsupported frame version %d (requestId=%d)", e.Got, e.RequestID)
}

// Frame is a decoded envelope plus its raw, opcode-specific payload.
type Frame struct {
	Opcode    Opcode
	Flags     uint16
	RequestID uint32
	Payload   []byte
}

// Encode serializes f into a newly allocated byte slice: header followed by
// payload, with no intermediate copies of the payload itself.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Payload))
	buf[0] = Version
	buf[1] = byte(f.Opcode)
	binary.LittleEndian.PutUint16(buf[2:4], f.Flags)
	binary.LittleEndian.PutUint32(buf[4:8], f.RequestID)
	copy(buf[HeaderLen:], f.Payload)
	return buf
}

// Decode parses the envelope out of b. The returned Frame's Payload aliases
// b's backing array; callers that retain it past the lifetime of the
// WebSocket read buffer must copy it first.
//
// Decode reports ErrShortFrame for frames under HeaderLen bytes (drop
// silently, no ERROR reply possible) and *ErrBadVersion when the version
// byte is wrong (the caller replies with an ERROR frame echoing RequestID).
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrShortFrame
	}
	requestID := binary.LittleEndian.Uint32(b[4:8])
	if b[0] != Version {
		return Frame{}, &ErrBadVersion{Got: b[0], RequestID: requestID}
	}
	return Frame{
		Opcode:    Opcode(b[1]),
		Flags:     binary.LittleEndian.Uint16(b[2:4]),
		RequestID: requestID,
		Payload:   b[HeaderLen:],
	}, nil
}

// IsLegalOn reports whether opcode may appear on endpoint, per the disjoint
// opcode taxonomy in spec §4.1. Handshake opcodes are legal everywhere.
func (op Opcode) IsLegalOn(ep Endpoint) bool {
	switch op {
	case OpClientHello, OpServerHello, OpAuth, OpAuthResult, OpError:
		return true
	case OpTCPConnect, OpTCPConnected, OpTCPSend, OpTCPRecv, OpTCPClose,
		OpTCPListen, OpTCPListenResult, OpTCPAccept, OpTCPStopListen,
		OpTCPSecure, OpTCPSecured,
		OpUDPBind, OpUDPBound, OpUDPSend, OpUDPRecv, OpUDPClose,
		OpUDPJoinMulticast, OpUDPLeaveMulticast:
		return ep == EndpointIO
	case OpRootsChanged, OpEvent, OpOpenFolderPicker:
		return ep == EndpointControl
	default:
		return false
	}
}

// ErrorFrame builds an ERROR frame referencing requestID, per spec: "An
// unknown opcode, or a valid opcode received on the wrong endpoint, results
// in an ERROR frame whose requestId equals the offending frame's requestId."
func ErrorFrame(requestID uint32, reason string) Frame {
	return Frame{
		Opcode:    OpError,
		RequestID: requestID,
		Payload:   []byte(reason),
	}
}

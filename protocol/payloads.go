package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrPayloadTooShort is returned by a payload decoder when the fixed-size
// prefix required by its opcode is not fully present. Per spec, such
// malformed payloads are silently dropped (and logged) rather than
// answered with an ERROR frame.
var ErrPayloadTooShort = errors.New("protocol: payload shorter than required prefix")

// AuthPayload is the parsed form of an AUTH frame's payload:
// authType(1) ∥ token ∥ 0x00 ∥ extensionId ∥ 0x00 ∥ installId (UTF-8).
type AuthPayload struct {
	AuthType    byte
	Token       string
	ExtensionID string
	InstallID   string
}

func DecodeAuth(p []byte) (AuthPayload, error) {
	if len(p) < 1 {
		return AuthPayload{}, ErrPayloadTooShort
	}
	authType := p[0]
	rest := p[1:]
	i := indexByte(rest, 0)
	if i < 0 {
		return AuthPayload{}, ErrPayloadTooShort
	}
	token := string(rest[:i])
	rest = rest[i+1:]
	j := indexByte(rest, 0)
	if j < 0 {
		return AuthPayload{}, ErrPayloadTooShort
	}
	return AuthPayload{
		AuthType:    authType,
		Token:       token,
		ExtensionID: string(rest[:j]),
		InstallID:   string(rest[j+1:]),
	}, nil
}

func EncodeAuth(p AuthPayload) []byte {
	buf := make([]byte, 0, 1+len(p.Token)+1+len(p.ExtensionID)+1+len(p.InstallID))
	buf = append(buf, p.AuthType)
	buf = append(buf, p.Token...)
	buf = append(buf, 0)
	buf = append(buf, p.ExtensionID...)
	buf = append(buf, 0)
	buf = append(buf, p.InstallID...)
	return buf
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// AuthResultPayload is the parsed form of an AUTH_RESULT frame's payload:
// status(1) where 0=ok, 1=fail; on fail, a UTF-8 reason follows.
type AuthResultPayload struct {
	Status byte
	Reason string
}

func DecodeAuthResult(p []byte) (AuthResultPayload, error) {
	if len(p) < 1 {
		return AuthResultPayload{}, ErrPayloadTooShort
	}
	return AuthResultPayload{Status: p[0], Reason: string(p[1:])}, nil
}

func EncodeAuthResult(p AuthResultPayload) []byte {
	if p.Status == 0 {
		return []byte{0}
	}
	buf := make([]byte, 0, 1+len(p.Reason))
	buf = append(buf, 1)
	buf = append(buf, p.Reason...)
	return buf
}

// TCPConnectPayload: sid(4) ∥ port(2) ∥ hostname(UTF-8, remainder).
type TCPConnectPayload struct {
	SID      uint32
	Port     uint16
	Hostname string
}

func DecodeTCPConnect(p []byte) (TCPConnectPayload, error) {
	if len(p) < 6 {
		return TCPConnectPayload{}, ErrPayloadTooShort
	}
	return TCPConnectPayload{
		SID:      binary.LittleEndian.Uint32(p[0:4]),
		Port:     binary.LittleEndian.Uint16(p[4:6]),
		Hostname: string(p[6:]),
	}, nil
}

func EncodeTCPConnect(p TCPConnectPayload) []byte {
	buf := make([]byte, 6+len(p.Hostname))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	copy(buf[6:], p.Hostname)
	return buf
}

// TCPConnectedPayload: sid(4) ∥ status(1) ∥ errno(4).
type TCPConnectedPayload struct {
	SID    uint32
	Status byte
	Errno  uint32
}

func DecodeTCPConnected(p []byte) (TCPConnectedPayload, error) {
	if len(p) < 9 {
		return TCPConnectedPayload{}, ErrPayloadTooShort
	}
	return TCPConnectedPayload{
		SID:    binary.LittleEndian.Uint32(p[0:4]),
		Status: p[4],
		Errno:  binary.LittleEndian.Uint32(p[5:9]),
	}, nil
}

func EncodeTCPConnected(p TCPConnectedPayload) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Status
	binary.LittleEndian.PutUint32(buf[5:9], p.Errno)
	return buf
}

// SIDDataPayload is shared by TCP_SEND / TCP_RECV: sid(4) ∥ data(remainder).
type SIDDataPayload struct {
	SID  uint32
	Data []byte
}

func DecodeSIDData(p []byte) (SIDDataPayload, error) {
	if len(p) < 4 {
		return SIDDataPayload{}, ErrPayloadTooShort
	}
	return SIDDataPayload{SID: binary.LittleEndian.Uint32(p[0:4]), Data: p[4:]}, nil
}

func EncodeSIDData(sid uint32, data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], sid)
	copy(buf[4:], data)
	return buf
}

// TCPClosePayload: sid(4) ∥ reason(1) ∥ errno(4).
type TCPClosePayload struct {
	SID    uint32
	Reason byte
	Errno  uint32
}

func DecodeTCPClose(p []byte) (TCPClosePayload, error) {
	if len(p) < 9 {
		return TCPClosePayload{}, ErrPayloadTooShort
	}
	return TCPClosePayload{
		SID:    binary.LittleEndian.Uint32(p[0:4]),
		Reason: p[4],
		Errno:  binary.LittleEndian.Uint32(p[5:9]),
	}, nil
}

func EncodeTCPClose(p TCPClosePayload) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Reason
	binary.LittleEndian.PutUint32(buf[5:9], p.Errno)
	return buf
}

// TCPListenPayload: sid(4) ∥ port(2) ∥ bindAddr(remainder, currently ignored).
type TCPListenPayload struct {
	SID       uint32
	Port      uint16
	BindAddr  string
}

func DecodeTCPListen(p []byte) (TCPListenPayload, error) {
	if len(p) < 6 {
		return TCPListenPayload{}, ErrPayloadTooShort
	}
	return TCPListenPayload{
		SID:      binary.LittleEndian.Uint32(p[0:4]),
		Port:     binary.LittleEndian.Uint16(p[4:6]),
		BindAddr: string(p[6:]),
	}, nil
}

func EncodeTCPListen(p TCPListenPayload) []byte {
	buf := make([]byte, 6+len(p.BindAddr))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	copy(buf[6:], p.BindAddr)
	return buf
}

// TCPListenResultPayload: sid(4) ∥ status(1) ∥ boundPort(2) ∥ errno(4).
type TCPListenResultPayload struct {
	SID       uint32
	Status    byte
	BoundPort uint16
	Errno     uint32
}

func DecodeTCPListenResult(p []byte) (TCPListenResultPayload, error) {
	if len(p) < 11 {
		return TCPListenResultPayload{}, ErrPayloadTooShort
	}
	return TCPListenResultPayload{
		SID:       binary.LittleEndian.Uint32(p[0:4]),
		Status:    p[4],
		BoundPort: binary.LittleEndian.Uint16(p[5:7]),
		Errno:     binary.LittleEndian.Uint32(p[7:11]),
	}, nil
}

func EncodeTCPListenResult(p TCPListenResultPayload) []byte {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Status
	binary.LittleEndian.PutUint16(buf[5:7], p.BoundPort)
	binary.LittleEndian.PutUint32(buf[7:11], p.Errno)
	return buf
}

// TCPAcceptPayload: listenerSid(4) ∥ newSid(4) ∥ remotePort(2) ∥ remoteAddr(UTF-8, remainder).
type TCPAcceptPayload struct {
	ListenerSID uint32
	NewSID      uint32
	RemotePort  uint16
	RemoteAddr  string
}

func DecodeTCPAccept(p []byte) (TCPAcceptPayload, error) {
	if len(p) < 10 {
		return TCPAcceptPayload{}, ErrPayloadTooShort
	}
	return TCPAcceptPayload{
		ListenerSID: binary.LittleEndian.Uint32(p[0:4]),
		NewSID:      binary.LittleEndian.Uint32(p[4:8]),
		RemotePort:  binary.LittleEndian.Uint16(p[8:10]),
		RemoteAddr:  string(p[10:]),
	}, nil
}

func EncodeTCPAccept(p TCPAcceptPayload) []byte {
	buf := make([]byte, 10+len(p.RemoteAddr))
	binary.LittleEndian.PutUint32(buf[0:4], p.ListenerSID)
	binary.LittleEndian.PutUint32(buf[4:8], p.NewSID)
	binary.LittleEndian.PutUint16(buf[8:10], p.RemotePort)
	copy(buf[10:], p.RemoteAddr)
	return buf
}

// TCPSecurePayload: sid(4) ∥ flags(1) ∥ hostname(UTF-8, remainder).
// flags&1 means skip certificate validation.
type TCPSecurePayload struct {
	SID      uint32
	Flags    byte
	Hostname string
}

func (p TCPSecurePayload) SkipVerify() bool { return p.Flags&1 != 0 }

func DecodeTCPSecure(p []byte) (TCPSecurePayload, error) {
	if len(p) < 5 {
		return TCPSecurePayload{}, ErrPayloadTooShort
	}
	return TCPSecurePayload{
		SID:      binary.LittleEndian.Uint32(p[0:4]),
		Flags:    p[4],
		Hostname: string(p[5:]),
	}, nil
}

func EncodeTCPSecure(p TCPSecurePayload) []byte {
	buf := make([]byte, 5+len(p.Hostname))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Flags
	copy(buf[5:], p.Hostname)
	return buf
}

// TCPSecuredPayload: sid(4) ∥ status(1).
type TCPSecuredPayload struct {
	SID    uint32
	Status byte
}

func DecodeTCPSecured(p []byte) (TCPSecuredPayload, error) {
	if len(p) < 5 {
		return TCPSecuredPayload{}, ErrPayloadTooShort
	}
	return TCPSecuredPayload{SID: binary.LittleEndian.Uint32(p[0:4]), Status: p[4]}, nil
}

func EncodeTCPSecured(p TCPSecuredPayload) []byte {
	buf := make([]byte, 5)
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Status
	return buf
}

// UDPBindPayload: sid(4) ∥ port(2) ∥ bindAddr(remainder).
type UDPBindPayload struct {
	SID      uint32
	Port     uint16
	BindAddr string
}

func DecodeUDPBind(p []byte) (UDPBindPayload, error) {
	if len(p) < 6 {
		return UDPBindPayload{}, ErrPayloadTooShort
	}
	return UDPBindPayload{
		SID:      binary.LittleEndian.Uint32(p[0:4]),
		Port:     binary.LittleEndian.Uint16(p[4:6]),
		BindAddr: string(p[6:]),
	}, nil
}

func EncodeUDPBind(p UDPBindPayload) []byte {
	buf := make([]byte, 6+len(p.BindAddr))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	copy(buf[6:], p.BindAddr)
	return buf
}

// UDPBoundPayload: sid(4) ∥ status(1) ∥ boundPort(2) ∥ errno(4).
type UDPBoundPayload struct {
	SID       uint32
	Status    byte
	BoundPort uint16
	Errno     uint32
}

func DecodeUDPBound(p []byte) (UDPBoundPayload, error) {
	if len(p) < 11 {
		return UDPBoundPayload{}, ErrPayloadTooShort
	}
	return UDPBoundPayload{
		SID:       binary.LittleEndian.Uint32(p[0:4]),
		Status:    p[4],
		BoundPort: binary.LittleEndian.Uint16(p[5:7]),
		Errno:     binary.LittleEndian.Uint32(p[7:11]),
	}, nil
}

func EncodeUDPBound(p UDPBoundPayload) []byte {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	buf[4] = p.Status
	binary.LittleEndian.PutUint16(buf[5:7], p.BoundPort)
	binary.LittleEndian.PutUint32(buf[7:11], p.Errno)
	return buf
}

// UDPDatagramPayload is shared by UDP_SEND / UDP_RECV:
// sid(4) ∥ port(2) ∥ addrLen(2) ∥ addr ∥ data.
type UDPDatagramPayload struct {
	SID  uint32
	Port uint16
	Addr string
	Data []byte
}

func DecodeUDPDatagram(p []byte) (UDPDatagramPayload, error) {
	if len(p) < 8 {
		return UDPDatagramPayload{}, ErrPayloadTooShort
	}
	sid := binary.LittleEndian.Uint32(p[0:4])
	port := binary.LittleEndian.Uint16(p[4:6])
	addrLen := binary.LittleEndian.Uint16(p[6:8])
	if len(p) < 8+int(addrLen) {
		return UDPDatagramPayload{}, ErrPayloadTooShort
	}
	addr := string(p[8 : 8+addrLen])
	data := p[8+addrLen:]
	return UDPDatagramPayload{SID: sid, Port: port, Addr: addr, Data: data}, nil
}

func EncodeUDPDatagram(p UDPDatagramPayload) []byte {
	buf := make([]byte, 8+len(p.Addr)+len(p.Data))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(p.Addr)))
	copy(buf[8:], p.Addr)
	copy(buf[8+len(p.Addr):], p.Data)
	return buf
}

// UDPMulticastPayload is shared by UDP_JOIN_MULTICAST / UDP_LEAVE_MULTICAST:
// sid(4) ∥ groupAddr(UTF-8, remainder).
type UDPMulticastPayload struct {
	SID       uint32
	GroupAddr string
}

func DecodeUDPMulticast(p []byte) (UDPMulticastPayload, error) {
	if len(p) < 4 {
		return UDPMulticastPayload{}, ErrPayloadTooShort
	}
	return UDPMulticastPayload{SID: binary.LittleEndian.Uint32(p[0:4]), GroupAddr: string(p[4:])}, nil
}

func EncodeUDPMulticast(p UDPMulticastPayload) []byte {
	buf := make([]byte, 4+len(p.GroupAddr))
	binary.LittleEndian.PutUint32(buf[0:4], p.SID)
	copy(buf[4:], p.GroupAddr)
	return buf
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundtrip(t *testing.T) {
	t.Parallel()

	f := Frame{
		Opcode:    OpTCPSend,
		Flags:     0,
		RequestID: 42,
		Payload:   EncodeSIDData(7, []byte("hello")),
	}
	encoded := Encode(f)
	require.Len(t, encoded, HeaderLen+len(f.Payload))

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, f.Opcode, decoded.Opcode)
	require.Equal(t, f.RequestID, decoded.RequestID)
	require.Equal(t, f.Payload, decoded.Payload)
}

func TestDecodeShortFrameDropsSilently(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeBadVersionCarriesRequestID(t *testing.T) {
	t.Parallel()

	buf := Encode(Frame{Opcode: OpTCPSend, RequestID: 99})
	buf[0] = 2 // corrupt version
	_, err := Decode(buf)
	var badVersion *ErrBadVersion
	require.ErrorAs(t, err, &badVersion)
	require.Equal(t, uint32(99), badVersion.RequestID)
}

func TestOpcodeLegalOnEndpoint(t *testing.T) {
	t.Parallel()

	require.True(t, OpClientHello.IsLegalOn(EndpointIO))
	require.True(t, OpClientHello.IsLegalOn(EndpointControl))
	require.True(t, OpTCPConnect.IsLegalOn(EndpointIO))
	require.False(t, OpTCPConnect.IsLegalOn(EndpointControl))
	require.True(t, OpRootsChanged.IsLegalOn(EndpointControl))
	require.False(t, OpRootsChanged.IsLegalOn(EndpointIO))
	require.False(t, Opcode(0x99).IsLegalOn(EndpointIO))
}

func TestAuthPayloadRoundtrip(t *testing.T) {
	t.Parallel()

	p := AuthPayload{AuthType: 0, Token: "T", ExtensionID: "E", InstallID: "I"}
	decoded, err := DecodeAuth(EncodeAuth(p))
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestUDPDatagramPayloadRoundtrip(t *testing.T) {
	t.Parallel()

	p := UDPDatagramPayload{SID: 3, Port: 6881, Addr: "203.0.113.5", Data: []byte{1, 2, 3, 4}}
	decoded, err := DecodeUDPDatagram(EncodeUDPDatagram(p))
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestDecodeTCPConnectEmptyHostname(t *testing.T) {
	t.Parallel()

	p, err := DecodeTCPConnect(EncodeTCPConnect(TCPConnectPayload{SID: 1, Port: 80, Hostname: ""}))
	require.NoError(t, err)
	require.Equal(t, "", p.Hostname)
}

package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/stretchr/testify/require"
)

type fakeTokenStore struct {
	triple pairing.Triple
	exists bool
}

func (f *fakeTokenStore) Current() (pairing.Triple, bool) { return f.triple, f.exists }
func (f *fakeTokenStore) Replace(t pairing.Triple) error   { f.triple, f.exists = t, true; return nil }

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func newServerSession(t *testing.T, tok *fakeTokenStore, endpoint protocol.Endpoint) (*Session, *websocket.Conn, func()) {
	t.Helper()

	var serverConn *websocket.Conn
	accepted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = c
		close(accepted)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	<-accepted

	s := New(serverConn, endpoint, metrics.New())
	auth := &pairing.Authenticator{Token: tok}
	go s.Run(auth)

	cleanup := func() {
		_ = clientConn.Close()
		srv.Close()
	}
	return s, clientConn, cleanup
}

func TestSessionAuthSuccess(t *testing.T) {
	t.Parallel()

	triple := pairing.Triple{Token: "tok", ExtensionID: "ext", InstallID: "inst"}
	tok := &fakeTokenStore{triple: triple, exists: true}
	s, client, cleanup := newServerSession(t, tok, protocol.EndpointIO)
	defer cleanup()

	authFrame := protocol.Encode(protocol.Frame{
		Opcode:    protocol.OpAuth,
		RequestID: 2,
		Payload:   protocol.EncodeAuth(protocol.AuthPayload{Token: "tok", ExtensionID: "ext", InstallID: "inst"}),
	})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, authFrame))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	reply, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.OpAuthResult, reply.Opcode)
	require.Equal(t, uint32(2), reply.RequestID)
	result, err := protocol.DecodeAuthResult(reply.Payload)
	require.NoError(t, err)
	require.Equal(t, byte(0), result.Status)

	require.Eventually(t, s.Authenticated, time.Second, 10*time.Millisecond)
}

func TestSessionAuthFailureWrongTriple(t *testing.T) {
	t.Parallel()

	tok := &fakeTokenStore{triple: pairing.Triple{Token: "real"}, exists: true}
	s, client, cleanup := newServerSession(t, tok, protocol.EndpointIO)
	defer cleanup()

	authFrame := protocol.Encode(protocol.Frame{
		Opcode:    protocol.OpAuth,
		RequestID: 9,
		Payload:   protocol.EncodeAuth(protocol.AuthPayload{Token: "wrong"}),
	})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, authFrame))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	reply, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, uint32(9), reply.RequestID)
	result, err := protocol.DecodeAuthResult(reply.Payload)
	require.NoError(t, err)
	require.Equal(t, byte(1), result.Status)
	require.False(t, s.Authenticated())

	require.Eventually(t, func() bool {
		select {
		case <-s.Done():
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSessionRepliesServerHelloToClientHello(t *testing.T) {
	t.Parallel()

	triple := pairing.Triple{Token: "t"}
	tok := &fakeTokenStore{triple: triple, exists: true}
	s, client, cleanup := newServerSession(t, tok, protocol.EndpointIO)
	defer cleanup()
	_ = s

	helloFrame := protocol.Encode(protocol.Frame{Opcode: protocol.OpClientHello, RequestID: 1})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, helloFrame))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	reply, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.OpServerHello, reply.Opcode)
	require.Equal(t, uint32(1), reply.RequestID)
}

func TestSessionRejectsIOOpcodesOnControlEndpoint(t *testing.T) {
	t.Parallel()

	triple := pairing.Triple{Token: "t"}
	tok := &fakeTokenStore{triple: triple, exists: true}
	s, client, cleanup := newServerSession(t, tok, protocol.EndpointControl)
	defer cleanup()
	_ = s

	authFrame := protocol.Encode(protocol.Frame{Opcode: protocol.OpAuth, Payload: protocol.EncodeAuth(protocol.AuthPayload{Token: "t"})})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, authFrame))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	reply, _ := protocol.Decode(data)
	require.Equal(t, protocol.OpAuthResult, reply.Opcode)

	badFrame := protocol.Encode(protocol.Frame{Opcode: protocol.OpTCPConnect, RequestID: 5})
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, badFrame))
	_, data, err = client.ReadMessage()
	require.NoError(t, err)
	errFrame, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.OpError, errFrame.Opcode)
	require.Equal(t, uint32(5), errFrame.RequestID)
}

func TestSessionSendDropsOnFullQueue(t *testing.T) {
	t.Parallel()

	// Built directly with New, Run is never started: nothing drains
	// s.outgoing, so the queue fills deterministically.
	s := New(&websocket.Conn{}, protocol.EndpointIO, metrics.New())
	for i := 0; i < OutgoingQueueCapacity+50; i++ {
		s.Send(protocol.Frame{Opcode: protocol.OpError, RequestID: uint32(i)})
	}
	require.Equal(t, uint64(50), s.DropCount())
}

func TestNextServerSIDSetsHighBit(t *testing.T) {
	t.Parallel()

	triple := pairing.Triple{Token: "t"}
	tok := &fakeTokenStore{triple: triple, exists: true}
	s, _, cleanup := newServerSession(t, tok, protocol.EndpointIO)
	defer cleanup()

	sid := s.NextServerSID()
	require.NotZero(t, sid&0x10000)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	triple := pairing.Triple{Token: "t"}
	tok := &fakeTokenStore{triple: triple, exists: true}
	s, _, cleanup := newServerSession(t, tok, protocol.EndpointIO)
	defer cleanup()

	require.NotPanics(t, func() {
		s.Close()
		s.Close()
	})
}

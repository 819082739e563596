package vsocket

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kzahel/jstorrentd/admission"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/stretchr/testify/require"
)

// fakeOutbound collects every frame Send is called with, safe for
// concurrent use by the pump goroutines under test.
type fakeOutbound struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (f *fakeOutbound) Send(fr protocol.Frame) {
	f.mu.Lock()
	f.frames = append(f.frames, fr)
	f.mu.Unlock()
}

func (f *fakeOutbound) framesWithOpcode(op protocol.Opcode) []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Frame
	for _, fr := range f.frames {
		if fr.Opcode == op {
			out = append(out, fr)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestConnectorConnectsToListeningServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	out := &fakeOutbound{}
	var stored *TCPStream
	c := &Connector{
		Admission: admission.New(1, nil),
		Outbound:  out,
		OnPending: func(s *TCPStream) { stored = s },
	}

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	port := uint16(portNum)

	c.Connect(1, host, port, 7, func() {})

	waitFor(t, func() bool { return len(out.framesWithOpcode(protocol.OpTCPConnected)) == 1 })
	got := out.framesWithOpcode(protocol.OpTCPConnected)[0]
	payload, err := protocol.DecodeTCPConnected(got.Payload)
	require.NoError(t, err)
	require.Equal(t, byte(0), payload.Status)
	require.Equal(t, uint32(7), got.RequestID)
	require.NotNil(t, stored)
}

func TestConnectorFailsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	out := &fakeOutbound{}
	c := &Connector{
		Admission: admission.New(1, nil),
		Outbound:  out,
		OnPending: func(*TCPStream) {},
	}

	// Port 1 is privileged and refuses connections almost everywhere in CI
	// sandboxes, giving a fast, deterministic connection-refused failure.
	c.Connect(1, "127.0.0.1", 1, 3, func() {})

	waitFor(t, func() bool { return len(out.framesWithOpcode(protocol.OpTCPConnected)) == 1 })
	got := out.framesWithOpcode(protocol.OpTCPConnected)[0]
	payload, err := protocol.DecodeTCPConnected(got.Payload)
	require.NoError(t, err)
	require.Equal(t, byte(1), payload.Status)
	require.Equal(t, uint32(3), got.RequestID)
}

func TestPendingConnectTableCancelAll(t *testing.T) {
	t.Parallel()

	tbl := NewPendingConnectTable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc := &PendingConnect{cancel: cancel, done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		close(pc.done)
	}()
	tbl.Store(1, pc)
	require.Equal(t, 1, tbl.Len())

	tbl.CancelAll()
	require.Equal(t, 0, tbl.Len())
}

func TestTCPStreamActivateEchoesData(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		buf := make([]byte, 64)
		n, err := serverConn.Read(buf)
		if err != nil {
			return
		}
		_, _ = serverConn.Write(buf[:n])
	}()

	out := &fakeOutbound{}
	stream := NewPendingStream(1, clientConn, out, nil)
	stream.Activate([]byte("ping"))

	waitFor(t, func() bool { return len(out.framesWithOpcode(protocol.OpTCPRecv)) >= 1 })
	got := out.framesWithOpcode(protocol.OpTCPRecv)[0]
	recv, err := protocol.DecodeSIDData(got.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(1), recv.SID)
	require.Equal(t, []byte("ping"), recv.Data)
}

func TestTCPListenerAcceptsConnection(t *testing.T) {
	t.Parallel()

	ln, port, err := Listen(0)
	require.NoError(t, err)
	require.NotZero(t, port)

	out := &fakeOutbound{}
	var nextSID uint32 = 1 << 16
	listener := NewListener(100, ln, out, nil, func(*TCPStream) {}, func() uint32 {
		nextSID++
		return nextSID
	})
	defer listener.StopListen()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return len(out.framesWithOpcode(protocol.OpTCPAccept)) == 1 })
	got := out.framesWithOpcode(protocol.OpTCPAccept)[0]
	accept, err := protocol.DecodeTCPAccept(got.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(100), accept.ListenerSID)
}

func TestUDPSocketSendAndReceive(t *testing.T) {
	t.Parallel()

	out1 := &fakeOutbound{}
	sock1, port1, err := Bind(1, 0, out1, nil)
	require.NoError(t, err)
	defer sock1.Close()

	out2 := &fakeOutbound{}
	sock2, port2, err := Bind(2, 0, out2, nil)
	require.NoError(t, err)
	defer sock2.Close()

	sock1.Send("127.0.0.1", port2, []byte("hello"))

	waitFor(t, func() bool { return len(out2.framesWithOpcode(protocol.OpUDPRecv)) == 1 })
	got := out2.framesWithOpcode(protocol.OpUDPRecv)[0]
	dgram, err := protocol.DecodeUDPDatagram(got.Payload)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), dgram.Data)
	_ = port1
}

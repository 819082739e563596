package vsocket

import (
	"net"
	"strconv"
	"sync"

	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/protocol"
)

// TCPListener accepts inbound connections and spawns an active TCPStream
// for each, sharing the session's TCP stream table (spec §4.5).
type TCPListener struct {
	SID      uint32
	ln       net.Listener
	outbound Outbound
	metrics  *metrics.Metrics

	// OnAccept is invoked once per accepted connection with the new stream
	// and its assigned sid, so the session can insert it into tcpStreams
	// before the stream's pumps start delivering frames.
	OnAccept func(*TCPStream)
	// NextSID allocates a fresh server-assigned sid (spec §3: "disjoint
	// high range (bit 16 set)").
	NextSID func() uint32

	stopOnce sync.Once
}

// Listen opens a TCP listener on port (0 for ephemeral) and returns it
// along with the bound port, before any accept loop has started.
func Listen(port uint16) (net.Listener, uint16, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("", portStr(port)))
	if err != nil {
		return nil, 0, err
	}
	boundPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	return ln, boundPort, nil
}

func portStr(port uint16) string {
	return strconv.Itoa(int(port))
}

// NewListener wraps an already-bound net.Listener as a TCPListener and
// starts its accept loop.
func NewListener(sid uint32, ln net.Listener, outbound Outbound, m *metrics.Metrics, onAccept func(*TCPStream), nextSID func() uint32) *TCPListener {
	l := &TCPListener{SID: sid, ln: ln, outbound: outbound, metrics: m, OnAccept: onAccept, NextSID: nextSID}
	if m != nil {
		m.ListenersActive.Inc()
	}
	go l.acceptLoop()
	return l
}

func (l *TCPListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			ApplySocketOptions(tcpConn)
		}
		newSID := l.NextSID()
		stream := NewPendingStream(newSID, conn, l.outbound, l.metrics)
		remoteAddr, remotePort := splitHostPort(conn.RemoteAddr().String())

		l.OnAccept(stream)
		l.outbound.Send(protocol.Frame{
			Opcode: protocol.OpTCPAccept,
			Payload: protocol.EncodeTCPAccept(protocol.TCPAcceptPayload{
				ListenerSID: l.SID,
				NewSID:      newSID,
				RemotePort:  remotePort,
				RemoteAddr:  remoteAddr,
			}),
		})
		// Accepted streams are active immediately, not pending (spec §4.5).
		stream.Activate(nil)
	}
}

// StopListen closes the listening socket and stops the accept loop.
// Accepted streams already installed in tcpStreams continue independently
// (spec §4.5).
func (l *TCPListener) StopListen() {
	l.stopOnce.Do(func() {
		_ = l.ln.Close()
		if l.metrics != nil {
			l.metrics.ListenersActive.Dec()
		}
	})
}

func splitHostPort(addr string) (string, uint16) {
	host, portPart, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.Atoi(portPart)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}

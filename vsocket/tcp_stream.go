package vsocket

import (
	"bufio"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/protocol"
)

// Socket option constants applied to every activated TCP stream, including
// accepted ones (spec §4.4 "Socket options").
const (
	tcpReadBufferBytes = 256 * 1024
	tcpReadTimeout     = 60 * time.Second
	tcpReadChunkBytes  = 128 * 1024
	sendQueueCapacity  = 100
	flushThreshold     = 32 * 1024
	smallWriteBytes    = 1024
)

// TCPCloseReason values carried in a TCP_CLOSE frame.
const (
	CloseReasonNormal byte = 0
	CloseReasonError  byte = 1
)

type pendingSend struct {
	data []byte
}

// TCPStream is a single multiplexed TCP connection: one underlying
// net.Conn, one read pump, one bounded send queue feeding one send pump.
// It starts in a pending state (no pumps running) until Activate or
// ActivateSecure is called, per spec §3's TcpStream lifecycle.
type TCPStream struct {
	SID      uint32
	conn     net.Conn
	outbound Outbound
	metrics  *metrics.Metrics

	sendQueue chan pendingSend
	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	activated bool
	secure    bool
}

// NewPendingStream wraps conn as a not-yet-activated stream. The caller is
// responsible for storing it in the session's pendingTcpSockets table.
func NewPendingStream(sid uint32, conn net.Conn, outbound Outbound, m *metrics.Metrics) *TCPStream {
	return &TCPStream{
		SID:      sid,
		conn:     conn,
		outbound: outbound,
		metrics:  m,
		closed:   make(chan struct{}),
	}
}

// ApplySocketOptions sets the standard options from spec §4.4 on a freshly
// dialed or accepted TCP connection.
func ApplySocketOptions(conn *net.TCPConn) {
	_ = conn.SetNoDelay(true)
	_ = conn.SetReadBuffer(tcpReadBufferBytes)
	_ = conn.SetKeepAlive(true)
}

// Activate moves the stream out of the pending state as plain TCP, starts
// its pumps, and enqueues firstData (the bytes carried on the activating
// TCP_SEND) as the first outbound write. Called at most once.
func (s *TCPStream) Activate(firstData []byte) {
	s.mu.Lock()
	if s.activated {
		s.mu.Unlock()
		return
	}
	s.activated = true
	s.mu.Unlock()

	s.start()
	if len(firstData) > 0 {
		s.Send(firstData)
	}
}

// ActivateSecure performs a TLS handshake over the pending plain connection
// against hostname, then moves the stream to the active, secured state and
// starts its pumps. It reports whether the handshake succeeded.
func (s *TCPStream) ActivateSecure(hostname string, skipVerify bool) bool {
	tlsConn := tls.Client(s.conn, &tls.Config{
		ServerName:         hostname,
		InsecureSkipVerify: skipVerify,
	})
	if err := tlsConn.Handshake(); err != nil {
		return false
	}

	s.mu.Lock()
	s.conn = tlsConn
	s.activated = true
	s.secure = true
	s.mu.Unlock()

	s.start()
	return true
}

// IsActivated reports whether the stream has left the pending state.
func (s *TCPStream) IsActivated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

func (s *TCPStream) start() {
	s.sendQueue = make(chan pendingSend, sendQueueCapacity)
	if s.metrics != nil {
		s.metrics.TCPStreamsActive.Inc()
	}
	go s.readPump()
	go s.sendPump()
}

// Send enqueues data for the send pump. Non-blocking: on a full queue the
// frame is dropped (spec §4.4 "send() is non-blocking; on full queue, the
// frame is dropped and logged").
func (s *TCPStream) Send(data []byte) {
	select {
	case s.sendQueue <- pendingSend{data: data}:
	default:
		if s.metrics != nil {
			s.metrics.FramesDropped.WithLabelValues("tcp_send").Inc()
		}
	}
}

// readPump reads from the underlying connection and emits TCP_RECV frames,
// one per chunk read, until EOF or error. A read timeout is not a
// termination condition (spec §4.4: "idle connections are normal... only
// end-of-stream or error does" terminate).
func (s *TCPStream) readPump() {
	buf := make([]byte, tcpReadChunkBytes)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(tcpReadTimeout))
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.outbound.Send(protocol.Frame{
				Opcode:  protocol.OpTCPRecv,
				Payload: protocol.EncodeSIDData(s.SID, chunk),
			})
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			s.terminate(CloseReasonNormal, 0)
			return
		}
	}
}

// sendPump drains the send queue to the connection. Flush policy: flush
// when the queue momentarily empties, when accumulated pending bytes
// exceed flushThreshold, or when the current item is small (latency
// sensitive), per spec §4.4.
func (s *TCPStream) sendPump() {
	bw := bufio.NewWriterSize(s.conn, flushThreshold*2)
	pending := 0
	for {
		select {
		case item, ok := <-s.sendQueue:
			if !ok {
				_ = bw.Flush()
				return
			}
			if _, err := bw.Write(item.data); err != nil {
				s.terminate(CloseReasonError, 0)
				return
			}
			pending += len(item.data)
			shouldFlush := len(item.data) < smallWriteBytes || pending >= flushThreshold || len(s.sendQueue) == 0
			if shouldFlush {
				if err := bw.Flush(); err != nil {
					s.terminate(CloseReasonError, 0)
					return
				}
				pending = 0
			}
		case <-s.closed:
			return
		}
	}
}

// terminate closes the stream and emits a TCP_CLOSE frame, exactly once.
func (s *TCPStream) terminate(reason byte, errno uint32) {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		if s.metrics != nil {
			s.metrics.TCPStreamsActive.Dec()
		}
		s.outbound.Send(protocol.Frame{
			Opcode:  protocol.OpTCPClose,
			Payload: protocol.EncodeTCPClose(protocol.TCPClosePayload{SID: s.SID, Reason: reason, Errno: errno}),
		})
	})
}

// Close closes the stream idempotently without necessarily having started
// its pumps (used when TCP_CLOSE arrives for a still-pending stream).
func (s *TCPStream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		if s.metrics != nil && s.activated {
			s.metrics.TCPStreamsActive.Dec()
		}
	})
}

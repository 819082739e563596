// Package session implements SessionMux: per-WebSocket-connection state,
// frame dispatch, and the outbound frame queue (spec §4.3). Its inbound
// pump / outbound pump split mirrors the teacher's turbotunnelMode
// goroutine pair in server/lib/http.go — one reader goroutine decoding the
// wire format, one writer goroutine serializing writes to the socket,
// joined by a WaitGroup and a done channel.
package session

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kzahel/jstorrentd/admission"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/kzahel/jstorrentd/vsocket"
)

// OutgoingQueueCapacity is the target capacity of a session's outbound
// frame queue (spec §4.3).
const OutgoingQueueCapacity = 2000

// SlowSendThreshold is the duration above which an outbound write is logged
// as slow, along with its opcode and size (spec §4.3).
const SlowSendThreshold = 50 * time.Millisecond

// Identity is the authenticated triple attached to a session once AUTH
// succeeds.
type Identity struct {
	pairing.Triple
}

// Session is one WebSocket connection and the per-session state it owns
// (spec §3). Every TcpStream, TcpListener, UdpSocket and pending-connect it
// contains is exclusively owned by it; nothing outside the session holds a
// reference after cleanup.
type Session struct {
	conn     *websocket.Conn
	endpoint protocol.Endpoint
	metrics  *metrics.Metrics

	authMu        sync.Mutex
	authenticated bool
	identity      Identity

	sendMu    sync.Mutex
	outgoing  chan []byte
	closed    bool
	drops     atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}

	sidMu         sync.Mutex
	nextServerSID uint32

	TCPStreams        map[uint32]*vsocket.TCPStream
	TCPListeners      map[uint32]*vsocket.TCPListener
	UDPSockets        map[uint32]*vsocket.UDPSocket
	PendingTCPSockets map[uint32]*vsocket.TCPStream
	PendingConnects   *vsocket.PendingConnectTable

	// Admission bounds this session's own outstanding TCP_CONNECT tasks
	// (spec §4.8); each session gets its own budget so one busy session
	// can't starve another's connects.
	Admission *admission.Admission

	tablesMu sync.Mutex

	// OnAuthenticated is invoked once, after a successful AUTH, with the
	// session. Used by ControlChannel to register
	// newly authenticated /control sessions.
	OnAuthenticated func(*Session)
	// OnClose is invoked exactly once, after all owned sockets have been
	// closed, for registries (e.g. ControlChannel) to unregister.
	OnClose func(*Session)
	// OnOpenFolderPicker is invoked when a /control session sends
	// OPEN_FOLDER_PICKER, delegating to interaction.UserInteraction.
	OnOpenFolderPicker func()
}

// New wraps an accepted WebSocket connection as a Session of the given
// endpoint kind.
func New(conn *websocket.Conn, endpoint protocol.Endpoint, m *metrics.Metrics) *Session {
	s := &Session{
		conn:              conn,
		endpoint:          endpoint,
		metrics:           m,
		outgoing:          make(chan []byte, OutgoingQueueCapacity),
		done:              make(chan struct{}),
		TCPStreams:        make(map[uint32]*vsocket.TCPStream),
		TCPListeners:      make(map[uint32]*vsocket.TCPListener),
		UDPSockets:        make(map[uint32]*vsocket.UDPSocket),
		PendingTCPSockets: make(map[uint32]*vsocket.TCPStream),
		PendingConnects:   vsocket.NewPendingConnectTable(),
		Admission:         admission.New(admission.Capacity, m),
	}
	if m != nil {
		m.SessionsOpened.Inc()
	}
	return s
}

// Endpoint reports which endpoint this session was accepted on.
func (s *Session) Endpoint() protocol.Endpoint { return s.endpoint }

// Authenticated reports whether AUTH has succeeded on this session.
func (s *Session) Authenticated() bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.authenticated
}

// Identity returns the authenticated triple, if any.
func (s *Session) Identity() (Identity, bool) {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.identity, s.authenticated
}

// MarkAuthenticated transitions the session to authenticated=true and fires
// OnAuthenticated, per spec §4.2.
func (s *Session) MarkAuthenticated(triple pairing.Triple) {
	s.authMu.Lock()
	s.authenticated = true
	s.identity = Identity{triple}
	s.authMu.Unlock()

	if s.OnAuthenticated != nil {
		s.OnAuthenticated(s)
	}
}

// NextServerSID allocates a fresh server-assigned sid from the high range
// (spec §3: "bit 16 set").
func (s *Session) NextServerSID() uint32 {
	s.sidMu.Lock()
	defer s.sidMu.Unlock()
	s.nextServerSID++
	return s.nextServerSID | vsocket.ServerSIDBit
}

// Send implements vsocket.Outbound: encodes f and enqueues it, non-blocking.
// On a full queue the frame is dropped and the drop counter incremented
// (spec §4.3); drops are never surfaced to the peer. Send is a no-op once
// the session has begun closing, so a socket pump racing Close never sends
// on a closed channel (spec §5: "no frames are sent after session end").
func (s *Session) Send(f protocol.Frame) {
	encoded := protocol.Encode(f)
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.outgoing <- encoded:
	default:
		s.drops.Add(1)
		if s.metrics != nil {
			s.metrics.FramesDropped.WithLabelValues("session_outbound").Inc()
		}
	}
}

// DropCount returns the number of frames dropped from the outbound queue so
// far, for diagnostics.
func (s *Session) DropCount() uint64 { return s.drops.Load() }

// runOutbound drains the outbound queue to the WebSocket, serially, until
// the queue is closed or a write fails. A write error closes the
// connection, which is fatal to the session (spec §4.3, §7).
func (s *Session) runOutbound(wg *sync.WaitGroup) {
	defer wg.Done()
	for encoded := range s.outgoing {
		start := time.Now()
		err := s.conn.WriteMessage(websocket.BinaryMessage, encoded)
		if elapsed := time.Since(start); elapsed > SlowSendThreshold && len(encoded) >= protocol.HeaderLen {
			if s.metrics != nil {
				s.metrics.SlowSends.Inc()
			}
			log.Printf("session: slow send opcode=0x%02x size=%d took=%s", encoded[1], len(encoded), elapsed)
		}
		if err != nil {
			_ = s.conn.Close()
			return
		}
	}
}

// Close tears the session down exactly once: cancels every pending
// connect, closes every owned virtual socket, stops the outbound sender,
// and fires OnClose. Safe to call concurrently and more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.PendingConnects.CancelAll()

		s.tablesMu.Lock()
		for _, st := range s.PendingTCPSockets {
			st.Close()
		}
		for _, st := range s.TCPStreams {
			st.Close()
		}
		for _, l := range s.TCPListeners {
			l.StopListen()
		}
		for _, u := range s.UDPSockets {
			u.Close()
		}
		s.tablesMu.Unlock()

		s.sendMu.Lock()
		s.closed = true
		close(s.outgoing)
		s.sendMu.Unlock()

		_ = s.conn.Close()

		if s.metrics != nil {
			s.metrics.SessionsClosed.Inc()
		}
		if s.OnClose != nil {
			s.OnClose(s)
		}
	})
}

// Done returns a channel closed once the session has begun teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// closeWithCode sends a best-effort WebSocket close control frame carrying
// code, then tears the session down (spec §4.2, §8 scenario 5: a failed
// AUTH gets a policy-violation close, not a silent drop).
func (s *Session) closeWithCode(code int, text string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	s.Close()
}

// Tables access, serialized by tablesMu so that inbound dispatch and
// session teardown never race each other. Entries are removed only by the
// dispatcher (client close, stop-listen, activation) and by Close; a socket
// that terminates on its own, e.g. a TCP stream whose peer hung up, is not
// removed from its table until then.

func (s *Session) StoreTCPStream(sid uint32, st *vsocket.TCPStream) {
	s.tablesMu.Lock()
	s.TCPStreams[sid] = st
	s.tablesMu.Unlock()
}

func (s *Session) RemoveTCPStream(sid uint32) {
	s.tablesMu.Lock()
	delete(s.TCPStreams, sid)
	s.tablesMu.Unlock()
}

func (s *Session) StorePendingTCP(sid uint32, st *vsocket.TCPStream) {
	s.tablesMu.Lock()
	s.PendingTCPSockets[sid] = st
	s.tablesMu.Unlock()
}

func (s *Session) TakePendingTCP(sid uint32) (*vsocket.TCPStream, bool) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	st, ok := s.PendingTCPSockets[sid]
	if ok {
		delete(s.PendingTCPSockets, sid)
	}
	return st, ok
}

func (s *Session) GetPendingTCP(sid uint32) (*vsocket.TCPStream, bool) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	st, ok := s.PendingTCPSockets[sid]
	return st, ok
}

func (s *Session) GetTCPStream(sid uint32) (*vsocket.TCPStream, bool) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	st, ok := s.TCPStreams[sid]
	return st, ok
}

func (s *Session) StoreListener(sid uint32, l *vsocket.TCPListener) {
	s.tablesMu.Lock()
	s.TCPListeners[sid] = l
	s.tablesMu.Unlock()
}

func (s *Session) TakeListener(sid uint32) (*vsocket.TCPListener, bool) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	l, ok := s.TCPListeners[sid]
	if ok {
		delete(s.TCPListeners, sid)
	}
	return l, ok
}

func (s *Session) StoreUDPSocket(sid uint32, u *vsocket.UDPSocket) {
	s.tablesMu.Lock()
	s.UDPSockets[sid] = u
	s.tablesMu.Unlock()
}

func (s *Session) GetUDPSocket(sid uint32) (*vsocket.UDPSocket, bool) {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	u, ok := s.UDPSockets[sid]
	return u, ok
}

func (s *Session) RemoveUDPSocket(sid uint32) {
	s.tablesMu.Lock()
	delete(s.UDPSockets, sid)
	s.tablesMu.Unlock()
}

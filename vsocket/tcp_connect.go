package vsocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kzahel/jstorrentd/admission"
	"github.com/kzahel/jstorrentd/apperr"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/protocol"
)

const (
	admissionWaitTimeout = 5 * time.Second
	tcpConnectTimeout    = 10 * time.Second
)

// PendingConnect tracks one in-flight TCP_CONNECT task, so a subsequent
// TCP_CLOSE for the same sid can cancel it cooperatively (spec §4.4, §5).
type PendingConnect struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests cooperative cancellation and blocks until the task has
// observed it and released any admission permit it held.
func (p *PendingConnect) Cancel() {
	p.cancel()
	<-p.done
}

// Connector runs admission-controlled TCP_CONNECT tasks.
type Connector struct {
	Admission *admission.Admission
	Outbound  Outbound
	Metrics   *metrics.Metrics

	// OnPending stores the resulting stream in the session's
	// pendingTcpSockets table; called only on a successful connect.
	OnPending func(*TCPStream)
}

// Connect spawns the TCP_CONNECT task for sid against host:port, following
// spec §4.4 steps (a)-(d). The returned *PendingConnect must be registered
// in the session's pendingConnects table under sid until the task
// completes (it removes itself via onDone).
func (c *Connector) Connect(sid uint32, host string, port uint16, requestID uint32, onDone func()) *PendingConnect {
	ctx, cancel := context.WithCancel(context.Background())
	pc := &PendingConnect{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(pc.done)
		defer onDone()
		c.run(ctx, sid, host, port, requestID)
	}()

	return pc
}

func (c *Connector) run(ctx context.Context, sid uint32, host string, port uint16, requestID uint32) {
	if host == "" {
		c.reply(sid, requestID, false, 0)
		return
	}

	admitCtx, cancelAdmit := context.WithTimeout(ctx, admissionWaitTimeout)
	defer cancelAdmit()

	release, err := c.Admission.Acquire(admitCtx)
	if err != nil {
		if apperr.Is(err, apperr.KindCancelled) {
			return // no TCP_CONNECTED for a cancelled connect (spec §8 invariant 4)
		}
		c.outcome("timeout")
		c.reply(sid, requestID, false, 0)
		return
	}
	defer release()

	if ctx.Err() != nil {
		return
	}

	addr := net.JoinHostPort(host, portStr(port))
	dialer := net.Dialer{Timeout: tcpConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		c.outcome("failed")
		c.reply(sid, requestID, false, 0)
		return
	}

	if ctx.Err() != nil {
		_ = conn.Close()
		return
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		ApplySocketOptions(tcpConn)
	}

	stream := NewPendingStream(sid, conn, c.Outbound, c.Metrics)
	c.OnPending(stream)
	c.outcome("ok")
	c.reply(sid, requestID, true, 0)
}

func (c *Connector) outcome(label string) {
	if c.Metrics != nil {
		c.Metrics.ConnectsCompleted.WithLabelValues(label).Inc()
	}
}

func (c *Connector) reply(sid, requestID uint32, ok bool, errno uint32) {
	status := byte(1)
	if ok {
		status = 0
	}
	c.Outbound.Send(protocol.Frame{
		Opcode:    protocol.OpTCPConnected,
		RequestID: requestID,
		Payload:   protocol.EncodeTCPConnected(protocol.TCPConnectedPayload{SID: sid, Status: status, Errno: errno}),
	})
}

// PendingConnectTable is a concurrency-safe registry of in-flight connects,
// keyed by sid, bounding total outstanding connects per session (spec §4.4,
// §8 invariant 2).
type PendingConnectTable struct {
	mu    sync.Mutex
	items map[uint32]*PendingConnect
}

func NewPendingConnectTable() *PendingConnectTable {
	return &PendingConnectTable{items: make(map[uint32]*PendingConnect)}
}

func (t *PendingConnectTable) Store(sid uint32, pc *PendingConnect) {
	t.mu.Lock()
	t.items[sid] = pc
	t.mu.Unlock()
}

func (t *PendingConnectTable) Delete(sid uint32) {
	t.mu.Lock()
	delete(t.items, sid)
	t.mu.Unlock()
}

func (t *PendingConnectTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Cancel cancels and removes the pending connect for sid, if any. Reports
// whether one was found.
func (t *PendingConnectTable) Cancel(sid uint32) bool {
	t.mu.Lock()
	pc, ok := t.items[sid]
	delete(t.items, sid)
	t.mu.Unlock()
	if !ok {
		return false
	}
	pc.Cancel()
	return true
}

// CancelAll cancels every pending connect, for session teardown.
func (t *PendingConnectTable) CancelAll() {
	t.mu.Lock()
	items := t.items
	t.items = make(map[uint32]*PendingConnect)
	t.mu.Unlock()
	for _, pc := range items {
		pc.Cancel()
	}
}

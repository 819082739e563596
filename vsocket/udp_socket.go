package vsocket

import (
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/protocol"
	"golang.org/x/net/ipv4"
)

const (
	udpReadTimeout    = 60 * time.Second
	udpMaxDatagram    = 65535
	udpSendQueueDepth = 100
	multicastTTL      = 1
)

type udpSendItem struct {
	addr string
	port uint16
	data []byte
}

// UDPSocket is a single multiplexed UDP socket: bind, optional multicast
// group membership, a receive pump, and a send pump draining a bounded
// queue of destination+payload tuples (spec §4.6).
type UDPSocket struct {
	SID      uint32
	conn     *net.UDPConn
	pconn    *ipv4.PacketConn
	outbound Outbound
	metrics  *metrics.Metrics

	sendQueue chan udpSendItem
	closeOnce sync.Once
	closed    chan struct{}
}

// Bind opens a UDP socket on port (0 for ephemeral), fixes the multicast
// TTL to 1 (LAN-only, spec §3), and starts its pumps.
func Bind(sid uint32, port uint16, outbound Outbound, m *metrics.Metrics) (*UDPSocket, uint16, error) {
	addr := &net.UDPAddr{Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, 0, err
	}

	pconn := ipv4.NewPacketConn(conn)
	_ = pconn.SetMulticastTTL(multicastTTL)

	boundPort := uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	u := &UDPSocket{
		SID: sid, conn: conn, pconn: pconn, outbound: outbound, metrics: m,
		sendQueue: make(chan udpSendItem, udpSendQueueDepth),
		closed:    make(chan struct{}),
	}
	if m != nil {
		m.UDPSocketsActive.Inc()
	}
	go u.receivePump()
	go u.sendPump()
	return u, boundPort, nil
}

func (u *UDPSocket) receivePump() {
	buf := make([]byte, udpMaxDatagram)
	for {
		_ = u.conn.SetReadDeadline(time.Now().Add(udpReadTimeout))
		n, srcAddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				select {
				case <-u.closed:
					return
				default:
					continue
				}
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		u.outbound.Send(protocol.Frame{
			Opcode: protocol.OpUDPRecv,
			Payload: protocol.EncodeUDPDatagram(protocol.UDPDatagramPayload{
				SID: u.SID, Port: uint16(srcAddr.Port), Addr: srcAddr.IP.String(), Data: data,
			}),
		})
	}
}

func (u *UDPSocket) sendPump() {
	for {
		select {
		case item := <-u.sendQueue:
			dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(item.addr, strconv.Itoa(int(item.port))))
			if err != nil {
				log.Printf("vsocket: udp sid=%d unresolvable destination %s: %v", u.SID, item.addr, err)
				continue
			}
			if _, err := u.conn.WriteToUDP(item.data, dst); err != nil {
				log.Printf("vsocket: udp sid=%d write to %s failed: %v", u.SID, dst, err)
			}
		case <-u.closed:
			return
		}
	}
}

// Send enqueues a datagram for delivery. Non-blocking; drops on a full
// queue (same policy as TCPStream.Send).
func (u *UDPSocket) Send(addr string, port uint16, data []byte) {
	select {
	case u.sendQueue <- udpSendItem{addr: addr, port: port, data: data}:
	default:
		if u.metrics != nil {
			u.metrics.FramesDropped.WithLabelValues("udp_send").Inc()
		}
	}
}

// JoinMulticast joins groupAddr, best-effort (spec §4.6: "failures are
// logged but not reported").
func (u *UDPSocket) JoinMulticast(groupAddr string) {
	ip := net.ParseIP(groupAddr)
	if ip == nil {
		log.Printf("vsocket: udp sid=%d invalid multicast group %q", u.SID, groupAddr)
		return
	}
	if err := u.pconn.JoinGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
		log.Printf("vsocket: udp sid=%d join group %s failed: %v", u.SID, groupAddr, err)
	}
}

// LeaveMulticast leaves groupAddr, best-effort.
func (u *UDPSocket) LeaveMulticast(groupAddr string) {
	ip := net.ParseIP(groupAddr)
	if ip == nil {
		return
	}
	if err := u.pconn.LeaveGroup(nil, &net.UDPAddr{IP: ip}); err != nil {
		log.Printf("vsocket: udp sid=%d leave group %s failed: %v", u.SID, groupAddr, err)
	}
}

// Close closes the socket idempotently.
func (u *UDPSocket) Close() {
	u.closeOnce.Do(func() {
		close(u.closed)
		_ = u.conn.Close()
		if u.metrics != nil {
			u.metrics.UDPSocketsActive.Dec()
		}
	})
}

// Package vsocket implements the per-virtual-socket handlers multiplexed
// over a session's WebSocket: TCP streams (client-initiated and
// server-accepted), TCP listeners, and UDP sockets (spec §4.4–§4.6). Each
// handler owns its own read/send pump goroutines, mirroring the
// reader-goroutine / writer-goroutine pair in the teacher's
// turbotunnelMode (server/lib/http.go).
package vsocket

import "github.com/kzahel/jstorrentd/protocol"

// Outbound is a session's non-blocking frame sink. Send must never block:
// implementations enqueue on a bounded queue and drop on overflow (spec
// §4.3). Handlers in this package never depend on Send succeeding.
type Outbound interface {
	Send(f protocol.Frame)
}

// ServerSIDBit marks server-assigned sids (TCP_ACCEPT) as distinct from the
// client-chosen sids used for TCP_CONNECT/UDP_BIND/TCP_LISTEN (spec §3:
// "server-assigned sids from a disjoint high range (bit 16 set)").
const ServerSIDBit uint32 = 1 << 16

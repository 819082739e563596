package session

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/kzahel/jstorrentd/admission"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/kzahel/jstorrentd/vsocket"
)

// Run drives the session to completion: it starts the outbound pump, then
// reads frames off the WebSocket until the peer disconnects or a fatal
// protocol error occurs, dispatching each to handleFrame. It blocks until
// both pumps have exited, mirroring the teacher's turbotunnelMode Join
// pattern in server/lib/http.go.
func (s *Session) Run(auth *pairing.Authenticator) {
	var wg sync.WaitGroup
	wg.Add(1)
	go s.runOutbound(&wg)

	d := &dispatcher{session: s, auth: auth}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		f, err := protocol.Decode(data)
		if err != nil {
			if bv, ok := err.(*protocol.ErrBadVersion); ok {
				s.Send(protocol.ErrorFrame(bv.RequestID, "unsupported version"))
			}
			continue
		}
		d.handle(f)
	}

	s.Close()
	wg.Wait()
}

// dispatcher holds the per-connection handler wiring; kept separate from
// Session so Session's field list stays focused on state, not behavior.
type dispatcher struct {
	session *Session
	auth    *pairing.Authenticator
}

func (d *dispatcher) handle(f protocol.Frame) {
	s := d.session

	if !f.Opcode.IsLegalOn(s.endpoint) {
		s.Send(protocol.ErrorFrame(f.RequestID, "opcode not legal on this endpoint"))
		return
	}

	if f.Opcode == protocol.OpAuth {
		if s.Authenticated() {
			return // handshake opcodes after authentication are ignored
		}
		d.handleAuth(f)
		return
	}

	if !s.Authenticated() && f.Opcode != protocol.OpClientHello && f.Opcode != protocol.OpServerHello {
		s.Send(protocol.ErrorFrame(f.RequestID, "not authenticated"))
		return
	}

	switch f.Opcode {
	case protocol.OpClientHello:
		s.Send(protocol.Frame{Opcode: protocol.OpServerHello, RequestID: f.RequestID})
	case protocol.OpServerHello:
		// Server-direction opcode; a conforming client never sends one.
	case protocol.OpTCPConnect:
		d.handleTCPConnect(f)
	case protocol.OpTCPSend:
		d.handleTCPSend(f)
	case protocol.OpTCPClose:
		d.handleTCPClose(f)
	case protocol.OpTCPListen:
		d.handleTCPListen(f)
	case protocol.OpTCPStopListen:
		d.handleTCPStopListen(f)
	case protocol.OpTCPSecure:
		d.handleTCPSecure(f)
	case protocol.OpUDPBind:
		d.handleUDPBind(f)
	case protocol.OpUDPSend:
		d.handleUDPSend(f)
	case protocol.OpUDPClose:
		d.handleUDPClose(f)
	case protocol.OpUDPJoinMulticast:
		d.handleUDPMulticast(f, true)
	case protocol.OpUDPLeaveMulticast:
		d.handleUDPMulticast(f, false)
	case protocol.OpOpenFolderPicker:
		if s.OnOpenFolderPicker != nil {
			s.OnOpenFolderPicker()
		}
	default:
		s.Send(protocol.ErrorFrame(f.RequestID, "unknown opcode"))
	}
}

func (d *dispatcher) handleAuth(f protocol.Frame) {
	s := d.session
	triple, ok, err := d.auth.Authenticate(f.Payload)
	if err != nil {
		s.Send(protocol.Frame{
			Opcode:    protocol.OpAuthResult,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeAuthResult(protocol.AuthResultPayload{Status: 1, Reason: "malformed auth frame"}),
		})
		s.closeWithCode(AuthFailureCloseCode, "auth failed")
		return
	}
	if !ok {
		if s.metrics != nil {
			s.metrics.AuthFailures.Inc()
		}
		s.Send(protocol.Frame{
			Opcode:    protocol.OpAuthResult,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeAuthResult(protocol.AuthResultPayload{Status: 1, Reason: "triple mismatch"}),
		})
		s.closeWithCode(AuthFailureCloseCode, "auth failed")
		return
	}
	s.MarkAuthenticated(triple)
	s.Send(protocol.Frame{
		Opcode:    protocol.OpAuthResult,
		RequestID: f.RequestID,
		Payload:   protocol.EncodeAuthResult(protocol.AuthResultPayload{Status: 0}),
	})
}

func (d *dispatcher) handleTCPConnect(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeTCPConnect(f.Payload)
	if err != nil {
		return
	}

	if s.PendingConnects.Len() >= admission.FastFailThreshold {
		s.Send(protocol.Frame{
			Opcode:    protocol.OpTCPConnected,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeTCPConnected(protocol.TCPConnectedPayload{SID: p.SID, Status: 1}),
		})
		return
	}

	connector := &vsocket.Connector{
		Admission: s.Admission,
		Outbound:  s,
		Metrics:   s.metrics,
		OnPending: func(st *vsocket.TCPStream) { s.StorePendingTCP(p.SID, st) },
	}
	if s.metrics != nil {
		s.metrics.AdmissionPending.Inc()
	}
	pc := connector.Connect(p.SID, p.Hostname, p.Port, f.RequestID, func() {
		s.PendingConnects.Delete(p.SID)
		if s.metrics != nil {
			s.metrics.AdmissionPending.Dec()
		}
	})
	s.PendingConnects.Store(p.SID, pc)
}

func (d *dispatcher) handleTCPSend(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeSIDData(f.Payload)
	if err != nil {
		return
	}
	if st, ok := s.GetTCPStream(p.SID); ok {
		st.Send(p.Data)
		return
	}
	if st, ok := s.TakePendingTCP(p.SID); ok {
		st.Activate(p.Data)
		s.StoreTCPStream(p.SID, st)
	}
}

func (d *dispatcher) handleTCPClose(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeTCPClose(f.Payload)
	if err != nil {
		return
	}
	if s.PendingConnects.Cancel(p.SID) {
		return
	}
	if st, ok := s.TakePendingTCP(p.SID); ok {
		st.Close()
		return
	}
	if st, ok := s.GetTCPStream(p.SID); ok {
		st.Close()
		s.RemoveTCPStream(p.SID)
	}
}

func (d *dispatcher) handleTCPListen(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeTCPListen(f.Payload)
	if err != nil {
		return
	}
	ln, boundPort, err := vsocket.Listen(p.Port)
	if err != nil {
		s.Send(protocol.Frame{
			Opcode:    protocol.OpTCPListenResult,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeTCPListenResult(protocol.TCPListenResultPayload{SID: p.SID, Status: 1}),
		})
		return
	}
	listener := vsocket.NewListener(p.SID, ln, s, s.metrics,
		func(st *vsocket.TCPStream) { s.StoreTCPStream(st.SID, st) },
		s.NextServerSID,
	)
	s.StoreListener(p.SID, listener)
	s.Send(protocol.Frame{
		Opcode:    protocol.OpTCPListenResult,
		RequestID: f.RequestID,
		Payload: protocol.EncodeTCPListenResult(protocol.TCPListenResultPayload{
			SID: p.SID, Status: 0, BoundPort: boundPort,
		}),
	})
}

func (d *dispatcher) handleTCPStopListen(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeTCPClose(f.Payload)
	if err != nil {
		return
	}
	if l, ok := s.TakeListener(p.SID); ok {
		l.StopListen()
	}
}

func (d *dispatcher) handleTCPSecure(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeTCPSecure(f.Payload)
	if err != nil {
		return
	}
	st, ok := s.TakePendingTCP(p.SID)
	if !ok {
		s.Send(protocol.Frame{
			Opcode:    protocol.OpTCPSecured,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeTCPSecured(protocol.TCPSecuredPayload{SID: p.SID, Status: 1}),
		})
		return
	}
	ok2 := st.ActivateSecure(p.Hostname, p.SkipVerify())
	status := byte(1)
	if ok2 {
		status = 0
		s.StoreTCPStream(p.SID, st)
	} else {
		st.Close()
	}
	s.Send(protocol.Frame{
		Opcode:    protocol.OpTCPSecured,
		RequestID: f.RequestID,
		Payload:   protocol.EncodeTCPSecured(protocol.TCPSecuredPayload{SID: p.SID, Status: status}),
	})
}

func (d *dispatcher) handleUDPBind(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeUDPBind(f.Payload)
	if err != nil {
		return
	}
	u, boundPort, err := vsocket.Bind(p.SID, p.Port, s, s.metrics)
	if err != nil {
		s.Send(protocol.Frame{
			Opcode:    protocol.OpUDPBound,
			RequestID: f.RequestID,
			Payload:   protocol.EncodeUDPBound(protocol.UDPBoundPayload{SID: p.SID, Status: 1}),
		})
		return
	}
	s.StoreUDPSocket(p.SID, u)
	s.Send(protocol.Frame{
		Opcode:    protocol.OpUDPBound,
		RequestID: f.RequestID,
		Payload: protocol.EncodeUDPBound(protocol.UDPBoundPayload{
			SID: p.SID, Status: 0, BoundPort: boundPort,
		}),
	})
}

func (d *dispatcher) handleUDPSend(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeUDPDatagram(f.Payload)
	if err != nil {
		return
	}
	if u, ok := s.GetUDPSocket(p.SID); ok {
		u.Send(p.Addr, p.Port, p.Data)
	}
}

func (d *dispatcher) handleUDPClose(f protocol.Frame) {
	s := d.session
	p, err := protocol.DecodeSIDData(f.Payload)
	if err != nil {
		return
	}
	if u, ok := s.GetUDPSocket(p.SID); ok {
		u.Close()
		s.RemoveUDPSocket(p.SID)
	}
}

func (d *dispatcher) handleUDPMulticast(f protocol.Frame, join bool) {
	s := d.session
	p, err := protocol.DecodeUDPMulticast(f.Payload)
	if err != nil {
		return
	}
	u, ok := s.GetUDPSocket(p.SID)
	if !ok {
		return
	}
	if join {
		u.JoinMulticast(p.GroupAddr)
	} else {
		u.LeaveMulticast(p.GroupAddr)
	}
}

// AuthFailureCloseCode is the WebSocket close code sent when AUTH fails or
// is malformed, immediately before the session is torn down (spec §4.2, §8
// scenario 5).
const AuthFailureCloseCode = websocket.ClosePolicyViolation

// Package daemon wires the HTTP router: WebSocket upgrades for /io and
// /control, the /status presence probe, /read and /write (fileio), and the
// loopback-only /internal/metrics exposition. It is the outermost layer
// named in spec §2's dependency order ("HTTP router (carries
// FileRangeEndpoint and upgrades to SessionMux)").
package daemon

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/kzahel/jstorrentd/common/version"
	"github.com/kzahel/jstorrentd/control"
	"github.com/kzahel/jstorrentd/fileio"
	"github.com/kzahel/jstorrentd/ipresolve"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/kzahel/jstorrentd/session"
)

// requiredFileOrigin is the only Origin accepted on the file endpoints (spec
// §6: "Non-loopback origins MUST be rejected... requiring the value to
// start with the approved extension-origin scheme").
const requiredFileOrigin = "chrome-extension://"

// Daemon holds the HTTP router's dependencies and the control-channel
// registry for the lifetime of the process; the http.Server that serves
// Handler is built and run by the caller. Each accepted session owns its own admission
// budget (spec §4.8).
type Daemon struct {
	Auth    *pairing.Authenticator
	Control *control.Channel
	FileIO  *fileio.Endpoint
	Metrics *metrics.Metrics
	Token   pairing.TokenStore

	// Port is the daemon's own bound listening port, reported by /status.
	// Set by the caller once the listener is bound (cmd/jstorrentd).
	Port int

	upgrader websocket.Upgrader
}

// New constructs a Daemon with its router dependencies. The WebSocket
// upgrader never checks Origin (spec §6: "the WebSocket endpoints rely on
// the in-band AUTH handshake and do not require an Origin check").
func New(auth *pairing.Authenticator, ctrl *control.Channel, fio *fileio.Endpoint, m *metrics.Metrics, token pairing.TokenStore) *Daemon {
	return &Daemon{
		Auth: auth, Control: ctrl, FileIO: fio, Metrics: m, Token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the daemon's top-level http.Handler.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/io", d.handleIO)
	mux.HandleFunc("/control", d.handleControl)
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/read/", d.handleRead)
	mux.HandleFunc("/write/", d.handleWrite)
	mux.Handle("/internal/metrics", loopbackOnly(d.Metrics.Handler()))
	return mux
}

func (d *Daemon) handleIO(w http.ResponseWriter, r *http.Request) {
	d.upgradeAndRun(w, r, protocol.EndpointIO)
}

func (d *Daemon) handleControl(w http.ResponseWriter, r *http.Request) {
	d.upgradeAndRun(w, r, protocol.EndpointControl)
}

func (d *Daemon) upgradeAndRun(w http.ResponseWriter, r *http.Request, endpoint protocol.Endpoint) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("daemon: upgrade from %s failed: %v", ipresolve.ClientIP(r), err)
		return
	}

	s := session.New(conn, endpoint, d.Metrics)
	if endpoint == protocol.EndpointControl {
		s.OnOpenFolderPicker = d.Control.HandleOpenFolderPicker
	}
	wireControlRegistration(s, d.Control, endpoint)

	s.Run(d.Auth)
}

// wireControlRegistration installs the OnAuthenticated/OnClose hooks that
// register and unregister a /control session with the control channel (spec
// §4.2: "if the endpoint is /control, registers with ControlChannel").
func wireControlRegistration(s *session.Session, ctrl *control.Channel, endpoint protocol.Endpoint) {
	if endpoint != protocol.EndpointControl {
		return
	}
	s.OnAuthenticated = func(sess *session.Session) { ctrl.Register(sess) }
	s.OnClose = func(sess *session.Session) { ctrl.Unregister(sess) }
}

type statusResponse struct {
	Port    int    `json:"port"`
	Paired  bool   `json:"paired"`
	Version string `json:"version"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, paired := d.Token.Current()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{Port: d.Port, Paired: paired, Version: version.GetVersion()})
}

func (d *Daemon) handleRead(w http.ResponseWriter, r *http.Request) {
	if !checkFileOrigin(w, r) {
		return
	}
	rootKey := strings.TrimPrefix(r.URL.Path, "/read/")
	d.FileIO.ServeRead(w, r, rootKey)
}

func (d *Daemon) handleWrite(w http.ResponseWriter, r *http.Request) {
	if !checkFileOrigin(w, r) {
		return
	}
	rootKey := strings.TrimPrefix(r.URL.Path, "/write/")
	d.FileIO.ServeWrite(w, r, rootKey)
}

func checkFileOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin != "" && !strings.HasPrefix(origin, requiredFileOrigin) {
		http.Error(w, "forbidden origin", http.StatusForbidden)
		return false
	}
	return true
}

// loopbackOnly wraps h so only requests from 127.0.0.1/::1 are served,
// matching proxy/lib/metrics.go's own loopback-only metrics exposition.
func loopbackOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Package control implements ControlChannel: the broadcast-only side of the
// protocol carried on /control sessions (spec §4.9). It holds weak
// references, by session identity, to every authenticated control session
// and fans root-change and application-event notifications out to all of
// them.
package control

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/kzahel/jstorrentd/interaction"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/kzahel/jstorrentd/rootstore"
)

// Sender is the subset of session.Session a broadcast target needs: enqueue
// a frame on its outbound queue, non-blocking.
type Sender interface {
	Send(f protocol.Frame)
}

// rootView mirrors the JSON shape spec.md §4.1 assigns to ROOTS_CHANGED:
// {key, uri, displayName, removable, lastStatOk, lastChecked}.
type rootView struct {
	Key         string `json:"key"`
	URI         string `json:"uri"`
	DisplayName string `json:"displayName"`
	Removable   bool   `json:"removable"`
	LastStatOK  bool   `json:"lastStatOk"`
	LastChecked int64  `json:"lastChecked"`
}

// eventView mirrors EVENT's JSON shape: {event, payload}.
type eventView struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Channel is the session registry and broadcast mechanism for /control.
type Channel struct {
	interaction interaction.UserInteraction

	mu       sync.Mutex
	sessions map[Sender]struct{}
}

// New constructs a Channel delegating OPEN_FOLDER_PICKER to ui.
func New(ui interaction.UserInteraction) *Channel {
	return &Channel{interaction: ui, sessions: make(map[Sender]struct{})}
}

// Register adds s to the broadcast set. Called once a /control session
// authenticates (spec §4.2: "if the endpoint is /control, registers with
// ControlChannel").
func (c *Channel) Register(s Sender) {
	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()
}

// Unregister removes s from the broadcast set, on session end.
func (c *Channel) Unregister(s Sender) {
	c.mu.Lock()
	delete(c.sessions, s)
	c.mu.Unlock()
}

// BroadcastRootsChanged encodes roots as the ROOTS_CHANGED JSON array and
// enqueues it on every registered session.
func (c *Channel) BroadcastRootsChanged(roots []rootstore.Root) {
	views := make([]rootView, len(roots))
	for i, r := range roots {
		views[i] = rootView{
			Key: r.Key, URI: r.URI, DisplayName: r.DisplayName,
			Removable: r.Removable, LastStatOK: r.LastStatOK,
			LastChecked: r.LastChecked.Unix(),
		}
	}
	payload, err := json.Marshal(views)
	if err != nil {
		log.Printf("control: marshal ROOTS_CHANGED: %v", err)
		return
	}
	c.broadcast(protocol.Frame{Opcode: protocol.OpRootsChanged, Payload: payload})
}

// BroadcastEvent encodes {event, payload} as EVENT and enqueues it on every
// registered session. payload must be JSON-marshalable.
func (c *Channel) BroadcastEvent(name string, payload any) {
	encoded, err := json.Marshal(eventView{Event: name, Payload: payload})
	if err != nil {
		log.Printf("control: marshal EVENT %q: %v", name, err)
		return
	}
	c.broadcast(protocol.Frame{Opcode: protocol.OpEvent, Payload: encoded})
}

func (c *Channel) broadcast(f protocol.Frame) {
	c.mu.Lock()
	targets := make([]Sender, 0, len(c.sessions))
	for s := range c.sessions {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.Send(f)
	}
}

// HandleOpenFolderPicker responds to OPEN_FOLDER_PICKER from an
// authenticated control session by delegating to the GUI. The GUI is
// expected to eventually cause a BroadcastRootsChanged once the user grants
// or cancels (spec §4.9).
func (c *Channel) HandleOpenFolderPicker() {
	c.interaction.OpenFolderPicker()
}

package control

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kzahel/jstorrentd/interaction"
	"github.com/kzahel/jstorrentd/protocol"
	"github.com/kzahel/jstorrentd/rootstore"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (f *fakeSender) Send(fr protocol.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
}

func (f *fakeSender) last() protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[len(f.frames)-1]
}

type fakeUI struct{ opened int }

func (f *fakeUI) ShowPairingApproval(interaction.PairingTriple, bool, func(bool)) {}
func (f *fakeUI) OpenFolderPicker()                                              { f.opened++ }

func TestBroadcastRootsChangedReachesAllRegistered(t *testing.T) {
	t.Parallel()

	ch := New(&fakeUI{})
	a, b := &fakeSender{}, &fakeSender{}
	ch.Register(a)
	ch.Register(b)

	ch.BroadcastRootsChanged([]rootstore.Root{
		{Key: "root1", URI: "file:///mnt/root1", DisplayName: "Root 1", LastChecked: time.Unix(100, 0)},
	})

	for _, s := range []*fakeSender{a, b} {
		f := s.last()
		require.Equal(t, protocol.OpRootsChanged, f.Opcode)
		var views []rootView
		require.NoError(t, json.Unmarshal(f.Payload, &views))
		require.Len(t, views, 1)
		require.Equal(t, "root1", views[0].Key)
		require.Equal(t, "file:///mnt/root1", views[0].URI)
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	t.Parallel()

	ch := New(&fakeUI{})
	a := &fakeSender{}
	ch.Register(a)
	ch.Unregister(a)

	ch.BroadcastEvent("torrent.added", map[string]string{"id": "abc"})
	require.Empty(t, a.frames)
}

func TestBroadcastEventShape(t *testing.T) {
	t.Parallel()

	ch := New(&fakeUI{})
	a := &fakeSender{}
	ch.Register(a)

	ch.BroadcastEvent("disk.low", map[string]any{"bytesFree": 100})
	f := a.last()
	require.Equal(t, protocol.OpEvent, f.Opcode)
	var ev eventView
	require.NoError(t, json.Unmarshal(f.Payload, &ev))
	require.Equal(t, "disk.low", ev.Event)
}

func TestHandleOpenFolderPickerDelegatesToUI(t *testing.T) {
	t.Parallel()

	ui := &fakeUI{}
	ch := New(ui)
	ch.HandleOpenFolderPicker()
	require.Equal(t, 1, ui.opened)
}

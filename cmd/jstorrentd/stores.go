package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kzahel/jstorrentd/interaction"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/rootstore"
)

// fileTokenStore persists the single pairing triple to a JSON file under a
// namespaced path, standing in for whatever secure local key-value store the
// host platform provides (spec §6); the core only ever talks to the
// TokenStore interface, never to this concrete type.
type fileTokenStore struct {
	path string

	mu     sync.Mutex
	triple pairing.Triple
	exists bool
}

func newFileTokenStore(path string) *fileTokenStore {
	s := &fileTokenStore{path: path}
	if data, err := os.ReadFile(path); err == nil {
		var t pairing.Triple
		if json.Unmarshal(data, &t) == nil {
			s.triple, s.exists = t, true
		}
	}
	return s
}

func (s *fileTokenStore) Current() (pairing.Triple, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triple, s.exists
}

func (s *fileTokenStore) Replace(triple pairing.Triple) error {
	data, err := json.Marshal(triple)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	s.mu.Lock()
	s.triple, s.exists = triple, true
	s.mu.Unlock()
	return nil
}

// dirHandle resolves a path within a single root directory.
type dirHandle struct{ base string }

func (h dirHandle) Resolve(relPath string) (string, error) {
	return filepath.Join(h.base, filepath.FromSlash(relPath)), nil
}

// staticRootStore serves a fixed set of directories given on the command
// line as the granted roots, standing in for the external root-granting
// subsystem (spec §1).
type staticRootStore struct {
	mu    sync.Mutex
	roots map[string]string // key -> absolute directory
}

func newStaticRootStore(dirs map[string]string) *staticRootStore {
	return &staticRootStore{roots: dirs}
}

func (s *staticRootStore) ListRoots() []rootstore.Root {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rootstore.Root, 0, len(s.roots))
	for key, dir := range s.roots {
		_, err := os.Stat(dir)
		out = append(out, rootstore.Root{
			Key: key, URI: "file://" + dir, DisplayName: filepath.Base(dir),
			LastStatOK: err == nil, LastChecked: time.Now(),
		})
	}
	return out
}

func (s *staticRootStore) ResolveKey(key string) (rootstore.Handle, error) {
	s.mu.Lock()
	dir, ok := s.roots[key]
	s.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	return dirHandle{base: dir}, nil
}

func (s *staticRootStore) RefreshAvailability() []rootstore.Root {
	return s.ListRoots()
}

// logOnlyInteraction auto-approves every pairing request and logs folder
// picker requests, standing in for the GUI (spec §1). A real desktop build
// wires interaction.UserInteraction to its own approval dialog instead.
type logOnlyInteraction struct{}

func (logOnlyInteraction) ShowPairingApproval(triple interaction.PairingTriple, isReplace bool, onResult func(approved bool)) {
	log.Printf("pairing: auto-approving %+v (replace=%v); run with a real UserInteraction for interactive approval", triple, isReplace)
	onResult(true)
}

func (logOnlyInteraction) OpenFolderPicker() {
	log.Printf("pairing: OPEN_FOLDER_PICKER received; no interactive folder picker wired, ignoring")
}

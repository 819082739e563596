package fileio

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/rootstore"
	"github.com/stretchr/testify/require"
)

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

type fakeHandle struct{ base string }

func (h fakeHandle) Resolve(relPath string) (string, error) {
	return filepath.Join(h.base, relPath), nil
}

type fakeRoots struct{ base string }

func (f fakeRoots) ListRoots() []rootstore.Root { return nil }
func (f fakeRoots) ResolveKey(key string) (rootstore.Handle, error) {
	return fakeHandle{base: f.base}, nil
}
func (f fakeRoots) RefreshAvailability() []rootstore.Root { return nil }

type fakeTokenStore struct{ triple pairing.Triple }

func (f *fakeTokenStore) Current() (pairing.Triple, bool) { return f.triple, true }
func (f *fakeTokenStore) Replace(t pairing.Triple) error  { f.triple = t; return nil }

func newEndpoint(t *testing.T) (*Endpoint, string) {
	t.Helper()
	dir := t.TempDir()
	tok := &fakeTokenStore{triple: pairing.Triple{Token: "secret"}}
	return New(fakeRoots{base: dir}, tok, nil), dir
}

func doRequest(t *testing.T, ep *Endpoint, method, path, rel string, headers map[string]string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rdr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytesReader(body))
	req.Header.Set("X-JST-Auth", "secret")
	req.Header.Set("X-Path-Base64", base64.StdEncoding.EncodeToString([]byte(rel)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if method == http.MethodGet {
		ep.ServeRead(rdr, req, "root1")
	} else {
		ep.ServeWrite(rdr, req, "root1")
	}
	return rdr
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	t.Parallel()
	ep, _ := newEndpoint(t)

	data := []byte("hello world")
	w := doRequest(t, ep, http.MethodPost, "/write/root1", "sub/file.bin", map[string]string{"X-Offset": "0"}, data)
	require.Equal(t, http.StatusOK, w.Code)

	r := doRequest(t, ep, http.MethodGet, "/read/root1", "sub/file.bin", map[string]string{"X-Offset": "0", "X-Length": "11"}, nil)
	require.Equal(t, http.StatusOK, r.Code)
	require.Equal(t, data, r.Body.Bytes())
}

func TestWriteHashMismatchConflict(t *testing.T) {
	t.Parallel()
	ep, _ := newEndpoint(t)

	w := doRequest(t, ep, http.MethodPost, "/write/root1", "f.bin", map[string]string{
		"X-Offset": "0", "X-Expected-SHA1": "0000000000000000000000000000000000000000",
	}, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestWriteHashMatchSucceeds(t *testing.T) {
	t.Parallel()
	ep, _ := newEndpoint(t)

	body := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sum := sha1.Sum(body)
	w := doRequest(t, ep, http.MethodPost, "/write/root1", "f.bin", map[string]string{
		"X-Offset": "0", "X-Expected-SHA1": hex.EncodeToString(sum[:]),
	}, body)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestReadPathTraversalRejected(t *testing.T) {
	t.Parallel()
	ep, _ := newEndpoint(t)

	r := doRequest(t, ep, http.MethodGet, "/read/root1", "../etc/passwd", map[string]string{"X-Length": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, r.Code)
}

func TestReadZeroLengthReturnsEmptyBody(t *testing.T) {
	t.Parallel()
	ep, dir := newEndpoint(t)
	_ = dir

	doRequest(t, ep, http.MethodPost, "/write/root1", "f.bin", map[string]string{"X-Offset": "0"}, []byte("x"))
	r := doRequest(t, ep, http.MethodGet, "/read/root1", "f.bin", map[string]string{"X-Length": "0"}, nil)
	require.Equal(t, http.StatusOK, r.Code)
	require.Empty(t, r.Body.Bytes())
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	t.Parallel()
	ep, _ := newEndpoint(t)

	req := httptest.NewRequest(http.MethodGet, "/read/root1", nil)
	req.Header.Set("X-Path-Base64", base64.StdEncoding.EncodeToString([]byte("f.bin")))
	req.Header.Set("X-Length", "1")
	rdr := httptest.NewRecorder()
	ep.ServeRead(rdr, req, "root1")
	require.Equal(t, http.StatusUnauthorized, rdr.Code)
}

// Package fileio implements FileRangeEndpoint: the byte-range read and
// offset-addressed write HTTP surface against a named, user-granted storage
// root (spec §4.7). It never lists directories and never watches for
// changes — it only resolves one path at a time through rootstore.Store.
package fileio

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"syscall"

	"github.com/kzahel/jstorrentd/ipresolve"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/pairing"
	"github.com/kzahel/jstorrentd/rootstore"
)

// MaxWriteBody is the largest request body /write accepts (spec §4.7).
const MaxWriteBody = 64 * 1024 * 1024

// Endpoint serves GET /read/{rootKey} and POST /write/{rootKey}.
type Endpoint struct {
	Roots   rootstore.Store
	Token   pairing.TokenStore
	Metrics *metrics.Metrics
}

// New constructs an Endpoint.
func New(roots rootstore.Store, token pairing.TokenStore, m *metrics.Metrics) *Endpoint {
	return &Endpoint{Roots: roots, Token: token, Metrics: m}
}

// ServeRead handles GET /read/{rootKey}.
func (e *Endpoint) ServeRead(w http.ResponseWriter, r *http.Request, rootKey string) {
	if !e.checkAuth(w, r) {
		return
	}

	relPath, ok := decodePath(w, r)
	if !ok {
		return
	}

	offset, err := headerInt64(r, "X-Offset", 0)
	if err != nil {
		http.Error(w, "invalid X-Offset", http.StatusBadRequest)
		return
	}
	length, err := headerInt64(r, "X-Length", -1)
	if err != nil || length < 0 {
		http.Error(w, "missing or invalid X-Length", http.StatusBadRequest)
		return
	}

	abs, ok := e.resolve(w, rootKey, relPath)
	if !ok {
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		e.track("read", http.StatusNotFound)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	if length == 0 {
		e.track("read", http.StatusOK)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		e.track("read", http.StatusInternalServerError)
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) {
		e.track("read", http.StatusInternalServerError)
		http.Error(w, "short read", http.StatusInternalServerError)
		return
	}
	if int64(n) != length {
		e.track("read", http.StatusInternalServerError)
		http.Error(w, "short read", http.StatusInternalServerError)
		return
	}

	e.track("read", http.StatusOK)
	if e.Metrics != nil {
		e.Metrics.FileBytesRead.Add(float64(n))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(buf[:n])
}

// ServeWrite handles POST /write/{rootKey}.
func (e *Endpoint) ServeWrite(w http.ResponseWriter, r *http.Request, rootKey string) {
	if !e.checkAuth(w, r) {
		return
	}

	relPath, ok := decodePath(w, r)
	if !ok {
		return
	}
	offset, err := headerInt64(r, "X-Offset", 0)
	if err != nil {
		http.Error(w, "invalid X-Offset", http.StatusBadRequest)
		return
	}
	expectedSHA1 := strings.ToLower(r.Header.Get("X-Expected-SHA1"))

	abs, ok := e.resolve(w, rootKey, relPath)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxWriteBody+1)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.track("write", http.StatusRequestEntityTooLarge)
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) > MaxWriteBody {
		e.track("write", http.StatusRequestEntityTooLarge)
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if expectedSHA1 != "" {
		sum := sha1.Sum(body)
		got := hex.EncodeToString(sum[:])
		if got != expectedSHA1 {
			e.track("write", http.StatusConflict)
			http.Error(w, fmt.Sprintf("sha1 mismatch: got %s", got), http.StatusConflict)
			return
		}
	}

	if err := os.MkdirAll(path.Dir(abs), 0o755); err != nil {
		e.track("write", http.StatusInternalServerError)
		http.Error(w, "mkdir failed", http.StatusInternalServerError)
		return
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		e.track("write", statusForOpenErr(err))
		http.Error(w, "open failed", statusForOpenErr(err))
		return
	}
	defer f.Close()

	if _, err := f.WriteAt(body, offset); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, syscall.ENOSPC) {
			status = http.StatusInsufficientStorage
		}
		e.track("write", status)
		http.Error(w, "write failed", status)
		return
	}

	e.track("write", http.StatusOK)
	if e.Metrics != nil {
		e.Metrics.FileBytesWritten.Add(float64(len(body)))
	}
	w.WriteHeader(http.StatusOK)
}

func (e *Endpoint) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	presented := r.Header.Get("X-JST-Auth")
	if presented == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	current, exists := e.Token.Current()
	if !exists || presented == "" || presented != current.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func decodePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	encoded := r.Header.Get("X-Path-Base64")
	if encoded == "" {
		http.Error(w, "missing X-Path-Base64", http.StatusBadRequest)
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, "invalid X-Path-Base64", http.StatusBadRequest)
		return "", false
	}
	relPath := string(decoded)
	for _, seg := range strings.Split(filepathToSlash(relPath), "/") {
		if seg == ".." {
			http.Error(w, "path traversal rejected", http.StatusBadRequest)
			return "", false
		}
	}
	return relPath, true
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func (e *Endpoint) resolve(w http.ResponseWriter, rootKey, relPath string) (string, bool) {
	handle, err := e.Roots.ResolveKey(rootKey)
	if err != nil {
		http.Error(w, "unknown root", http.StatusNotFound)
		return "", false
	}
	abs, err := handle.Resolve(relPath)
	if err != nil {
		http.Error(w, "path unresolvable", http.StatusNotFound)
		return "", false
	}
	return abs, true
}

func headerInt64(r *http.Request, name string, def int64) (int64, error) {
	v := r.Header.Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func statusForOpenErr(err error) int {
	if errors.Is(err, syscall.ENOSPC) {
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}

func (e *Endpoint) track(op string, status int) {
	if e.Metrics == nil {
		return
	}
	label := strconv.Itoa(status)
	switch op {
	case "read":
		e.Metrics.FileReads.WithLabelValues(label).Inc()
	case "write":
		e.Metrics.FileWrites.WithLabelValues(label).Inc()
	}
}

// LogRequest returns a best-guess client IP for r, for access logs
// (diagnostics only, never authentication). ServeRead and ServeWrite do not
// call it.
func LogRequest(r *http.Request) string {
	return ipresolve.ClientIP(r)
}

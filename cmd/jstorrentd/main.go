// Command jstorrentd is the standalone I/O daemon: it multiplexes virtual
// TCP/UDP sockets over a WebSocket /io endpoint, serves byte-range file
// access under /read and /write, and broadcasts root/event notifications on
// /control, per spec §1-§2.
package main

import (
	"flag"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kzahel/jstorrentd/common/safelog"
	"github.com/kzahel/jstorrentd/control"
	"github.com/kzahel/jstorrentd/daemon"
	"github.com/kzahel/jstorrentd/fileio"
	"github.com/kzahel/jstorrentd/metrics"
	"github.com/kzahel/jstorrentd/pairing"
)

func main() {
	var (
		addr           string
		rootsFlag      string
		tokenFile      string
		unsafeLogging  bool
		autoPair       bool
		autoPairToken  string
		autoPairExtID  string
		autoPairInstID string
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:0", "address to listen on")
	flag.StringVar(&rootsFlag, "roots", "", "comma-separated key=directory pairs granted as storage roots")
	flag.StringVar(&tokenFile, "token-file", "jstorrentd-pairing.json", "path to the persisted pairing triple")
	flag.BoolVar(&unsafeLogging, "unsafe-logging", false, "prevent logs from being scrubbed")
	flag.BoolVar(&autoPair, "auto-pair", false, "seed the token store with a fixed pairing triple on startup, for standalone testing")
	flag.StringVar(&autoPairToken, "auto-pair-token", "dev-token", "token to seed when -auto-pair is set")
	flag.StringVar(&autoPairExtID, "auto-pair-extension-id", "dev-extension", "extensionId to seed when -auto-pair is set")
	flag.StringVar(&autoPairInstID, "auto-pair-install-id", "dev-install", "installId to seed when -auto-pair is set")
	flag.Parse()

	var logOutput io.Writer = os.Stderr
	if unsafeLogging {
		log.SetOutput(logOutput)
	} else {
		log.SetOutput(&safelog.LogScrubber{Output: logOutput})
	}
	log.SetFlags(log.LstdFlags | log.LUTC)

	tok := newFileTokenStore(tokenFile)
	if autoPair {
		if _, exists := tok.Current(); !exists {
			if err := tok.Replace(pairing.Triple{
				Token: autoPairToken, ExtensionID: autoPairExtID, InstallID: autoPairInstID,
			}); err != nil {
				log.Fatalf("jstorrentd: seeding auto-pair triple: %v", err)
			}
			log.Printf("jstorrentd: auto-pair enabled, seeded pairing triple into %s", tokenFile)
		}
	}

	roots := newStaticRootStore(parseRoots(rootsFlag))

	m := metrics.New()
	auth := &pairing.Authenticator{Token: tok}
	ctrl := control.New(logOnlyInteraction{})
	fio := fileio.New(roots, tok, m)
	d := daemon.New(auth, ctrl, fio, m, tok)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("jstorrentd: listen on %s: %v", addr, err)
	}
	d.Port = ln.Addr().(*net.TCPAddr).Port
	log.Printf("jstorrentd: listening on %s (port %d)", ln.Addr(), d.Port)

	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("jstorrentd: received signal %s, shutting down", sig)
		_ = server.Close()
	}()

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// parseRoots parses a comma-separated key=directory list into an absolute
// directory map, skipping entries that don't resolve.
func parseRoots(s string) map[string]string {
	out := make(map[string]string)
	if s == "" {
		return out
	}
	for _, entry := range strings.Split(s, ",") {
		key, dir, found := strings.Cut(entry, "=")
		if !found || key == "" || dir == "" {
			log.Printf("jstorrentd: ignoring malformed -roots entry %q", entry)
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			log.Printf("jstorrentd: ignoring -roots entry %q: %v", entry, err)
			continue
		}
		out[key] = abs
	}
	return out
}

// Package ipresolve extracts a best-guess client IP address from an HTTP
// request, for diagnostic logging of HTTP requests (the daemon never
// trusts this value for authentication — that's what X-JST-Auth is for).
package ipresolve

import (
	"net/http"

	"github.com/realclientip/realclientip-go"
)

// strategy checks Forwarded, then X-Forwarded-For, then falls back to
// RemoteAddr, same chain and same rationale as common/util.GetClientIp in
// the teacher: there is no standard header, so best effort beats nothing.
var strategy = realclientip.NewChainStrategy(
	realclientip.Must(realclientip.NewLeftmostNonPrivateStrategy("Forwarded")),
	realclientip.Must(realclientip.NewLeftmostNonPrivateStrategy("X-Forwarded-For")),
	realclientip.RemoteAddrStrategy{},
)

// ClientIP returns the best-guess client IP for r, for logs only.
func ClientIP(r *http.Request) string {
	return strategy.ClientIP(r.Header, r.RemoteAddr)
}

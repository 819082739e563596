package pairing

import (
	"github.com/kzahel/jstorrentd/apperr"
	"github.com/kzahel/jstorrentd/protocol"
)

// Authenticator checks an in-band AUTH frame against the daemon's current
// pairing record, per spec §4.2: "requires an AUTH frame whose parsed
// triple equals TokenStore.current()".
type Authenticator struct {
	Token TokenStore
}

// Authenticate parses payload as an AUTH frame body and reports whether it
// matches the currently stored triple. ok is false both when no pairing
// exists and when the presented triple doesn't match; the caller cannot and
// need not distinguish the two over the wire (spec: "On inequality or when
// no triple is stored, the server sends AUTH_RESULT{status=1}").
func (a *Authenticator) Authenticate(payload []byte) (triple Triple, ok bool, err error) {
	parsed, err := protocol.DecodeAuth(payload)
	if err != nil {
		return Triple{}, false, apperr.New(apperr.KindProtocol, err)
	}
	presented := Triple{Token: parsed.Token, ExtensionID: parsed.ExtensionID, InstallID: parsed.InstallID}

	current, exists := a.Token.Current()
	if !exists {
		return presented, false, nil
	}
	return presented, current.Equal(presented), nil
}

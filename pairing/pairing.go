package pairing

import (
	"log"

	"github.com/kzahel/jstorrentd/interaction"
)

// Pairer runs the one-shot, pre-daemon pairing approval flow: a proposed
// triple is shown to the user via UserInteraction, and on approval it
// replaces whatever TokenStore currently holds. Denial or dismissal leaves
// prior state unchanged.
type Pairer struct {
	Store interaction.UserInteraction
	Token TokenStore
}

// RequestPairing asks the user to approve triple, replacing any existing
// pairing record in the store on approval. The triple's own validity is not
// this type's concern — it is whatever the requester proposed.
func (p *Pairer) RequestPairing(triple Triple) {
	_, hadExisting := p.Token.Current()

	p.Store.ShowPairingApproval(
		interaction.PairingTriple{Token: triple.Token, ExtensionID: triple.ExtensionID, InstallID: triple.InstallID},
		hadExisting,
		func(approved bool) {
			if !approved {
				return
			}
			if err := p.Token.Replace(triple); err != nil {
				log.Printf("pairing: failed to persist approved triple: %v", err)
			}
		},
	)
}

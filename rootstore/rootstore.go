// Package rootstore declares the interface through which the core consults
// the external root-granting subsystem. The subsystem itself — the part
// that persists storage-root handles granted by the user — lives outside
// this repository's scope (spec §1); this package only defines the shape of
// the collaboration.
package rootstore

import "time"

// Root is a user-granted storage location the core may resolve paths
// against. Root carries no handle; the opaque Handle for a key is obtained
// separately through Store.ResolveKey.
type Root struct {
	Key         string
	URI         string
	DisplayName string
	Removable   bool
	LastStatOK  bool
	LastChecked time.Time
}

// Handle is an opaque reference to a granted root, produced by
// Store.ResolveKey. The core never inspects its contents; it only calls
// Resolve to turn a relative path within the root into a filesystem path.
type Handle interface {
	// Resolve returns the absolute filesystem path of relPath within this
	// root, or an error if relPath cannot be resolved (e.g. the grant was
	// revoked, or the root is a removable volume that is not mounted).
	Resolve(relPath string) (string, error)
}

// Store is the external root-granting subsystem's interface to the core.
type Store interface {
	// ListRoots returns the roots currently granted, for ROOTS_CHANGED
	// broadcasts. Keys are resolved at request time through ResolveKey.
	ListRoots() []Root

	// ResolveKey returns the opaque Handle for key, or an error if key does
	// not name a currently granted root.
	ResolveKey(key string) (Handle, error)

	// RefreshAvailability re-probes every granted root's availability (e.g.
	// whether a removable volume is mounted) and returns the updated list.
	RefreshAvailability() []Root
}

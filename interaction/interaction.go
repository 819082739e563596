// Package interaction declares the interface through which the core invokes
// the GUI that renders approval dialogs and folder pickers. The GUI itself
// is an external collaborator, out of scope for this repository (spec §1).
package interaction

// PairingTriple is the client identity the user is asked to approve or
// deny during pairing.
type PairingTriple struct {
	Token       string
	ExtensionID string
	InstallID   string
}

// UserInteraction is the core's view of the GUI.
type UserInteraction interface {
	// ShowPairingApproval asks the user to approve or deny triple pairing
	// with the daemon. isReplace is true when a pairing record already
	// exists and approval would replace it. onResult is invoked exactly
	// once, with approved=true only on explicit user approval; denial or
	// dismissal both report approved=false.
	ShowPairingApproval(triple PairingTriple, isReplace bool, onResult func(approved bool))

	// OpenFolderPicker asks the user to grant a new storage root. The
	// external root-granting subsystem is expected to later cause a
	// ControlChannel.BroadcastRootsChanged once the user has granted a new
	// root (or cancelled); this method's return value plays no part in
	// that broadcast.
	OpenFolderPicker()
}

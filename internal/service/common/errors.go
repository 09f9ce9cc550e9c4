package common

import "errors"

// Error taxonomy shared by the deployment services. Commands wrap these with
// context via fmt.Errorf and callers branch with errors.Is.
var (
	// ErrConnectivity means the remote source was unreachable.
	ErrConnectivity = errors.New("remote source unreachable")

	// ErrManifestMissing means the source was reachable but the manifest
	// file or a required field was absent.
	ErrManifestMissing = errors.New("release manifest missing or incomplete")

	// ErrIncompleteRelease means a fetched release tree lacks required files.
	ErrIncompleteRelease = errors.New("release tree is incomplete")

	// ErrDownload means an artifact transfer failed or was truncated.
	ErrDownload = errors.New("artifact download failed")

	// ErrPermission means a mutating step lacked the required privilege.
	ErrPermission = errors.New("insufficient privilege")

	// ErrVerification means the entry-point artifact was missing or not
	// executable after an install.
	ErrVerification = errors.New("post-install verification failed")

	// ErrRestore means a rollback could not recover a known-good state.
	// Manual operator intervention is required.
	ErrRestore = errors.New("rollback failed to restore a known-good state")
)

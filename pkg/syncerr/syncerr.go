// Package syncerr defines the error kinds shared across the aurus-sync
// core, so callers can classify a failure with errors.Is regardless of
// which package produced it.
package syncerr

import "errors"

// Sentinel kinds from the error handling design. Packages wrap these with
// fmt.Errorf("...: %w", Kind) rather than returning them bare, so the
// message stays specific while the kind stays stable.
var (
	ErrPairing           = errors.New("pairing error")
	ErrDecrypt           = errors.New("decrypt error")
	ErrDocument          = errors.New("document error")
	ErrTransportConnect  = errors.New("transport connect error")
	ErrTransportAccept   = errors.New("transport accept error")
	ErrTransportRead     = errors.New("transport read error")
	ErrTransportWrite    = errors.New("transport write error")
	ErrTransportParse    = errors.New("transport parse error")
	ErrDiscovery         = errors.New("discovery error")
	ErrSignaling         = errors.New("signaling error")
	ErrTimeout           = errors.New("timeout")
	ErrInvalidPairingCode = errors.New("invalid pairing code")
	ErrAlreadyInSession  = errors.New("already in session")
	ErrNotConnected      = errors.New("not connected")
)

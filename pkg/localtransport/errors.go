package localtransport

import "github.com/aurus-sync/core/pkg/syncerr"

var (
	// ErrAlreadyStarted aliases syncerr.ErrAlreadyInSession. No function in
	// this package returns it: once StartCreator's handle has taken a
	// joiner, further upgrade requests get an HTTP 409 reply instead.
	ErrAlreadyStarted = syncerr.ErrAlreadyInSession
	// ErrClosed aliases syncerr.ErrNotConnected, which a connection's Send
	// wraps once that connection is closed. CreatorHandle.Accept after
	// Close does not return it; it waits until its ctx is done.
	ErrClosed = syncerr.ErrNotConnected
)

package synccontroller

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/syncloop"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// activeSession adapts either transport package's Session into the
// single shape the controller drives once a connection is up. extra
// closes transport resources syncloop.Loop.Close does not own itself —
// webrtctransport's PeerConnection, in particular.
type activeSession struct {
	transport string
	loop      *syncloop.Loop
	peer      wireproto.DeviceInfo
	extra     io.Closer
}

func (a *activeSession) Close() error {
	err := a.loop.Close()
	if a.extra != nil {
		_ = a.extra.Close()
	}
	return err
}

// connectAttempt is one path a create or join operation can take to
// reach a connected session.
type connectAttempt struct {
	transport string
	run       func(ctx context.Context) (*activeSession, error)
}

type attemptResult struct {
	session *activeSession
	err     error
}

// raceAttempts runs every attempt concurrently and returns the first to
// succeed, cancelling the others. If every attempt fails, it returns the
// first error observed. Used for SessionController.JoinSession racing
// LAN discovery against WebRTC-via-relay, and symmetrically for
// CreateSession's local-listener-vs-relay-registration race.
func raceAttempts(ctx context.Context, attempts []connectAttempt) (*activeSession, error) {
	if len(attempts) == 0 {
		return nil, fmt.Errorf("synccontroller: no connection paths configured: %w", syncerr.ErrTransportConnect)
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attemptResult, len(attempts))

	var g errgroup.Group
	for _, attempt := range attempts {
		attempt := attempt
		g.Go(func() error {
			session, err := attempt.run(raceCtx)
			results <- attemptResult{session: session, err: err}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	var firstErr error
	for r := range results {
		if r.err == nil && r.session != nil {
			cancel()
			go drainLosers(results)
			return r.session, nil
		}
		if firstErr == nil {
			firstErr = r.err
		}
	}
	return nil, fmt.Errorf("synccontroller: all connection paths failed: %w", firstErr)
}

// drainLosers closes any session a slower attempt still manages to
// produce after the race has already been won.
func drainLosers(results <-chan attemptResult) {
	for r := range results {
		if r.session != nil {
			_ = r.session.Close()
		}
	}
}

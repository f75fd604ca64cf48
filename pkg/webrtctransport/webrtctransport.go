// Package webrtctransport implements the cross-network transport: two
// peers that cannot reach each other directly negotiate a WebRTC data
// channel through the opaque signaling relay (pkg/signaling), then hand
// off to pkg/syncloop exactly like pkg/localtransport does once that
// channel is open.
//
// The negotiation itself is grounded on the retrieved webrtc.rs source:
// connect to signaling, exchange SPAKE2 shares in the clear (the relay
// still never learns the pairing code, only these shares), derive a
// session cipher, then trade SDP offer/answer and trickled ICE
// candidates encrypted under that cipher so the relay operator cannot
// observe connection topology either.
package webrtctransport

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/aurus-sync/core/pkg/crdtdoc"
	"github.com/aurus-sync/core/pkg/pairing"
	"github.com/aurus-sync/core/pkg/sessioncipher"
	"github.com/aurus-sync/core/pkg/signaling"
	"github.com/aurus-sync/core/pkg/syncerr"
	"github.com/aurus-sync/core/pkg/syncloop"
	"github.com/aurus-sync/core/pkg/wireproto"
)

// DataChannelLabel is the single data channel both sides open.
const DataChannelLabel = "aurus-sync"

// DataChannelOpenTimeout bounds how long Establish waits for the
// channel to report open once negotiation finishes.
const DataChannelOpenTimeout = 30 * time.Second

// defaultICEServers gives peers behind simple NATs a shot at a direct
// path even with no TURN relay configured.
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// Config configures Establish.
type Config struct {
	SignalingURL string
	PairingCode  string
	DeviceID     string
	IsCreator    bool

	Identity  wireproto.DeviceInfo
	Document  *crdtdoc.Document
	Callbacks syncloop.Callbacks

	ICEServers    []webrtc.ICEServer
	LoggerFactory logging.LoggerFactory
}

// Session is a fully negotiated peer connection, analogous to
// localtransport.Session: the Loop is ready to Run, and PeerConnection
// must be kept alive (and eventually Closed) for the session's duration.
type Session struct {
	Loop           *syncloop.Loop
	PeerDevice     wireproto.DeviceInfo
	PeerConnection *webrtc.PeerConnection
}

// Establish connects to the relay, negotiates a WebRTC data channel with
// whichever peer shares cfg.PairingCode's room, and returns a Session
// ready for the caller to Run.
func Establish(ctx context.Context, cfg Config) (*Session, error) {
	var log logging.LeveledLogger
	if cfg.LoggerFactory != nil {
		log = cfg.LoggerFactory.NewLogger("webrtctransport")
	}

	sc, err := signaling.Connect(ctx, signaling.Config{
		URL:           cfg.SignalingURL,
		PairingCode:   cfg.PairingCode,
		DeviceID:      cfg.DeviceID,
		LoggerFactory: cfg.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	if cfg.IsCreator {
		if log != nil {
			log.Info("waiting for peer to join signaling room")
		}
		if _, err := sc.WaitForPeer(ctx); err != nil {
			return nil, err
		}
	}

	cipher, err := negotiateSpake2(ctx, sc, cfg)
	if err != nil {
		return nil, fmt.Errorf("webrtctransport: key exchange failed: %w", err)
	}
	if log != nil {
		log.Info("SPAKE2 key exchange complete")
	}

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = defaultICEServers
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("webrtctransport: create peer connection failed: %w", syncerr.ErrTransportConnect)
	}

	dcReady := make(chan *webrtc.DataChannel, 1)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		select {
		case dcReady <- dc:
		default:
		}
	})

	gatherDone := webrtc.GatheringCompletePromise(pc)
	iceSendErr := forwardLocalCandidates(pc, sc, cipher)

	var localDC *webrtc.DataChannel
	if cfg.IsCreator {
		localDC, err = pc.CreateDataChannel(DataChannelLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("webrtctransport: create data channel failed: %w", syncerr.ErrTransportConnect)
		}
		if err := negotiateAsCreator(ctx, sc, cipher, pc, gatherDone); err != nil {
			pc.Close()
			return nil, err
		}
	} else {
		if err := negotiateAsJoiner(ctx, sc, cipher, pc, gatherDone); err != nil {
			pc.Close()
			return nil, err
		}
	}
	if err := <-iceSendErr; err != nil && log != nil {
		log.Warnf("ICE candidate relay ended: %v", err)
	}

	if localDC == nil {
		select {
		case localDC = <-dcReady:
		case <-time.After(DataChannelOpenTimeout):
			pc.Close()
			return nil, fmt.Errorf("webrtctransport: timed out waiting for remote data channel: %w", syncerr.ErrTimeout)
		case <-ctx.Done():
			pc.Close()
			return nil, ctx.Err()
		}
	}

	if err := waitDataChannelOpen(localDC); err != nil {
		pc.Close()
		return nil, err
	}
	if log != nil {
		log.Info("data channel open, transport ready")
	}

	conn := newDCConn(localDC)

	if err := sendDeviceInfoOverDC(conn, cipher, cfg.Identity); err != nil {
		pc.Close()
		return nil, err
	}
	peerInfo, err := recvDeviceInfoOverDC(conn, cipher)
	if err != nil {
		pc.Close()
		return nil, err
	}

	loop := syncloop.New(conn, cipher, cfg.Document, cfg.Callbacks, cfg.LoggerFactory)
	return &Session{Loop: loop, PeerDevice: peerInfo, PeerConnection: pc}, nil
}

func negotiateSpake2(ctx context.Context, sc *signaling.Client, cfg Config) (*sessioncipher.Cipher, error) {
	if cfg.IsCreator {
		session, share, err := pairing.StartCreator(cfg.PairingCode)
		if err != nil {
			return nil, err
		}
		if err := sendSpake2(sc, share); err != nil {
			return nil, err
		}
		peerShare, err := recvSpake2(ctx, sc)
		if err != nil {
			return nil, err
		}
		return session.Finish(peerShare)
	}

	session, share, err := pairing.StartJoiner(cfg.PairingCode)
	if err != nil {
		return nil, err
	}
	peerShare, err := recvSpake2(ctx, sc)
	if err != nil {
		return nil, err
	}
	if err := sendSpake2(sc, share); err != nil {
		return nil, err
	}
	return session.Finish(peerShare)
}

// forwardLocalCandidates relays this side's gathered ICE candidates to
// the peer as they trickle in, then sends ice_done once gathering
// completes. The returned channel reports the first send error, if any,
// once gathering is done.
func forwardLocalCandidates(pc *webrtc.PeerConnection, sc *signaling.Client, cipher *sessioncipher.Cipher) <-chan error {
	result := make(chan error, 1)
	var firstErr error

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = sendEncrypted(sc, cipher, signalingPayload{Type: payloadICEDone})
			result <- firstErr
			return
		}
		init := c.ToJSON()
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		if err := sendEncrypted(sc, cipher, signalingPayload{Type: payloadICE, Candidate: init.Candidate, Mid: mid}); err != nil && firstErr == nil {
			firstErr = err
		}
	})

	return result
}

func negotiateAsCreator(ctx context.Context, sc *signaling.Client, cipher *sessioncipher.Cipher, pc *webrtc.PeerConnection, gatherDone <-chan struct{}) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("webrtctransport: create offer failed: %w", syncerr.ErrTransportConnect)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("webrtctransport: set local description failed: %w", syncerr.ErrTransportConnect)
	}
	if err := sendEncrypted(sc, cipher, signalingPayload{Type: payloadSDP, SDP: offer.SDP, SDPType: "offer"}); err != nil {
		return err
	}

	answer, err := recvEncrypted(ctx, sc, cipher)
	if err != nil {
		return err
	}
	if answer.Type != payloadSDP || answer.SDPType != "answer" {
		return fmt.Errorf("webrtctransport: expected sdp answer, got %q/%q: %w", answer.Type, answer.SDPType, syncerr.ErrTransportParse)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("webrtctransport: set remote description failed: %w", syncerr.ErrTransportConnect)
	}

	if err := drainRemoteCandidates(ctx, sc, cipher, pc); err != nil {
		return err
	}
	<-gatherDone
	return nil
}

func negotiateAsJoiner(ctx context.Context, sc *signaling.Client, cipher *sessioncipher.Cipher, pc *webrtc.PeerConnection, gatherDone <-chan struct{}) error {
	offer, err := recvEncrypted(ctx, sc, cipher)
	if err != nil {
		return err
	}
	if offer.Type != payloadSDP || offer.SDPType != "offer" {
		return fmt.Errorf("webrtctransport: expected sdp offer, got %q/%q: %w", offer.Type, offer.SDPType, syncerr.ErrTransportParse)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("webrtctransport: set remote description failed: %w", syncerr.ErrTransportConnect)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("webrtctransport: create answer failed: %w", syncerr.ErrTransportConnect)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("webrtctransport: set local description failed: %w", syncerr.ErrTransportConnect)
	}
	if err := sendEncrypted(sc, cipher, signalingPayload{Type: payloadSDP, SDP: answer.SDP, SDPType: "answer"}); err != nil {
		return err
	}

	if err := drainRemoteCandidates(ctx, sc, cipher, pc); err != nil {
		return err
	}
	<-gatherDone
	return nil
}

func drainRemoteCandidates(ctx context.Context, sc *signaling.Client, cipher *sessioncipher.Cipher, pc *webrtc.PeerConnection) error {
	for {
		p, err := recvEncrypted(ctx, sc, cipher)
		if err != nil {
			return err
		}
		switch p.Type {
		case payloadICE:
			mid := p.Mid
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: p.Candidate, SDPMid: &mid}); err != nil {
				return fmt.Errorf("webrtctransport: add remote ice candidate failed: %w", syncerr.ErrTransportConnect)
			}
		case payloadICEDone:
			return nil
		default:
			continue
		}
	}
}

func waitDataChannelOpen(dc *webrtc.DataChannel) error {
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		return nil
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	select {
	case <-opened:
		return nil
	case <-time.After(DataChannelOpenTimeout):
		return fmt.Errorf("webrtctransport: data channel open timed out: %w", syncerr.ErrTimeout)
	}
}

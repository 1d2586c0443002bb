package call

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"sync"

	"github.com/carelink/messenger/internal/model"
)

// Status is the call lifecycle state shown to the user.
type Status string

const (
	StatusConnecting Status = "Connecting…"
	StatusConnected  Status = "Connected"
	StatusFailed     Status = "Failed"
)

// Signaler sends signaling frames over the room socket.
type Signaler interface {
	SendSignal(env model.Envelope)
}

// Config wires one call session.
type Config struct {
	RoomID       string
	TargetUserID string
	Video        bool

	// ICEServers defaults to DefaultICEServers when empty.
	ICEServers []string

	Devices    MediaDevices
	Peers      PeerFactory
	RemoteSink MediaSink

	// OnClose is the modal-close output; emitted exactly once no
	// matter which path tears the call down.
	OnClose func()

	// OnStatus observes state changes. Optional.
	OnStatus func(status Status)
}

// Coordinator owns the local media stream and peer connection for one
// call session, from start to the single teardown path.
type Coordinator struct {
	signaler Signaler
	cfg      Config

	mu     sync.Mutex
	status Status
	callID string
	local  MediaStream
	pc     PeerConnection
	closed bool

	closeOnce sync.Once
}

func NewCoordinator(signaler Signaler, cfg Config) *Coordinator {
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers
	}
	return &Coordinator{
		signaler: signaler,
		cfg:      cfg,
		status:   StatusConnecting,
	}
}

// Start runs the caller side: acquire media, announce the call type,
// build the peer connection and send the offer. Failures transition to
// Failed and are logged, never propagated into the UI.
func (c *Coordinator) Start(ctx context.Context) {
	c.setStatus(StatusConnecting)

	if err := c.acquireMedia(ctx); err != nil {
		c.fail("media acquisition", err)
		return
	}

	callType := "voice"
	if c.cfg.Video {
		callType = "video"
	}
	c.signaler.SendSignal(model.Envelope{
		Type:         model.FrameCallType,
		RoomID:       c.cfg.RoomID,
		CallType:     callType,
		TargetUserID: c.cfg.TargetUserID,
	})

	if err := c.setupPeer(); err != nil {
		c.fail("peer connection setup", err)
		return
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		c.fail("create offer", err)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		c.fail("set local description", err)
		return
	}

	c.signaler.SendSignal(model.Envelope{
		Type:         model.FrameOffer,
		RoomID:       c.cfg.RoomID,
		TargetUserID: c.cfg.TargetUserID,
		Offer:        &offer,
	})
}

// StartCallee prepares the callee side (media + peer connection) so an
// incoming offer can be answered. Symmetric to Start minus the
// announcement and offer.
func (c *Coordinator) StartCallee(ctx context.Context) {
	c.setStatus(StatusConnecting)

	if err := c.acquireMedia(ctx); err != nil {
		c.fail("media acquisition", err)
		return
	}
	if err := c.setupPeer(); err != nil {
		c.fail("peer connection setup", err)
	}
}

func (c *Coordinator) acquireMedia(ctx context.Context) error {
	constraints := MediaConstraints{Audio: true}
	if c.cfg.Video {
		video := DefaultVideoConstraints
		constraints.Video = &video
	}

	stream, err := c.cfg.Devices.GetUserMedia(ctx, constraints)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		stream.Close()
		return fmt.Errorf("internal/call: session already closed")
	}
	c.local = stream
	return nil
}

func (c *Coordinator) setupPeer() error {
	pc, err := c.cfg.Peers.NewPeerConnection(c.cfg.ICEServers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		pc.Close()
		return fmt.Errorf("internal/call: session already closed")
	}
	c.pc = pc
	local := c.local
	c.mu.Unlock()

	if local != nil {
		for _, track := range local.Tracks() {
			if err := pc.AddTrack(track); err != nil {
				return err
			}
		}
	}

	pc.OnICECandidate(func(candidate model.ICECandidate) {
		cand := candidate
		c.signaler.SendSignal(model.Envelope{
			Type:         model.FrameICECandidate,
			RoomID:       c.cfg.RoomID,
			TargetUserID: c.cfg.TargetUserID,
			Candidate:    &cand,
		})
	})

	pc.OnTrack(func(stream MediaStream) {
		c.cfg.RemoteSink.Attach(stream)
		c.setStatus(StatusConnected)
	})

	return nil
}

// HandleSignal processes one inbound call-signaling frame. Unknown or
// out-of-order frames are dropped defensively.
func (c *Coordinator) HandleSignal(ctx context.Context, env model.Envelope) {
	switch env.Type {
	case model.FrameOffer:
		c.handleOffer(ctx, env)

	case model.FrameAnswer:
		if env.Answer == nil {
			return
		}
		pc := c.peer()
		if pc == nil {
			return
		}
		if err := pc.SetRemoteDescription(*env.Answer); err != nil {
			c.fail("set remote answer", err)
		}

	case model.FrameICECandidate:
		if env.Candidate == nil {
			return
		}
		pc := c.peer()
		if pc == nil {
			return
		}
		if err := pc.AddICECandidate(*env.Candidate); err != nil {
			// A late or malformed candidate is not fatal.
			log.Printf("[error] add ice candidate: %v", err)
		}

	case model.FrameCallStarted:
		c.mu.Lock()
		c.callID = env.CallID
		c.mu.Unlock()
		slog.Info("call registered", "call_id", env.CallID, "room_id", c.cfg.RoomID)

	case model.FrameCallEnded:
		// Remote hangup takes the same teardown path as a local one.
		c.Close()
	}
}

func (c *Coordinator) handleOffer(ctx context.Context, env model.Envelope) {
	if env.Offer == nil {
		return
	}

	// The callee learns its peer from the offer.
	c.mu.Lock()
	if c.cfg.TargetUserID == "" {
		c.cfg.TargetUserID = env.UserID
	}
	c.mu.Unlock()

	if c.peer() == nil {
		c.StartCallee(ctx)
	}
	pc := c.peer()
	if pc == nil {
		return
	}

	if err := pc.SetRemoteDescription(*env.Offer); err != nil {
		c.fail("set remote offer", err)
		return
	}
	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		c.fail("create answer", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		c.fail("set local answer", err)
		return
	}

	c.signaler.SendSignal(model.Envelope{
		Type:         model.FrameAnswer,
		RoomID:       c.cfg.RoomID,
		TargetUserID: env.UserID,
		Answer:       &answer,
	})
}

// SetMuted toggles the enabled flag of every local audio track.
func (c *Coordinator) SetMuted(muted bool) {
	c.setTrackEnabled(KindAudio, !muted)
}

// SetVideoEnabled toggles the local video track. Only meaningful for
// video calls.
func (c *Coordinator) SetVideoEnabled(enabled bool) {
	if !c.cfg.Video {
		return
	}
	c.setTrackEnabled(KindVideo, enabled)
}

func (c *Coordinator) setTrackEnabled(kind string, enabled bool) {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local == nil {
		return
	}
	for _, track := range local.Tracks() {
		if track.Kind() == kind {
			track.SetEnabled(enabled)
		}
	}
}

// Close tears the session down: local tracks stopped, peer connection
// closed, sink detached, and the peer notified via end-call when a
// call id was assigned. Local hangup, remote call-ended and component
// destroy all funnel here, and the close output fires exactly once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		local := c.local
		pc := c.pc
		callID := c.callID
		c.local = nil
		c.pc = nil
		c.mu.Unlock()

		if local != nil {
			for _, track := range local.Tracks() {
				track.Stop()
			}
			local.Close()
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				log.Printf("[error] close peer connection: %v", err)
			}
		}
		if c.cfg.RemoteSink != nil {
			c.cfg.RemoteSink.Detach()
		}

		if callID != "" {
			c.signaler.SendSignal(model.Envelope{
				Type:   model.FrameEndCall,
				RoomID: c.cfg.RoomID,
				CallID: callID,
			})
		}

		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	})
}

// Status returns the current call state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CallID returns the server-assigned call id, empty until
// call-started arrives.
func (c *Coordinator) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

func (c *Coordinator) setStatus(status Status) {
	c.mu.Lock()
	if c.closed || c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(status)
	}
}

func (c *Coordinator) fail(step string, err error) {
	log.Printf("[error] call %s: %v", step, err)
	c.setStatus(StatusFailed)
}

func (c *Coordinator) peer() PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

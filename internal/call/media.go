// Package call negotiates a peer-to-peer audio/video session over the
// room's signaling channel and owns the local media for its lifetime.
package call

import (
	"context"

	"github.com/carelink/messenger/internal/model"
)

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// DefaultICEServers are the public STUN servers used when the caller
// does not supply any.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// VideoConstraints carries the ideal capture resolution.
type VideoConstraints struct {
	IdealWidth  int
	IdealHeight int
}

// DefaultVideoConstraints matches the portal's capture request.
var DefaultVideoConstraints = VideoConstraints{IdealWidth: 1280, IdealHeight: 720}

// MediaConstraints describes a local media request: audio is always
// requested, video only for video calls.
type MediaConstraints struct {
	Audio bool
	Video *VideoConstraints
}

// Track is one local or remote media track. Mute and video-off toggle
// the enabled flag; tracks are never removed and re-added mid call.
type Track interface {
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream groups the tracks of one capture or one remote peer.
type MediaStream interface {
	Tracks() []Track
	Close()
}

// MediaDevices acquires local capture media.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (MediaStream, error)
}

// MediaSink is where the remote stream is rendered.
type MediaSink interface {
	Attach(stream MediaStream)
	Detach()
}

// PeerConnection is the negotiation surface the coordinator drives.
// Callbacks registered through On* fire from the transport's
// goroutines.
type PeerConnection interface {
	AddTrack(track Track) error
	CreateOffer(ctx context.Context) (model.SessionDescription, error)
	CreateAnswer(ctx context.Context) (model.SessionDescription, error)
	SetLocalDescription(desc model.SessionDescription) error
	SetRemoteDescription(desc model.SessionDescription) error
	AddICECandidate(candidate model.ICECandidate) error
	OnICECandidate(fn func(candidate model.ICECandidate))
	OnTrack(fn func(stream MediaStream))
	Close() error
}

// PeerFactory builds peer connections against a set of ICE servers.
type PeerFactory interface {
	NewPeerConnection(iceServers []string) (PeerConnection, error)
}

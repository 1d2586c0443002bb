package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/carelink/messenger/internal/model"
)

// PionFactory builds pion-backed peer connections.
type PionFactory struct{}

func (PionFactory) NewPeerConnection(iceServers []string) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	})
	if err != nil {
		return nil, fmt.Errorf("internal/call: new peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddTrack(track Track) error {
	local, ok := track.(*PionTrack)
	if !ok {
		return fmt.Errorf("internal/call: track %T is not a pion local track", track)
	}
	if _, err := p.pc.AddTrack(local.sample); err != nil {
		return fmt.Errorf("internal/call: add %s track: %w", track.Kind(), err)
	}
	return nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (model.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return model.SessionDescription{}, err
	}
	return model.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *pionPeer) CreateAnswer(ctx context.Context) (model.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return model.SessionDescription{}, err
	}
	return model.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *pionPeer) SetLocalDescription(desc model.SessionDescription) error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeer) SetRemoteDescription(desc model.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *pionPeer) AddICECandidate(candidate model.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (p *pionPeer) OnICECandidate(fn func(candidate model.ICECandidate)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of candidate gathering.
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		fn(model.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (p *pionPeer) OnTrack(fn func(stream MediaStream)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(&remoteStream{track: &remoteTrack{track: remote}})
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

// PionDevices synthesizes local sample tracks (opus audio, VP8 video).
// The portal's browser shell captures from real devices; in Go the
// application feeds encoded samples through WriteSample.
type PionDevices struct{}

func (PionDevices) GetUserMedia(_ context.Context, constraints MediaConstraints) (MediaStream, error) {
	var tracks []Track

	if constraints.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "carelink")
		if err != nil {
			return nil, fmt.Errorf("internal/call: audio track: %w", err)
		}
		tracks = append(tracks, &PionTrack{kind: KindAudio, sample: audio, enabled: 1})
	}

	if constraints.Video != nil {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "carelink")
		if err != nil {
			return nil, fmt.Errorf("internal/call: video track: %w", err)
		}
		tracks = append(tracks, &PionTrack{kind: KindVideo, sample: video, enabled: 1})
	}

	return &localStream{tracks: tracks}, nil
}

// PionTrack wraps a local static-sample track with the enabled flag
// semantics of a browser track: disabling drops samples instead of
// removing the track.
type PionTrack struct {
	kind    string
	sample  *webrtc.TrackLocalStaticSample
	enabled int32
	stopped int32
}

func (t *PionTrack) Kind() string  { return t.kind }
func (t *PionTrack) Enabled() bool { return atomic.LoadInt32(&t.enabled) == 1 }

func (t *PionTrack) SetEnabled(enabled bool) {
	var v int32
	if enabled {
		v = 1
	}
	atomic.StoreInt32(&t.enabled, v)
}

func (t *PionTrack) Stop() { atomic.StoreInt32(&t.stopped, 1) }

// WriteSample forwards one encoded sample to the peer. Disabled or
// stopped tracks swallow samples silently.
func (t *PionTrack) WriteSample(sample media.Sample) error {
	if !t.Enabled() || atomic.LoadInt32(&t.stopped) == 1 {
		return nil
	}
	return t.sample.WriteSample(sample)
}

type localStream struct {
	mu     sync.Mutex
	tracks []Track
}

func (s *localStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *localStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, track := range s.tracks {
		track.Stop()
	}
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) Kind() string      { return t.track.Kind().String() }
func (t *remoteTrack) Enabled() bool     { return true }
func (t *remoteTrack) SetEnabled(_ bool) {}
func (t *remoteTrack) Stop()             {}

type remoteStream struct {
	track Track
}

func (s *remoteStream) Tracks() []Track { return []Track{s.track} }
func (s *remoteStream) Close()          {}

package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Connection is one negotiated peer link. Implementations own the
// underlying transport; the supervisor owns the lifecycle.
type Connection interface {
	// AddLocalTrack attaches an outbound track before negotiation starts.
	AddLocalTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// RemoteDescriptionSet reports whether a remote description has been
	// applied. Used to drop duplicate or late answers.
	RemoteDescriptionSet() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	Close()
}

// Dialer allocates connections. Splitting construction from the supervisor
// keeps the pion dependency at the edge and lets tests substitute scripted
// connections.
type Dialer interface {
	NewConnection(iceServers []string) (Connection, error)
}

// MediaHandle wraps the local audio capture. Stop is idempotent.
type MediaHandle interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// Capturer acquires the local microphone (or a substitute source).
type Capturer interface {
	Acquire(ctx context.Context) (MediaHandle, error)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
)

// fakeConn is a scripted core.Connection: descriptions are stored, never
// negotiated, so tests can assert on the exact exchange.
type fakeConn struct {
	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	closed     bool
	offerSeq   int
}

func (c *fakeConn) AddLocalTrack(track webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, track)
	return nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerSeq++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offerSeq)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + c.remoteDesc.SDP}, nil
}

func (c *fakeConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localDesc = &sdp
	return nil
}

func (c *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDesc = &sdp
	return nil
}

func (c *fakeConn) RemoteDescriptionSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDesc != nil
}

func (c *fakeConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *fakeConn) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) fireTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track, nil)
	}
}

func (c *fakeConn) remoteSDP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteDesc == nil {
		return ""
	}
	return c.remoteDesc.SDP
}

func (c *fakeConn) localSDP() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.localDesc == nil {
		return ""
	}
	return c.localDesc.SDP
}

// fakeDialer records every connection it hands out. A non-nil gate parks
// NewConnection until released, to exercise destroy-during-create.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	fail    bool
	gate    chan struct{}
	blocked bool
}

func (d *fakeDialer) NewConnection(iceServers []string) (core.Connection, error) {
	d.mu.Lock()
	if d.fail {
		d.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	gate := d.gate
	d.blocked = gate != nil
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocked = false
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) waiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked
}

func (d *fakeDialer) all() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// fakeCapturer hands out counting handles, or refuses like a denied
// microphone permission.
type fakeCapturer struct {
	mu      sync.Mutex
	deny    bool
	handles []*fakeHandle
}

func (c *fakeCapturer) Acquire(ctx context.Context) (core.MediaHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deny {
		return nil, fmt.Errorf("%w: permission denied", core.ErrMediaAcquisition)
	}
	h := &fakeHandle{}
	c.handles = append(c.handles, h)
	return h, nil
}

type fakeHandle struct {
	mu    sync.Mutex
	stops int
}

func (h *fakeHandle) Tracks() []webrtc.TrackLocal { return nil }

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func mustOffer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func mustAnswer(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
}

func mustCandidate(c string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: c}
}

// Package media owns the local capture handle and the per-remote playback
// sinks. Everything here is plain pion plumbing; negotiation lives in the
// session package.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
)

const sampleInterval = 20 * time.Millisecond

// opusSilence is a minimal valid opus frame; the capturer emits it when no
// real device feed is wired in, keeping the RTP stream alive end to end.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// OpusCapturer produces one outbound opus track per Acquire. A real
// microphone source slots in behind the same Capturer interface.
type OpusCapturer struct {
	// StreamID groups the track on the remote side; defaults to "actionpad".
	StreamID string
}

func (c *OpusCapturer) Acquire(ctx context.Context) (core.MediaHandle, error) {
	streamID := c.StreamID
	if streamID == "" {
		streamID = "actionpad"
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
	}

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{tracks: []webrtc.TrackLocal{track}, cancel: cancel}
	go feed(feedCtx, track)
	log.Debug().Str("module", "media").Str("stream", streamID).Msg("local capture acquired")
	return h, nil
}

func feed(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := track.WriteSample(media.Sample{Data: opusSilence, Duration: sampleInterval})
			if err != nil {
				log.Debug().Err(err).Str("module", "media").Msg("sample write failed, stopping feed")
				return
			}
		}
	}
}

// Handle is the local capture handle. Stop is idempotent; stopped tracks
// stay attached to closing connections without harm.
type Handle struct {
	tracks []webrtc.TrackLocal
	cancel context.CancelFunc
	once   sync.Once
}

func (h *Handle) Tracks() []webrtc.TrackLocal { return h.tracks }

func (h *Handle) Stop() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		log.Debug().Str("module", "media").Msg("local capture stopped")
	})
}

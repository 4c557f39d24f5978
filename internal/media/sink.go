package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
)

// Sink is the playable output for one remote participant: it drains the
// remote track's RTP and hands packets to an optional consumer (speaker,
// recorder, test probe). At most one sink exists per remote participant.
type Sink struct {
	remote domain.ParticipantID

	mu       sync.Mutex
	onPacket func(*rtp.Packet)

	packets atomic.Int64
	cancel  context.CancelFunc
	once    sync.Once
}

func NewSink(remote domain.ParticipantID, track *webrtc.TrackRemote) *Sink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{remote: remote, cancel: cancel}
	go s.loop(ctx, track)
	return s
}

func (s *Sink) Remote() domain.ParticipantID { return s.remote }

// Packets reports how many RTP packets have been drained; the UI uses it
// as a liveness signal for the peer.
func (s *Sink) Packets() int64 { return s.packets.Load() }

// OnPacket sets the consumer. Passing nil detaches it.
func (s *Sink) OnPacket(fn func(*rtp.Packet)) {
	s.mu.Lock()
	s.onPacket = fn
	s.mu.Unlock()
}

func (s *Sink) loop(ctx context.Context, track *webrtc.TrackRemote) {
	if track == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "media").Str("remote", string(s.remote)).Msg("sink read ended")
			return
		}
		s.packets.Add(1)
		s.mu.Lock()
		fn := s.onPacket
		s.mu.Unlock()
		if fn != nil {
			fn(pkt)
		}
	}
}

// Close stops the drain loop. Idempotent.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.cancel()
		log.Debug().Str("module", "media").Str("remote", string(s.remote)).Msg("sink closed")
	})
}

package session

import (
	"context"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
)

// Supervisor owns the set of peer connections for one joined room, keyed
// by remote participant. It reacts to roster diffs: new remote ids get a
// connection, departed ids get torn down. At most one entry exists per
// remote participant.
type Supervisor struct {
	local      domain.ParticipantID
	roomID     domain.RoomID
	store      core.RelayStore
	dialer     core.Dialer
	iceServers []string
	mediaH     core.MediaHandle
	events     *Events

	mu      sync.Mutex
	entries map[domain.ParticipantID]*peerEntry
	closed  bool
}

func NewSupervisor(
	local domain.ParticipantID,
	roomID domain.RoomID,
	store core.RelayStore,
	dialer core.Dialer,
	iceServers []string,
	mediaH core.MediaHandle,
	events *Events,
) *Supervisor {
	return &Supervisor{
		local:      local,
		roomID:     roomID,
		store:      store,
		dialer:     dialer,
		iceServers: iceServers,
		mediaH:     mediaH,
		events:     events,
		entries:    make(map[domain.ParticipantID]*peerEntry),
	}
}

// peerEntry is the in-memory record for one remote participant.
// retired marks a destroy request; if it lands while creation is still in
// flight, the creator completes the destroy once it resolves.
type peerEntry struct {
	remote domain.ParticipantID

	mu        sync.Mutex
	conn      core.Connection
	sub       core.Subscription
	sink      *media.Sink
	created   bool
	retired   bool
	destroyed bool
}

// Reconcile drives the entry set toward remotes. Safe to call repeatedly
// with overlapping sets: unchanged ids are untouched. isInitiator applies
// to the ids added by this call — true when they appeared after the local
// session was already joined, false for ids present at join time (the
// newcomer always answers, existing members offer toward the newcomer).
func (s *Supervisor) Reconcile(ctx context.Context, remotes map[domain.ParticipantID]struct{}, isInitiator bool) {
	s.mu.Lock()
	if s.closed {
		// A roster delivery raced the room leave; nothing may be created
		// after teardown.
		s.mu.Unlock()
		return
	}
	var added, removed []*peerEntry
	for id := range remotes {
		if id == s.local {
			continue
		}
		if _, ok := s.entries[id]; !ok {
			e := &peerEntry{remote: id}
			s.entries[id] = e
			added = append(added, e)
		}
	}
	for id, e := range s.entries {
		if _, ok := remotes[id]; !ok {
			delete(s.entries, id)
			removed = append(removed, e)
		}
	}
	s.mu.Unlock()

	for _, e := range removed {
		s.destroyEntry(e)
	}
	for _, e := range added {
		s.createEntry(ctx, e, isInitiator)
	}
}

// TeardownAll destroys every entry and refuses further creation; used on
// room leave.
func (s *Supervisor) TeardownAll() {
	s.mu.Lock()
	s.closed = true
	entries := make([]*peerEntry, 0, len(s.entries))
	for id, e := range s.entries {
		delete(s.entries, id)
		entries = append(entries, e)
	}
	s.mu.Unlock()
	for _, e := range entries {
		s.destroyEntry(e)
	}
}

// Peers returns the current entry keys in stable order.
func (s *Supervisor) Peers() []domain.ParticipantID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sink returns the playable sink for a remote participant, if any.
func (s *Supervisor) Sink(remote domain.ParticipantID) *media.Sink {
	s.mu.Lock()
	e, ok := s.entries[remote]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func (s *Supervisor) createEntry(ctx context.Context, e *peerEntry, isInitiator bool) {
	logger := log.With().
		Str("module", "session.supervisor").
		Str("room", string(s.roomID)).
		Str("local", string(s.local)).
		Str("remote", string(e.remote)).
		Bool("initiator", isInitiator).
		Logger()

	conn, err := s.dialer.NewConnection(s.iceServers)
	if err != nil {
		logger.Error().Err(err).Msg("dial failed")
		s.dropEntry(e)
		return
	}
	for _, t := range s.mediaH.Tracks() {
		if err := conn.AddLocalTrack(t); err != nil {
			logger.Error().Err(err).Msg("add local track failed")
		}
	}
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.attachSink(e, track)
	})
	conn.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		msg, err := domain.NewCandidate(s.local, e.remote, cand)
		if err != nil {
			return
		}
		if err := s.store.AppendSignal(context.Background(), s.roomID, msg); err != nil {
			logger.Error().Err(err).Msg("candidate write failed")
		}
	})

	// The subscription is created before the entry is published so backlog
	// replay (an offer written while we were still joining) is not lost.
	sub, err := s.store.SubscribeSignal(ctx, s.roomID, s.local, e.remote, func(msg domain.SignalingMessage) {
		s.handleSignal(e, conn, msg)
	})
	if err != nil {
		logger.Error().Err(err).Msg("signal subscribe failed")
		conn.Close()
		s.dropEntry(e)
		return
	}

	if e.finishCreate(conn, sub) {
		// Destroy arrived while creation was in flight.
		s.destroyEntry(e)
		return
	}
	logger.Info().Msg("peer entry created")

	if isInitiator {
		s.sendOffer(ctx, e, conn, logger)
	}
}

func (s *Supervisor) sendOffer(ctx context.Context, e *peerEntry, conn core.Connection, logger zerolog.Logger) {
	offer, err := conn.CreateOffer()
	if err != nil {
		logger.Error().Err(err).Msg("create offer failed")
		return
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		logger.Error().Err(err).Msg("set local offer failed")
		return
	}
	msg, err := domain.NewOffer(s.local, e.remote, offer)
	if err != nil {
		return
	}
	if err := s.store.AppendSignal(ctx, s.roomID, msg); err != nil {
		logger.Error().Err(err).Msg("offer write failed")
	}
}

// handleSignal applies one message from this entry's remote. Failures are
// logged and isolated: a bad exchange leaves this entry inert without
// touching the others.
func (s *Supervisor) handleSignal(e *peerEntry, conn core.Connection, msg domain.SignalingMessage) {
	logger := log.With().
		Str("module", "session.supervisor").
		Str("room", string(s.roomID)).
		Str("local", string(s.local)).
		Str("remote", string(e.remote)).
		Str("kind", string(msg.Kind)).
		Logger()

	switch msg.Kind {
	case domain.SignalOffer:
		if msg.SDP == nil {
			return
		}
		if err := conn.SetRemoteDescription(*msg.SDP); err != nil {
			logger.Error().Err(err).Msg("set remote offer failed")
			return
		}
		answer, err := conn.CreateAnswer()
		if err != nil {
			logger.Error().Err(err).Msg("create answer failed")
			return
		}
		if err := conn.SetLocalDescription(answer); err != nil {
			logger.Error().Err(err).Msg("set local answer failed")
			return
		}
		reply, err := domain.NewAnswer(s.local, e.remote, answer)
		if err != nil {
			return
		}
		if err := s.store.AppendSignal(context.Background(), s.roomID, reply); err != nil {
			logger.Error().Err(err).Msg("answer write failed")
		}
	case domain.SignalAnswer:
		if msg.SDP == nil {
			return
		}
		// Duplicate or late answers are dropped once a remote description
		// is in place.
		if conn.RemoteDescriptionSet() {
			return
		}
		if err := conn.SetRemoteDescription(*msg.SDP); err != nil {
			logger.Error().Err(err).Msg("set remote answer failed")
		}
	case domain.SignalCandidate:
		if msg.Candidate == nil {
			return
		}
		if err := conn.AddICECandidate(*msg.Candidate); err != nil {
			logger.Error().Err(err).Msg("add candidate failed")
		}
	}
}

// attachSink allocates the playable sink on first remote track. A second
// track event for the same remote is a no-op.
func (s *Supervisor) attachSink(e *peerEntry, track *webrtc.TrackRemote) {
	e.mu.Lock()
	if e.retired || e.sink != nil {
		e.mu.Unlock()
		return
	}
	sink := media.NewSink(e.remote, track)
	e.sink = sink
	e.mu.Unlock()

	log.Info().Str("module", "session.supervisor").Str("room", string(s.roomID)).Str("remote", string(e.remote)).Msg("audio sink available")
	s.events.emitSink(e.remote, sink)
}

func (e *peerEntry) finishCreate(conn core.Connection, sub core.Subscription) (retired bool) {
	e.mu.Lock()
	e.conn = conn
	e.sub = sub
	e.created = true
	retired = e.retired
	e.mu.Unlock()
	return retired
}

func (s *Supervisor) destroyEntry(e *peerEntry) {
	e.mu.Lock()
	e.retired = true
	if !e.created || e.destroyed {
		// Creation still in flight; the creator completes the destroy.
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	conn, sub, sink := e.conn, e.sub, e.sink
	e.sink = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Dispose()
	}
	if conn != nil {
		conn.Close()
	}
	if sink != nil {
		sink.Close()
		s.events.emitSinkClosed(e.remote)
	}
	log.Info().Str("module", "session.supervisor").Str("room", string(s.roomID)).Str("remote", string(e.remote)).Msg("peer entry destroyed")
}

func (s *Supervisor) dropEntry(e *peerEntry) {
	s.mu.Lock()
	if s.entries[e.remote] == e {
		delete(s.entries, e.remote)
	}
	s.mu.Unlock()
}

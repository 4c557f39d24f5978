package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/rtc"
)

// Manager owns room membership for one local session: at most one room is
// active at a time, and join/leave are serialized against each other so a
// leave never tears down a join that is still settling.
type Manager struct {
	Local      domain.ParticipantID
	Store      core.RelayStore
	Dialer     core.Dialer
	Capturer   core.Capturer
	Resolver   core.Resolver
	ICEServers []string
	Events     *Events

	mu     sync.Mutex
	active *RoomHandle
}

// RoomHandle carries the room identity and the resources acquired by a
// join. It is single-use: once left it stays left.
type RoomHandle struct {
	tenant domain.TenantID
	name   domain.RoomName
	roomID domain.RoomID

	sup     *Supervisor
	mediaH  core.MediaHandle
	handles handleSet
	mgr     *Manager

	ctx    context.Context
	cancel context.CancelFunc
	seeded atomic.Bool
	left   atomic.Bool
}

func (h *RoomHandle) RoomID() domain.RoomID { return h.roomID }
func (h *RoomHandle) Name() domain.RoomName { return h.name }

// Peers lists the remote participants with a live connection entry.
func (h *RoomHandle) Peers() []domain.ParticipantID { return h.sup.Peers() }

// Sink returns the playable sink for a remote participant, nil until
// their first track arrived.
func (h *RoomHandle) Sink(remote domain.ParticipantID) *media.Sink { return h.sup.Sink(remote) }

// Join registers the local participant in the room and starts connection
// supervision. Joining while another room is active leaves that room
// first; joining the already-active room returns the existing handle.
// Local audio is acquired before any roster mutation: a capture failure
// aborts the join with the room state untouched.
func (m *Manager) Join(ctx context.Context, tenant domain.TenantID, name domain.RoomName) (*RoomHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID := domain.DeriveRoomID(tenant, name)
	if m.active != nil {
		if m.active.roomID == roomID {
			return m.active, nil
		}
		m.leaveLocked(ctx, m.active)
		m.active = nil
	}

	mediaH, err := m.Capturer.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrMediaAcquisition) {
			err = fmt.Errorf("%w: %v", core.ErrMediaAcquisition, err)
		}
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &RoomHandle{
		tenant: tenant,
		name:   name,
		roomID: roomID,
		mediaH: mediaH,
		mgr:    m,
		ctx:    hctx,
		cancel: cancel,
	}
	ice := m.ICEServers
	if len(ice) == 0 {
		ice = rtc.DefaultICEServers
	}
	h.sup = NewSupervisor(m.Local, roomID, m.Store, m.Dialer, ice, mediaH, m.Events)

	if err := m.Store.UpsertRoomParticipant(ctx, tenant, name, m.Local); err != nil {
		mediaH.Stop()
		cancel()
		if !errors.Is(err, core.ErrRosterMutation) {
			err = fmt.Errorf("%w: %v", core.ErrRosterMutation, err)
		}
		return nil, err
	}

	sub, err := m.Store.SubscribeRoom(hctx, roomID, h.onRoster)
	if err != nil {
		// No local state is retained on a failed join; the roster entry
		// is best-effort reverted.
		_ = m.Store.RemoveRoomParticipant(ctx, roomID, m.Local)
		mediaH.Stop()
		cancel()
		return nil, err
	}
	h.handles.add(sub)

	m.active = h
	log.Info().Str("module", "session.manager").Str("room", string(roomID)).Str("name", string(name)).Str("participant", string(m.Local)).Msg("joined room")
	return h, nil
}

// Leave is idempotent: an already-left or nil handle is a no-op.
func (m *Manager) Leave(ctx context.Context, h *RoomHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil || h.left.Load() {
		return
	}
	m.leaveLocked(ctx, h)
	if m.active == h {
		m.active = nil
	}
}

// leaveLocked runs the teardown sequence: roster listener, peer entries,
// local media, roster removal, then best-effort empty-room cleanup. Local
// teardown always completes even when the roster write fails: the user
// must not keep a live microphone because the backend was unreachable.
func (m *Manager) leaveLocked(ctx context.Context, h *RoomHandle) {
	if h.left.Swap(true) {
		return
	}
	h.handles.disposeAll()
	h.sup.TeardownAll()
	h.mediaH.Stop()
	h.cancel()

	if err := m.Store.RemoveRoomParticipant(ctx, h.roomID, m.Local); err != nil {
		log.Error().Err(err).Str("module", "session.manager").Str("room", string(h.roomID)).Msg("roster removal failed, stale entry self-heals on next observation")
		return
	}

	room, err := m.Store.RoomRoster(ctx, h.roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "session.manager").Str("room", string(h.roomID)).Msg("post-leave roster read failed")
		return
	}
	if room != nil && len(room.Participants) > 0 {
		log.Info().Str("module", "session.manager").Str("room", string(h.roomID)).Int("remaining", len(room.Participants)).Msg("left room")
		return
	}

	// Last one out deletes the room and its signaling records. This
	// check-then-act can race a concurrent join; the join recreates the
	// document, so the cleanup stays best-effort rather than transactional.
	if err := m.Store.BulkDeleteSignals(ctx, h.roomID); err != nil {
		log.Error().Err(err).Str("module", "session.manager").Str("room", string(h.roomID)).Msg("signal purge failed")
	}
	if err := m.Store.DeleteRoom(ctx, h.roomID); err != nil {
		log.Error().Err(err).Str("module", "session.manager").Str("room", string(h.roomID)).Msg("room delete failed")
	}
	log.Info().Str("module", "session.manager").Str("room", string(h.roomID)).Msg("left empty room, cleaned up")
}

// onRoster runs on the roster subscription goroutine, in delivery order.
// The first snapshot describes who was present at join time, so entries
// seeded from it wait for offers; ids appearing later are newcomers and
// the local side offers toward them.
func (h *RoomHandle) onRoster(room *domain.Room) {
	if h.left.Load() {
		return
	}
	remotes := make(map[domain.ParticipantID]struct{})
	if room != nil {
		for p := range room.Participants {
			remotes[p] = struct{}{}
		}
	}
	isInitiator := h.seeded.Swap(true)
	h.sup.Reconcile(h.ctx, remotes, isInitiator)
	h.mgr.Events.emitRoster(h.mgr.projectRoster(h, room))
}

func (m *Manager) projectRoster(h *RoomHandle, room *domain.Room) domain.RosterSnapshot {
	snap := domain.RosterSnapshot{RoomID: h.roomID, Name: h.name}
	if room == nil {
		return snap
	}
	for _, id := range room.ParticipantList() {
		snap.Participants = append(snap.Participants, m.resolve(id))
	}
	return snap
}

func (m *Manager) resolve(id domain.ParticipantID) domain.ParticipantInfo {
	if m.Resolver != nil {
		return m.Resolver.Resolve(id)
	}
	return domain.ParticipantInfo{ID: id, DisplayName: string(id)}
}

// Package memory is an in-process RelayStore. It backs the tests and
// single-process deployments; the redis store is the networked twin.
package memory

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
)

type subID int

// Store is a threadsafe in-memory document store with push subscriptions.
// Callbacks run on a per-subscription goroutine in write order, so
// subscribers may call back into the store without deadlock.
type Store struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*domain.Room
	tenants map[domain.TenantID]map[domain.RoomID]struct{}
	signals map[domain.RoomID][]domain.SignalingMessage

	roomSubs   map[domain.RoomID]map[subID]*roomSubscriber
	tenantSubs map[domain.TenantID]map[subID]*tenantSubscriber
	signalSubs map[domain.RoomID]map[subID]*signalSubscriber

	nextSub subID
}

func NewStore() *Store {
	return &Store{
		rooms:      make(map[domain.RoomID]*domain.Room),
		tenants:    make(map[domain.TenantID]map[domain.RoomID]struct{}),
		signals:    make(map[domain.RoomID][]domain.SignalingMessage),
		roomSubs:   make(map[domain.RoomID]map[subID]*roomSubscriber),
		tenantSubs: make(map[domain.TenantID]map[subID]*tenantSubscriber),
		signalSubs: make(map[domain.RoomID]map[subID]*signalSubscriber),
	}
}

// subscriber serializes callback delivery on its own goroutine.
type subscriber struct {
	ch     chan func()
	once   sync.Once
	remove func()
}

func newSubscriber(remove func()) *subscriber {
	s := &subscriber{ch: make(chan func(), 64), remove: remove}
	go func() {
		for fn := range s.ch {
			fn()
		}
	}()
	return s
}

func (s *subscriber) deliver(fn func()) {
	defer func() {
		// A send on a closed channel means delivery raced Dispose; the
		// notification is dropped, same as any unsubscribed listener.
		_ = recover()
	}()
	s.ch <- fn
}

func (s *subscriber) Dispose() {
	s.once.Do(func() {
		s.remove()
		close(s.ch)
	})
}

type roomSubscriber struct {
	*subscriber
	cb core.RoomCallback
}

type tenantSubscriber struct {
	*subscriber
	cb core.DirectoryCallback
}

type signalSubscriber struct {
	*subscriber
	to   domain.ParticipantID
	from domain.ParticipantID
	cb   core.SignalCallback
}

func (st *Store) UpsertRoomParticipant(ctx context.Context, tenant domain.TenantID, name domain.RoomName, p domain.ParticipantID) error {
	st.mu.Lock()
	id := domain.DeriveRoomID(tenant, name)
	room, ok := st.rooms[id]
	if !ok {
		var err error
		room, err = domain.NewRoom(tenant, name)
		if err != nil {
			st.mu.Unlock()
			return err
		}
		st.rooms[id] = room
		if st.tenants[tenant] == nil {
			st.tenants[tenant] = make(map[domain.RoomID]struct{})
		}
		st.tenants[tenant][id] = struct{}{}
	}
	room.Participants[p] = struct{}{}
	st.mu.Unlock()

	log.Debug().Str("module", "relay.memory").Str("room", string(id)).Str("participant", string(p)).Msg("participant upserted")
	st.notifyRoom(id)
	st.notifyTenant(tenant)
	return nil
}

func (st *Store) RemoveRoomParticipant(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	st.mu.Lock()
	room, ok := st.rooms[roomID]
	if !ok {
		st.mu.Unlock()
		return nil
	}
	delete(room.Participants, p)
	tenant := room.Tenant
	st.mu.Unlock()

	log.Debug().Str("module", "relay.memory").Str("room", string(roomID)).Str("participant", string(p)).Msg("participant removed")
	st.notifyRoom(roomID)
	st.notifyTenant(tenant)
	return nil
}

func (st *Store) RoomRoster(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	room, ok := st.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room.Clone(), nil
}

func (st *Store) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	st.mu.Lock()
	room, ok := st.rooms[roomID]
	if !ok {
		st.mu.Unlock()
		return nil
	}
	tenant := room.Tenant
	delete(st.rooms, roomID)
	if set, ok := st.tenants[tenant]; ok {
		delete(set, roomID)
	}
	st.mu.Unlock()

	log.Debug().Str("module", "relay.memory").Str("room", string(roomID)).Msg("room deleted")
	st.notifyRoom(roomID)
	st.notifyTenant(tenant)
	return nil
}

func (st *Store) SubscribeRoom(ctx context.Context, roomID domain.RoomID, cb core.RoomCallback) (core.Subscription, error) {
	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	sub := &roomSubscriber{cb: cb}
	sub.subscriber = newSubscriber(func() {
		st.mu.Lock()
		delete(st.roomSubs[roomID], id)
		st.mu.Unlock()
	})
	if st.roomSubs[roomID] == nil {
		st.roomSubs[roomID] = make(map[subID]*roomSubscriber)
	}
	st.roomSubs[roomID][id] = sub
	var snap *domain.Room
	if room, ok := st.rooms[roomID]; ok {
		snap = room.Clone()
	}
	st.mu.Unlock()

	// Initial snapshot, like any push-based document watch.
	sub.deliver(func() { cb(snap) })
	return sub, nil
}

func (st *Store) SubscribeRoomsByTenant(ctx context.Context, tenant domain.TenantID, cb core.DirectoryCallback) (core.Subscription, error) {
	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	sub := &tenantSubscriber{cb: cb}
	sub.subscriber = newSubscriber(func() {
		st.mu.Lock()
		delete(st.tenantSubs[tenant], id)
		st.mu.Unlock()
	})
	if st.tenantSubs[tenant] == nil {
		st.tenantSubs[tenant] = make(map[subID]*tenantSubscriber)
	}
	st.tenantSubs[tenant][id] = sub
	snap := st.tenantSnapshotLocked(tenant)
	st.mu.Unlock()

	sub.deliver(func() { cb(snap) })
	return sub, nil
}

func (st *Store) AppendSignal(ctx context.Context, roomID domain.RoomID, msg domain.SignalingMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.signals[roomID] = append(st.signals[roomID], msg)
	targets := make([]*signalSubscriber, 0, len(st.signalSubs[roomID]))
	for _, sub := range st.signalSubs[roomID] {
		if sub.to == msg.To && sub.from == msg.From {
			targets = append(targets, sub)
		}
	}
	st.mu.Unlock()

	for _, sub := range targets {
		m, cb := msg, sub.cb
		sub.deliver(func() { cb(m) })
	}
	return nil
}

func (st *Store) SubscribeSignal(ctx context.Context, roomID domain.RoomID, to, from domain.ParticipantID, cb core.SignalCallback) (core.Subscription, error) {
	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	sub := &signalSubscriber{to: to, from: from, cb: cb}
	sub.subscriber = newSubscriber(func() {
		st.mu.Lock()
		delete(st.signalSubs[roomID], id)
		st.mu.Unlock()
	})
	if st.signalSubs[roomID] == nil {
		st.signalSubs[roomID] = make(map[subID]*signalSubscriber)
	}
	st.signalSubs[roomID][id] = sub
	backlog := make([]domain.SignalingMessage, 0)
	for _, msg := range st.signals[roomID] {
		if msg.To == to && msg.From == from {
			backlog = append(backlog, msg)
		}
	}
	st.mu.Unlock()

	// Replay matching messages written before the subscription existed;
	// negotiation must not hinge on who subscribed first.
	for _, msg := range backlog {
		m := msg
		sub.deliver(func() { cb(m) })
	}
	return sub, nil
}

func (st *Store) BulkDeleteSignals(ctx context.Context, roomID domain.RoomID) error {
	st.mu.Lock()
	delete(st.signals, roomID)
	st.mu.Unlock()
	log.Debug().Str("module", "relay.memory").Str("room", string(roomID)).Msg("signals purged")
	return nil
}

// SignalLog returns a copy of the room's signaling records, oldest first.
// Inspection only; consumers use SubscribeSignal.
func (st *Store) SignalLog(roomID domain.RoomID) []domain.SignalingMessage {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]domain.SignalingMessage, len(st.signals[roomID]))
	copy(out, st.signals[roomID])
	return out
}

func (st *Store) notifyRoom(roomID domain.RoomID) {
	st.mu.RLock()
	var snap *domain.Room
	if room, ok := st.rooms[roomID]; ok {
		snap = room.Clone()
	}
	targets := make([]*roomSubscriber, 0, len(st.roomSubs[roomID]))
	for _, sub := range st.roomSubs[roomID] {
		targets = append(targets, sub)
	}
	st.mu.RUnlock()

	for _, sub := range targets {
		cb := sub.cb
		sub.deliver(func() { cb(snap) })
	}
}

func (st *Store) notifyTenant(tenant domain.TenantID) {
	st.mu.RLock()
	snap := st.tenantSnapshotLocked(tenant)
	targets := make([]*tenantSubscriber, 0, len(st.tenantSubs[tenant]))
	for _, sub := range st.tenantSubs[tenant] {
		targets = append(targets, sub)
	}
	st.mu.RUnlock()

	for _, sub := range targets {
		cb := sub.cb
		sub.deliver(func() { cb(snap) })
	}
}

func (st *Store) tenantSnapshotLocked(tenant domain.TenantID) []*domain.Room {
	out := make([]*domain.Room, 0, len(st.tenants[tenant]))
	for id := range st.tenants[tenant] {
		if room, ok := st.rooms[id]; ok {
			out = append(out, room.Clone())
		}
	}
	return out
}

// Package directory republishes tenant-wide room snapshots for display:
// who is in which room, independent of whether the local session joined
// anything.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
)

// Observer watches all rooms of a tenant and projects each change into
// resolved roster snapshots, latest wins.
type Observer struct {
	Store    core.RelayStore
	Resolver core.Resolver
}

// Watch subscribes to the tenant's rooms and invokes cb with the full
// snapshot list on every change. The returned subscription stops delivery.
func (o *Observer) Watch(ctx context.Context, tenant domain.TenantID, cb func([]domain.RosterSnapshot)) (core.Subscription, error) {
	sub, err := o.Store.SubscribeRoomsByTenant(ctx, tenant, func(rooms []*domain.Room) {
		cb(o.project(rooms))
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("module", "directory").Str("tenant", string(tenant)).Msg("watching tenant rooms")
	return sub, nil
}

func (o *Observer) project(rooms []*domain.Room) []domain.RosterSnapshot {
	out := make([]domain.RosterSnapshot, 0, len(rooms))
	for _, room := range rooms {
		if room == nil || len(room.Participants) == 0 {
			continue
		}
		snap := domain.RosterSnapshot{RoomID: room.ID, Name: room.Name}
		for _, id := range room.ParticipantList() {
			snap.Participants = append(snap.Participants, o.resolve(id))
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (o *Observer) resolve(id domain.ParticipantID) domain.ParticipantInfo {
	if o.Resolver != nil {
		return o.Resolver.Resolve(id)
	}
	return domain.ParticipantInfo{ID: id, DisplayName: string(id)}
}

// StaticResolver serves display names from a fixed table, falling back to
// the raw id.
type StaticResolver struct {
	mu    sync.RWMutex
	names map[domain.ParticipantID]string
}

func NewStaticResolver(names map[domain.ParticipantID]string) *StaticResolver {
	if names == nil {
		names = make(map[domain.ParticipantID]string)
	}
	return &StaticResolver{names: names}
}

func (r *StaticResolver) Resolve(id domain.ParticipantID) domain.ParticipantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.names[id]; ok {
		return domain.ParticipantInfo{ID: id, DisplayName: name}
	}
	return domain.ParticipantInfo{ID: id, DisplayName: string(id)}
}

// Set updates one directory entry.
func (r *StaticResolver) Set(id domain.ParticipantID, name string) {
	r.mu.Lock()
	r.names[id] = name
	r.mu.Unlock()
}

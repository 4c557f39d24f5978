// Package domain contains entity types without logic, just meta-data.
package domain

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

type (
	TenantID      string
	ParticipantID string
	RoomID        string
	RoomName      string
)

const MaxRoomNameLen = 64

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

// roomNamespace salts room id derivation so ids do not collide with
// other uuid.NewSHA1 users sharing the same backend.
var roomNamespace = uuid.MustParse("9f2d64e1-40b7-4c21-8f07-3a9a51c7b5d2")

// DeriveRoomID computes the stable id for a (tenant, name) pair. The same
// pair always maps to the same id, so rejoining a room after it was torn
// down recreates the same document.
func DeriveRoomID(tenant TenantID, name RoomName) RoomID {
	id := uuid.NewSHA1(roomNamespace, []byte(string(tenant)+"/"+string(name)))
	return RoomID(id.String())
}

// Room is the roster document for one voice channel. Participants is the
// single source of truth for membership; the document exists iff the set
// is non-empty.
type Room struct {
	ID           RoomID
	Tenant       TenantID
	Name         RoomName
	Participants map[ParticipantID]struct{}
}

// NewRoom avoids raw literals in adapters and keeps construction obvious.
func NewRoom(tenant TenantID, name RoomName) (*Room, error) {
	if len(name) == 0 {
		return nil, ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	return &Room{
		ID:           DeriveRoomID(tenant, name),
		Tenant:       tenant,
		Name:         name,
		Participants: make(map[ParticipantID]struct{}),
	}, nil
}

func (r *Room) Has(p ParticipantID) bool {
	_, ok := r.Participants[p]
	return ok
}

// ParticipantList returns the roster in stable order.
func (r *Room) ParticipantList() []ParticipantID {
	out := make([]ParticipantID, 0, len(r.Participants))
	for p := range r.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy safe to hand to subscribers.
func (r *Room) Clone() *Room {
	cp := &Room{
		ID:           r.ID,
		Tenant:       r.Tenant,
		Name:         r.Name,
		Participants: make(map[ParticipantID]struct{}, len(r.Participants)),
	}
	for p := range r.Participants {
		cp.Participants[p] = struct{}{}
	}
	return cp
}

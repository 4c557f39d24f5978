package core

import (
	"context"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
)

// Subscription is a live push feed from the relay store.
// Dispose stops delivery; it is safe to call more than once.
type Subscription interface {
	Dispose()
}

// RoomCallback receives the full roster document on every change.
// A nil room means the document was deleted.
type RoomCallback func(room *domain.Room)

// DirectoryCallback receives the full set of rooms for a tenant on every
// change to any of them.
type DirectoryCallback func(rooms []*domain.Room)

// SignalCallback receives signaling messages matching the subscription
// filter, in write order for the (from, to) pair.
type SignalCallback func(msg domain.SignalingMessage)

// RelayStore is the document-store collaborator: the roster documents and
// the append-only signaling sub-records hang off it. Implementations only
// relay bytes; they never interpret SDP.
type RelayStore interface {
	// UpsertRoomParticipant creates the room document if absent and adds
	// the participant with an additive merge, so concurrent joins compose
	// rather than clobber each other.
	UpsertRoomParticipant(ctx context.Context, tenant domain.TenantID, name domain.RoomName, p domain.ParticipantID) error
	// RemoveRoomParticipant removes the participant with a subtractive
	// update. Removing an absent participant is a no-op.
	RemoveRoomParticipant(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error
	// RoomRoster reads the current roster once. A nil room means the
	// document does not exist.
	RoomRoster(ctx context.Context, roomID domain.RoomID) (*domain.Room, error)

	SubscribeRoom(ctx context.Context, roomID domain.RoomID, cb RoomCallback) (Subscription, error)
	SubscribeRoomsByTenant(ctx context.Context, tenant domain.TenantID, cb DirectoryCallback) (Subscription, error)

	// AppendSignal writes one signaling message under the room. Messages
	// are write-once and only bulk-deleted with the room.
	AppendSignal(ctx context.Context, roomID domain.RoomID, msg domain.SignalingMessage) error
	// SubscribeSignal delivers messages addressed to `to` from `from`,
	// including messages appended before the subscription was created.
	SubscribeSignal(ctx context.Context, roomID domain.RoomID, to, from domain.ParticipantID, cb SignalCallback) (Subscription, error)

	DeleteRoom(ctx context.Context, roomID domain.RoomID) error
	BulkDeleteSignals(ctx context.Context, roomID domain.RoomID) error
}

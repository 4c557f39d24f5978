// Package redisrelay backs the RelayStore with redis: roster documents as
// hashes plus member sets, signaling as append-only lists, change
// notification over pub/sub. Set-based roster mutation gives the additive
// merge the membership contract requires.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
)

type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func roomKey(id domain.RoomID) string        { return "ap:room:" + string(id) }
func membersKey(id domain.RoomID) string     { return "ap:room:" + string(id) + ":members" }
func signalsKey(id domain.RoomID) string     { return "ap:room:" + string(id) + ":signals" }
func roomChannel(id domain.RoomID) string    { return "ap:room:" + string(id) + ":events" }
func signalChannel(id domain.RoomID) string  { return "ap:room:" + string(id) + ":signal" }
func tenantKey(t domain.TenantID) string     { return "ap:tenant:" + string(t) + ":rooms" }
func tenantChannel(t domain.TenantID) string { return "ap:tenant:" + string(t) + ":events" }

// signalEnvelope carries the list position so live pub/sub delivery can be
// deduplicated against the backlog replay.
type signalEnvelope struct {
	Seq int64                   `json:"seq"`
	Msg domain.SignalingMessage `json:"msg"`
}

func (s *Store) UpsertRoomParticipant(ctx context.Context, tenant domain.TenantID, name domain.RoomName, p domain.ParticipantID) error {
	id := domain.DeriveRoomID(tenant, name)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, roomKey(id), "tenant", string(tenant), "name", string(name))
	pipe.SAdd(ctx, membersKey(id), string(p))
	pipe.SAdd(ctx, tenantKey(tenant), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", core.ErrRosterMutation, id, err)
	}
	s.publishRoomChange(ctx, id, tenant)
	return nil
}

func (s *Store) RemoveRoomParticipant(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	tenant, err := s.roomTenant(ctx, roomID)
	if err != nil {
		return err
	}
	if tenant == "" {
		return nil
	}
	if err := s.client.SRem(ctx, membersKey(roomID), string(p)).Err(); err != nil {
		return fmt.Errorf("%w: remove %s: %v", core.ErrRosterMutation, roomID, err)
	}
	s.publishRoomChange(ctx, roomID, tenant)
	return nil
}

func (s *Store) RoomRoster(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	return s.readRoom(ctx, roomID)
}

func (s *Store) DeleteRoom(ctx context.Context, roomID domain.RoomID) error {
	tenant, err := s.roomTenant(ctx, roomID)
	if err != nil {
		return err
	}
	if tenant == "" {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomKey(roomID), membersKey(roomID))
	pipe.SRem(ctx, tenantKey(tenant), string(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete %s: %v", core.ErrRosterMutation, roomID, err)
	}
	s.publishRoomChange(ctx, roomID, tenant)
	return nil
}

func (s *Store) AppendSignal(ctx context.Context, roomID domain.RoomID, msg domain.SignalingMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", core.ErrSignalingWrite, err)
	}
	seq, err := s.client.RPush(ctx, signalsKey(roomID), raw).Result()
	if err != nil {
		return fmt.Errorf("%w: append %s: %v", core.ErrSignalingWrite, roomID, err)
	}
	env, err := json.Marshal(signalEnvelope{Seq: seq, Msg: msg})
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", core.ErrSignalingWrite, err)
	}
	if err := s.client.Publish(ctx, signalChannel(roomID), env).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", core.ErrSignalingWrite, roomID, err)
	}
	return nil
}

func (s *Store) BulkDeleteSignals(ctx context.Context, roomID domain.RoomID) error {
	if err := s.client.Del(ctx, signalsKey(roomID)).Err(); err != nil {
		return fmt.Errorf("%w: purge %s: %v", core.ErrSignalingWrite, roomID, err)
	}
	return nil
}

func (s *Store) SubscribeRoom(ctx context.Context, roomID domain.RoomID, cb core.RoomCallback) (core.Subscription, error) {
	return s.watch(ctx, roomChannel(roomID), func(watchCtx context.Context) {
		room, err := s.readRoom(watchCtx, roomID)
		if err != nil {
			log.Error().Err(err).Str("module", "relay.redis").Str("room", string(roomID)).Msg("roster read failed")
			return
		}
		cb(room)
	})
}

func (s *Store) SubscribeRoomsByTenant(ctx context.Context, tenant domain.TenantID, cb core.DirectoryCallback) (core.Subscription, error) {
	return s.watch(ctx, tenantChannel(tenant), func(watchCtx context.Context) {
		ids, err := s.client.SMembers(watchCtx, tenantKey(tenant)).Result()
		if err != nil {
			log.Error().Err(err).Str("module", "relay.redis").Str("tenant", string(tenant)).Msg("tenant read failed")
			return
		}
		rooms := make([]*domain.Room, 0, len(ids))
		for _, id := range ids {
			room, err := s.readRoom(watchCtx, domain.RoomID(id))
			if err != nil || room == nil {
				continue
			}
			rooms = append(rooms, room)
		}
		cb(rooms)
	})
}

func (s *Store) SubscribeSignal(ctx context.Context, roomID domain.RoomID, to, from domain.ParticipantID, cb core.SignalCallback) (core.Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pubsub := s.client.Subscribe(watchCtx, signalChannel(roomID))
	// Force the subscription onto the wire before reading the backlog so
	// no message can fall between replay and live delivery.
	if _, err := pubsub.Receive(watchCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", core.ErrSignalingRead, roomID, err)
	}

	backlog, err := s.client.LRange(watchCtx, signalsKey(roomID), 0, -1).Result()
	if err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: backlog %s: %v", core.ErrSignalingRead, roomID, err)
	}

	sub := &subscription{cancel: cancel, pubsub: pubsub}
	go func() {
		var lastSeq int64
		for i, raw := range backlog {
			var msg domain.SignalingMessage
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				continue
			}
			lastSeq = int64(i + 1)
			if msg.To == to && msg.From == from {
				cb(msg)
			}
		}
		ch := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env signalEnvelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					continue
				}
				if env.Seq <= lastSeq {
					continue
				}
				lastSeq = env.Seq
				if env.Msg.To == to && env.Msg.From == from {
					cb(env.Msg)
				}
			}
		}
	}()
	return sub, nil
}

// watch subscribes to a change channel and re-reads state on every ping,
// delivering an initial snapshot first.
func (s *Store) watch(ctx context.Context, channel string, refresh func(context.Context)) (core.Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pubsub := s.client.Subscribe(watchCtx, channel)
	if _, err := pubsub.Receive(watchCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", core.ErrSignalingRead, channel, err)
	}
	sub := &subscription{cancel: cancel, pubsub: pubsub}
	go func() {
		refresh(watchCtx)
		ch := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				refresh(watchCtx)
			}
		}
	}()
	return sub, nil
}

type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func (s *subscription) Dispose() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

func (s *Store) roomTenant(ctx context.Context, roomID domain.RoomID) (domain.TenantID, error) {
	tenant, err := s.client.HGet(ctx, roomKey(roomID), "tenant").Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", core.ErrSignalingRead, roomID, err)
	}
	return domain.TenantID(tenant), nil
}

func (s *Store) readRoom(ctx context.Context, roomID domain.RoomID) (*domain.Room, error) {
	meta, err := s.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrSignalingRead, roomID, err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	members, err := s.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: members %s: %v", core.ErrSignalingRead, roomID, err)
	}
	room := &domain.Room{
		ID:           roomID,
		Tenant:       domain.TenantID(meta["tenant"]),
		Name:         domain.RoomName(meta["name"]),
		Participants: make(map[domain.ParticipantID]struct{}, len(members)),
	}
	for _, m := range members {
		room.Participants[domain.ParticipantID(m)] = struct{}{}
	}
	return room, nil
}

func (s *Store) publishRoomChange(ctx context.Context, roomID domain.RoomID, tenant domain.TenantID) {
	if err := s.client.Publish(ctx, roomChannel(roomID), "roster").Err(); err != nil {
		log.Error().Err(err).Str("module", "relay.redis").Str("room", string(roomID)).Msg("roster publish failed")
	}
	if err := s.client.Publish(ctx, tenantChannel(tenant), "rooms").Err(); err != nil {
		log.Error().Err(err).Str("module", "relay.redis").Str("tenant", string(tenant)).Msg("tenant publish failed")
	}
}

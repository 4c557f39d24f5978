package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/EWilliamHertz/ActionPad-sub000/internal/core"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/directory"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/domain"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/media"
	"github.com/EWilliamHertz/ActionPad-sub000/internal/session"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway binds websocket clients to voice sessions: one connected client
// is one local participant.
type Gateway struct {
	Store      core.RelayStore
	Dialer     core.Dialer
	Capturer   core.Capturer
	Resolver   core.Resolver
	Tenant     domain.TenantID
	ICEServers []string
}

type command struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
}

type event struct {
	Event  string                  `json:"event"`
	Roster *domain.RosterSnapshot  `json:"roster,omitempty"`
	Rooms  []domain.RosterSnapshot `json:"rooms,omitempty"`
	Remote domain.ParticipantID    `json:"remote,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	handle *session.RoomHandle
}

func (c *wsClient) trySend(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (gw *Gateway) HandleWS(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("ws upgrade")
		return
	}
	client := &wsClient{conn: ws, send: make(chan []byte, 32)}
	log.Info().Str("module", "transport.ws").Str("participant", string(pid)).Msg("client connected")

	events := &session.Events{
		OnRoster: func(s domain.RosterSnapshot) {
			_ = client.trySend(event{Event: "roster", Roster: &s})
		},
		OnSink: func(remote domain.ParticipantID, _ *media.Sink) {
			_ = client.trySend(event{Event: "sink", Remote: remote})
		},
		OnSinkClosed: func(remote domain.ParticipantID) {
			_ = client.trySend(event{Event: "sink_closed", Remote: remote})
		},
	}
	mgr := &session.Manager{
		Local:      pid,
		Store:      gw.Store,
		Dialer:     gw.Dialer,
		Capturer:   gw.Capturer,
		Resolver:   gw.Resolver,
		ICEServers: gw.ICEServers,
		Events:     events,
	}

	obs := &directory.Observer{Store: gw.Store, Resolver: gw.Resolver}
	dirSub, err := obs.Watch(ctx, gw.Tenant, func(rooms []domain.RosterSnapshot) {
		_ = client.trySend(event{Event: "rooms", Rooms: rooms})
	})
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("directory watch failed")
		client.close()
		return
	}

	go gw.writePump(client)
	gw.readPump(ctx, pid, client, mgr)

	// Disconnect: leave whatever room is active and stop the watches.
	client.mu.Lock()
	handle := client.handle
	client.mu.Unlock()
	mgr.Leave(context.Background(), handle)
	dirSub.Dispose()
	client.close()
	log.Info().Str("module", "transport.ws").Str("participant", string(pid)).Msg("client disconnected")
}

func (gw *Gateway) readPump(ctx context.Context, pid domain.ParticipantID, client *wsClient, mgr *session.Manager) {
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			_ = client.trySend(event{Event: "error", Error: "bad command"})
			continue
		}
		switch cmd.Action {
		case "join":
			handle, err := mgr.Join(ctx, gw.Tenant, domain.RoomName(cmd.Room))
			if err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Str("participant", string(pid)).Str("room", cmd.Room).Msg("join failed")
				_ = client.trySend(event{Event: "error", Error: err.Error()})
				continue
			}
			client.mu.Lock()
			client.handle = handle
			client.mu.Unlock()
		case "leave":
			client.mu.Lock()
			handle := client.handle
			client.handle = nil
			client.mu.Unlock()
			mgr.Leave(ctx, handle)
		default:
			_ = client.trySend(event{Event: "error", Error: "unknown action"})
		}
	}
}

func (gw *Gateway) writePump(client *wsClient) {
	for raw := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}

package internal

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"huddle/internal/presence"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	sendBufferSize  = 256
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 20
)

// EventHandler handles one inbound event on the connection's read goroutine.
type EventHandler func(client *Client, msg Envelope)

// Client is one open websocket connection of an authenticated user.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID presence.UserID
	logger *slog.Logger

	// guarded by hub.mu
	rooms map[presence.Room]struct{}

	// owned by the read goroutine
	handlers     map[string]EventHandler
	inbound      *rate.Limiter
	lease        *presence.Lease
	videoJoins   map[presence.GroupID]int
	onDisconnect func(*Client)
}

func newClient(hub *Hub, conn *websocket.Conn, userID presence.UserID, logger *slog.Logger) *Client {
	id := ulid.Make().String()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:           id,
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		userID:       userID,
		logger:       logger.With("conn_id", id, "user_id", userID),
		rooms:        make(map[presence.Room]struct{}),
		handlers:     make(map[string]EventHandler),
		inbound:      newInboundLimiter(),
		videoJoins:   make(map[presence.GroupID]int),
	}
}

func (client *Client) ID() string { return client.id }

func (client *Client) UserID() presence.UserID { return client.userID }

// On registers handler for inbound frames named event. Handlers must be
// registered before the pumps start.
func (client *Client) On(event string, handler EventHandler) {
	client.handlers[event] = handler
}

// OnDisconnect registers the cleanup run once the connection is gone.
func (client *Client) OnDisconnect(fn func(*Client)) {
	client.onDisconnect = fn
}

func (client *Client) readPump() {
	defer func() {
		client.hub.Unregister(client)
		_ = client.conn.Close()
		if client.onDisconnect != nil {
			client.onDisconnect(client)
		}
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Debug("connection read error", "error", err)
			}
			break
		}
		now := time.Now()
		if !client.allowMessage(now) {
			client.hub.sendRaw(client, encodeError("rate limited"))
			continue
		}
		var msg Envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			client.hub.sendRaw(client, encodeError("malformed frame"))
			continue
		}
		handler, ok := client.handlers[msg.Event]
		if !ok {
			client.logger.Debug("ignoring unknown event", "event", msg.Event)
			continue
		}
		handler(client, msg)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowMessage spends one inbound token.
func (client *Client) allowMessage(now time.Time) bool {
	return client.inbound.AllowN(now, 1)
}

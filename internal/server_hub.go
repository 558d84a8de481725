package internal

import (
	"log/slog"
	"sync"

	"huddle/internal/presence"
)

// Hub is the process-wide table of open connections and the rooms they
// joined. It implements presence.Publisher.
//
// Publishes are serialized by mu and queued into each client's FIFO send
// buffer, so events published to one room arrive in publish order.
type Hub struct {
	mu      sync.Mutex
	closed  bool
	clients map[*Client]struct{}
	rooms   map[presence.Room]map[*Client]struct{}
	logger  *slog.Logger
	metrics *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[presence.Room]map[*Client]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds client to the hub. It reports false once CloseAll has run.
func (hub *Hub) Register(client *Client) bool {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.closed {
		return false
	}
	hub.clients[client] = struct{}{}
	return true
}

// Unregister removes client from every room and closes its send buffer.
// It is safe to call for a client the hub already dropped.
func (hub *Hub) Unregister(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.removeLocked(client)
}

func (hub *Hub) removeLocked(client *Client) {
	if _, ok := hub.clients[client]; !ok {
		return
	}
	for room := range client.rooms {
		hub.leaveLocked(client, room)
	}
	delete(hub.clients, client)
	close(client.send)
}

// JoinRoom subscribes client to room. Joining twice is a no-op.
func (hub *Hub) JoinRoom(client *Client, room presence.Room) {
	if room == presence.Everyone {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; !ok {
		return
	}
	hub.joinLocked(client, room)
}

func (hub *Hub) joinLocked(client *Client, room presence.Room) {
	members, ok := hub.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		hub.rooms[room] = members
	}
	members[client] = struct{}{}
	client.rooms[room] = struct{}{}
}

// JoinRoomWithSnapshot joins room and queues snapshot() to client under the
// same lock as Publish, so no newer room event can be queued before it.
func (hub *Hub) JoinRoomWithSnapshot(client *Client, room presence.Room, snapshot func() presence.Event) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; !ok {
		return
	}
	hub.joinLocked(client, room)
	event := snapshot()
	payload, err := encodeEvent(room, event)
	if err != nil {
		hub.logger.Error("encode event", "event", event.Name(), "error", err)
		return
	}
	hub.deliverLocked(client, payload)
}

// EvictUser removes every connection of user from the given rooms.
func (hub *Hub) EvictUser(user presence.UserID, rooms ...presence.Room) int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	evicted := 0
	for client := range hub.clients {
		if client.userID != user {
			continue
		}
		for _, room := range rooms {
			if _, ok := client.rooms[room]; ok {
				hub.leaveLocked(client, room)
				evicted++
			}
		}
	}
	return evicted
}

func (hub *Hub) LeaveRoom(client *Client, room presence.Room) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.leaveLocked(client, room)
}

func (hub *Hub) leaveLocked(client *Client, room presence.Room) {
	delete(client.rooms, room)
	members, ok := hub.rooms[room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(hub.rooms, room)
	}
}

// Publish delivers event to the clients joined to room at the time of the
// call, or to every client for presence.Everyone. Clients that cannot keep
// up are dropped; the publish then reaches fewer recipients.
func (hub *Hub) Publish(room presence.Room, event presence.Event) {
	payload, err := encodeEvent(room, event)
	if err != nil {
		hub.logger.Error("encode event", "event", event.Name(), "error", err)
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	targets := hub.clients
	if room != presence.Everyone {
		targets = hub.rooms[room]
	}
	for client := range targets {
		hub.deliverLocked(client, payload)
	}
}

func (hub *Hub) sendRaw(client *Client, payload []byte) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if _, ok := hub.clients[client]; !ok {
		return
	}
	hub.deliverLocked(client, payload)
}

func (hub *Hub) deliverLocked(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		hub.logger.Warn("dropping slow connection", "conn_id", client.id, "user_id", client.userID)
		hub.metrics.IncDropped()
		hub.removeLocked(client)
	}
}

// RoomSize returns how many clients are joined to room.
func (hub *Hub) RoomSize(room presence.Room) int {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if room == presence.Everyone {
		return len(hub.clients)
	}
	return len(hub.rooms[room])
}

// CloseAll closes every open connection and rejects later registrations.
// Each read pump then runs its disconnect cleanup.
func (hub *Hub) CloseAll() {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.closed = true
	for client := range hub.clients {
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

func (hub *Hub) ClientCount() int {
	return hub.RoomSize(presence.Everyone)
}

package internal

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"huddle/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the request, upgrades it and wires the connection's
// event handlers. Presence is only counted once the client sends "online".
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	if !s.beginConn() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.conns.Done()
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, authCtx.UserID, s.logger)
	s.bindHandlers(client)
	if !s.hub.Register(client) {
		// Shutdown closed the hub while this request was upgrading.
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		s.conns.Done()
		return
	}
	s.metrics.IncConn()
	client.logger.Info("connection opened")

	go client.writePump()
	go client.readPump()
}

func (s *Server) bindHandlers(client *Client) {
	client.On(eventOnline, s.handleOnline)
	client.On(eventJoinGroup, s.handleJoinGroup)
	client.On(eventLeaveGroup, s.handleLeaveGroup)
	client.On(eventJoinVideoRoom, s.handleJoinVideoRoom)
	client.On(eventLeaveVideoRoom, s.handleLeaveVideoRoom)
	client.OnDisconnect(s.handleDisconnect)
}

func (s *Server) handleOnline(client *Client, _ Envelope) {
	s.metrics.IncInbound(eventOnline)
	if client.lease != nil {
		return
	}
	client.lease = s.engine.Tracker.Connect(client.userID)
}

func (s *Server) handleJoinGroup(client *Client, msg Envelope) {
	s.metrics.IncInbound(eventJoinGroup)
	group, ok := s.authorizeGroup(client, msg.Group)
	if !ok {
		return
	}
	s.hub.JoinRoomWithSnapshot(client, presence.GroupRoom(group), func() presence.Event {
		return presence.Event{
			Kind:  presence.KindGroupCount,
			Group: group,
			Count: s.engine.GroupLiveCount(group),
		}
	})
}

func (s *Server) handleLeaveGroup(client *Client, msg Envelope) {
	s.metrics.IncInbound(eventLeaveGroup)
	if msg.Group <= 0 {
		return
	}
	s.hub.LeaveRoom(client, presence.GroupRoom(presence.GroupID(msg.Group)))
}

func (s *Server) handleJoinVideoRoom(client *Client, msg Envelope) {
	s.metrics.IncInbound(eventJoinVideoRoom)
	group, ok := s.authorizeGroup(client, msg.Group)
	if !ok {
		return
	}
	// Announce before joining so the new peer does not hear about itself.
	s.engine.Signal.Join(group, msg.Peer)
	s.hub.JoinRoom(client, presence.VideoRoom(group))
	client.videoJoins[group]++
}

func (s *Server) handleLeaveVideoRoom(client *Client, msg Envelope) {
	s.metrics.IncInbound(eventLeaveVideoRoom)
	if msg.Group <= 0 {
		return
	}
	group := presence.GroupID(msg.Group)
	// Only joins made on this connection can be withdrawn through it.
	if client.videoJoins[group] == 0 {
		return
	}
	client.videoJoins[group]--
	if client.videoJoins[group] == 0 {
		delete(client.videoJoins, group)
		s.hub.LeaveRoom(client, presence.VideoRoom(group))
	}
	s.engine.Signal.Leave(group)
}

// handleDisconnect withdraws whatever the connection contributed: its
// presence, if it announced itself, and any video joins it never left.
func (s *Server) handleDisconnect(client *Client) {
	defer s.conns.Done()
	s.metrics.DecConn()
	client.lease.Release()
	for group, joins := range client.videoJoins {
		for i := 0; i < joins; i++ {
			s.engine.Signal.Leave(group)
		}
	}
	client.videoJoins = nil
	client.logger.Info("connection closed")
}

// authorizeGroup checks that the client's user belongs to the group.
func (s *Server) authorizeGroup(client *Client, rawGroup int64) (presence.GroupID, bool) {
	if rawGroup <= 0 {
		s.hub.sendRaw(client, encodeError("group required"))
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	role, err := s.store.MemberRole(ctx, rawGroup, int64(client.userID))
	if err != nil {
		client.logger.Error("membership check failed", "group_id", rawGroup, "error", err)
		s.hub.sendRaw(client, encodeError("membership check failed"))
		return 0, false
	}
	if !role.Valid() {
		s.hub.sendRaw(client, encodeError("not a member of this group"))
		return 0, false
	}
	return presence.GroupID(rawGroup), true
}

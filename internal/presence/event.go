package presence

import (
	"context"
	"strconv"
)

// UserID identifies an authenticated principal.
type UserID int64

// GroupID identifies a persisted chat group.
type GroupID int64

// VideoRoomID identifies the video room attached to a group.
type VideoRoomID string

// VideoRoomFor derives the video room of a group. The mapping is 1:1.
func VideoRoomFor(group GroupID) VideoRoomID {
	return VideoRoomID("video:" + strconv.FormatInt(int64(group), 10))
}

// Room is a broadcast subscription key.
type Room string

// Everyone addresses every open connection.
const Everyone Room = "*"

// GroupRoom is the room group subscribers join.
func GroupRoom(group GroupID) Room {
	return Room("group:" + strconv.FormatInt(int64(group), 10))
}

// VideoRoom is the room joined by signaling peers of a group's call.
func VideoRoom(group GroupID) Room {
	return Room(VideoRoomFor(group))
}

// Kind tags an Event.
type Kind int

const (
	KindOnline Kind = iota + 1
	KindOffline
	KindGroupCount
	KindVideoJoin
	KindVideoLeave
	KindPeerJoined
)

func (k Kind) String() string {
	switch k {
	case KindOnline:
		return "online"
	case KindOffline:
		return "offline"
	case KindGroupCount:
		return "count"
	case KindVideoJoin:
		return "user_join_video"
	case KindVideoLeave:
		return "user_leave_video"
	case KindPeerJoined:
		return "peer_joined"
	default:
		return "unknown"
	}
}

// Event is everything the engine publishes. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind    Kind
	Subject UserID
	Group   GroupID
	Count   int
	Peer    string
}

// Name is the wire event name. Group counts are keyed by group id.
func (e Event) Name() string {
	if e.Kind == KindGroupCount {
		return strconv.FormatInt(int64(e.Group), 10) + ":count"
	}
	return e.Kind.String()
}

// Publisher delivers events to the connections joined to a room.
type Publisher interface {
	Publish(room Room, event Event)
}

// MembershipResolver returns the groups a user owns, moderates or belongs to.
type MembershipResolver interface {
	GroupsForUser(ctx context.Context, user UserID) ([]GroupID, error)
}

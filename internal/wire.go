package internal

import (
	"encoding/json"
	"strconv"

	"huddle/internal/presence"
)

// Inbound event names.
const (
	eventOnline         = "online"
	eventJoinGroup      = "join_group"
	eventLeaveGroup     = "leave_group"
	eventJoinVideoRoom  = "join_video_room"
	eventLeaveVideoRoom = "leave_video_room"
	eventError          = "error"
)

// Envelope is the JSON frame exchanged in both directions over a connection.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Group   int64           `json:"group,omitempty"`
	Subject int64           `json:"subject,omitempty"`
	Peer    string          `json:"peer,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// encodeEvent renders a presence event for the wire. Counts travel as the
// integer payload.
func encodeEvent(room presence.Room, event presence.Event) ([]byte, error) {
	env := Envelope{
		Event: event.Name(),
		Room:  string(room),
	}
	switch event.Kind {
	case presence.KindOnline, presence.KindOffline:
		env.Subject = int64(event.Subject)
	case presence.KindGroupCount, presence.KindVideoJoin, presence.KindVideoLeave:
		env.Group = int64(event.Group)
		env.Data = json.RawMessage(strconv.Itoa(event.Count))
	case presence.KindPeerJoined:
		env.Group = int64(event.Group)
		env.Peer = event.Peer
	}
	return json.Marshal(env)
}

func encodeError(message string) []byte {
	data, _ := json.Marshal(message)
	payload, _ := json.Marshal(Envelope{Event: eventError, Data: data})
	return payload
}

// Count decodes the integer payload of a count event.
func (e Envelope) Count() (int, error) {
	var n int
	err := json.Unmarshal(e.Data, &n)
	return n, err
}

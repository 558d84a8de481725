package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const reconnectDelay = 2 * time.Second

type (
	connectedMsg      struct{ conn *websocket.Conn }
	incomingMsg       Envelope
	connectionLostMsg struct{ err error }
	connectFailedMsg  struct{ err error }
	reconnectMsg      struct{}
	noticeMsg         string
	authResultMsg     struct {
		resp *loginResponse
		err  error
	}
	groupsLoadedMsg struct {
		groups []groupDTO
		err    error
	}
	groupCreatedMsg struct {
		group *groupDTO
		err   error
	}
	loggedOutMsg struct{}
)

// command is a parsed slash command typed into the watch prompt.
type command struct {
	name  string
	group int64
	args  []string
}

var errUsage = errors.New("usage")

var commandUsage = map[string]string{
	"join":   "/join <group-id>",
	"leave":  "/leave <group-id>",
	"video":  "/video <group-id>",
	"hangup": "/hangup <group-id>",
	"create": "/create <name>",
	"add":    "/add <group-id> <username> [member|moderator]",
	"online": "/online <user-id>",
}

func parseCommand(input string) (command, error) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return command{}, errors.New("commands start with /")
	}
	cmd := command{name: strings.ToLower(strings.TrimPrefix(fields[0], "/"))}
	rest := fields[1:]
	switch cmd.name {
	case "quit", "exit", "logout", "groups", "help":
		return cmd, nil
	case "join", "leave", "video", "hangup", "online":
		if len(rest) != 1 {
			return cmd, fmt.Errorf("%w: %s", errUsage, commandUsage[cmd.name])
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil || id <= 0 {
			return cmd, fmt.Errorf("%w: %s", errUsage, commandUsage[cmd.name])
		}
		cmd.group = id
		return cmd, nil
	case "create":
		if len(rest) == 0 {
			return cmd, fmt.Errorf("%w: %s", errUsage, commandUsage[cmd.name])
		}
		cmd.args = []string{strings.Join(rest, " ")}
		return cmd, nil
	case "add":
		if len(rest) < 2 || len(rest) > 3 {
			return cmd, fmt.Errorf("%w: %s", errUsage, commandUsage[cmd.name])
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil || id <= 0 {
			return cmd, fmt.Errorf("%w: %s", errUsage, commandUsage[cmd.name])
		}
		cmd.group = id
		cmd.args = rest[1:]
		return cmd, nil
	}
	return cmd, fmt.Errorf("unknown command /%s", cmd.name)
}

func helpText() string {
	return "commands: /join /leave /video /hangup /groups /create /add /online /logout /quit"
}

func (model *WatchModel) scheduleReconnect() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *WatchModel) connectCmd() tea.Cmd {
	serverURL, token := model.serverURL, model.token
	return func() tea.Msg {
		socketURL, err := buildSocketURL(serverURL, token)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		conn, resp, err := websocket.DefaultDialer.Dial(socketURL, http.Header{})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return connectFailedMsg{err: errUnauthorized}
			}
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func (model *WatchModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return connectionLostMsg{err: errors.New("websocket not connected")}
		}
		var payload []byte
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return connectionLostMsg{err: err}
			}
			if messageType == websocket.TextMessage {
				payload = data
				break
			}
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return noticeMsg("unreadable frame: " + string(payload))
		}
		return incomingMsg(env)
	}
}

func (model *WatchModel) sendCmd(frames ...Envelope) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return noticeMsg("not connected")
		}
		model.writeMutex.Lock()
		defer model.writeMutex.Unlock()
		for _, frame := range frames {
			encoded, err := json.Marshal(frame)
			if err != nil {
				return noticeMsg(err.Error())
			}
			if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				return connectionLostMsg{err: err}
			}
		}
		return nil
	}
}

func (model *WatchModel) authCmd(action authAction, username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		if action == authSignup {
			if err := apiSignup(base, username, password); err != nil {
				return authResultMsg{err: err}
			}
		}
		resp, err := apiLogin(base, username, password)
		return authResultMsg{resp: resp, err: err}
	}
}

func (model *WatchModel) loadGroupsCmd() tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		groups, err := apiListGroups(base, token)
		return groupsLoadedMsg{groups: groups, err: err}
	}
}

func (model *WatchModel) createGroupCmd(name string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		group, err := apiCreateGroup(base, token, name)
		return groupCreatedMsg{group: group, err: err}
	}
}

func (model *WatchModel) addMemberCmd(groupID int64, username, role string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		if err := apiAddMember(base, token, groupID, username, role); err != nil {
			return noticeMsg(fmt.Sprintf("add %s to group %d: %v", username, groupID, err))
		}
		return noticeMsg(fmt.Sprintf("added %s to group %d", username, groupID))
	}
}

func (model *WatchModel) onlineCmd(userID int64) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		online, err := apiUserOnline(base, token, userID)
		if err != nil {
			return noticeMsg(fmt.Sprintf("user %d: %v", userID, err))
		}
		state := "offline"
		if online {
			state = "online"
		}
		return noticeMsg(fmt.Sprintf("user %d is %s", userID, state))
	}
}

func (model *WatchModel) logoutCmd() tea.Cmd {
	base, token, path := model.httpBase, model.token, model.sessionPath
	return func() tea.Msg {
		_ = apiLogout(base, token)
		_ = deleteSessionFile(path)
		return loggedOutMsg{}
	}
}

func newPeerID() string {
	return ulid.Make().String()
}

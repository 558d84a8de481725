package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

func (model *WatchModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConn("client quit")
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			switch typedMessage.String() {
			case "1", "l", "L":
				return model, model.promptAuth(authLogin)
			case "2", "s", "S":
				return model, model.promptAuth(authSignup)
			case "q", "Q", "esc":
				return model, tea.Quit
			}
			return model, nil
		case modeAuthUsername:
			switch typedMessage.Type {
			case tea.KeyEsc:
				model.backToMenu()
				return model, nil
			case tea.KeyEnter:
				trimmed := strings.TrimSpace(model.textInput.Value())
				if trimmed == "" {
					model.addLog("Username cannot be empty.", true)
					return model, nil
				}
				model.username = trimmed
				return model, model.promptPassword()
			}
		case modeAuthPassword:
			switch typedMessage.Type {
			case tea.KeyEsc:
				model.backToMenu()
				return model, nil
			case tea.KeyEnter:
				model.password = model.textInput.Value()
				if strings.TrimSpace(model.password) == "" {
					model.addLog("Password cannot be empty.", true)
					return model, nil
				}
				model.textInput.SetValue("")
				return model, model.authCmd(model.pendingAuth, model.username, model.password)
			}
		case modeWatch:
			if typedMessage.Type == tea.KeyEnter {
				input := model.textInput.Value()
				model.textInput.SetValue("")
				return model, model.runCommand(input)
			}
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typedMessage)
		return model, cmd

	case authResultMsg:
		if typedMessage.err != nil {
			text := typedMessage.err.Error()
			if errors.Is(typedMessage.err, errUnauthorized) {
				text = "Invalid username or password."
			}
			model.addLog(text, true)
			return model, model.promptPassword()
		}
		model.token = typedMessage.resp.Token
		model.userID = typedMessage.resp.UserID
		model.username = typedMessage.resp.Username
		if err := saveSessionToDisk(model.sessionPath, sessionFile{Username: model.username, UserID: model.userID, Token: model.token}); err != nil {
			model.addLog("could not save session: "+err.Error(), true)
		}
		model.enterWatchMode()
		return model, tea.Batch(model.connectCmd(), model.loadGroupsCmd())

	case connectedMsg:
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		return model, tea.Batch(model.sendCmd(model.announceFrames()...), model.readOnceCmd())

	case incomingMsg:
		model.applyEnvelope(Envelope(typedMessage))
		return model, model.readOnceCmd()

	case connectionLostMsg:
		if model.mode != modeWatch {
			return model, nil
		}
		model.isConnected = false
		model.connectionError = typedMessage.err
		model.websocketConn = nil
		for _, status := range model.groups {
			status.inCall = false
		}
		return model, model.scheduleReconnect()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if errors.Is(typedMessage.err, errUnauthorized) {
			_ = deleteSessionFile(model.sessionPath)
			model.token = ""
			model.addLog("Session expired, please log in again.", true)
			model.backToMenu()
			return model, nil
		}
		if model.mode == modeWatch {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case reconnectMsg:
		if model.mode == modeWatch && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case groupsLoadedMsg:
		if typedMessage.err != nil {
			model.addLog("load groups: "+typedMessage.err.Error(), true)
			return model, nil
		}
		var frames []Envelope
		for _, g := range typedMessage.groups {
			status := model.group(g.ID)
			status.name = g.Name
			status.live = g.Live
			if !status.watched {
				status.watched = true
				frames = append(frames, Envelope{Event: eventJoinGroup, Group: g.ID})
			}
		}
		model.addLog(fmt.Sprintf("watching %d groups", len(typedMessage.groups)), true)
		if len(frames) == 0 || !model.isConnected {
			return model, nil
		}
		return model, model.sendCmd(frames...)

	case groupCreatedMsg:
		if typedMessage.err != nil {
			model.addLog("create group: "+typedMessage.err.Error(), true)
			return model, nil
		}
		status := model.group(typedMessage.group.ID)
		status.name = typedMessage.group.Name
		status.watched = true
		model.addLog(fmt.Sprintf("created group %d (%s)", status.id, status.name), true)
		return model, model.sendCmd(Envelope{Event: eventJoinGroup, Group: status.id})

	case noticeMsg:
		model.addLog(string(typedMessage), true)
		return model, nil

	case loggedOutMsg:
		model.closeConn("logout")
		model.token = ""
		model.userID = 0
		model.groups = make(map[int64]*groupStatus)
		model.isConnected = false
		model.backToMenu()
		model.addLog("Logged out.", true)
		return model, nil
	}
	return model, nil
}

// announceFrames are sent on every (re)connect: presence first, then the
// rooms the client was watching.
func (model *WatchModel) announceFrames() []Envelope {
	frames := []Envelope{{Event: eventOnline}}
	for _, id := range model.initialGroups {
		model.group(id).watched = true
	}
	model.initialGroups = nil
	for _, status := range model.watchedGroups() {
		frames = append(frames, Envelope{Event: eventJoinGroup, Group: status.id})
	}
	return frames
}

func (model *WatchModel) runCommand(input string) tea.Cmd {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	cmd, err := parseCommand(input)
	if err != nil {
		model.addLog(err.Error(), true)
		return nil
	}
	switch cmd.name {
	case "quit", "exit":
		model.closeConn("client quit")
		return tea.Quit
	case "help":
		model.addLog(helpText(), true)
	case "logout":
		return model.logoutCmd()
	case "groups":
		return model.loadGroupsCmd()
	case "create":
		return model.createGroupCmd(cmd.args[0])
	case "add":
		role := ""
		if len(cmd.args) > 1 {
			role = cmd.args[1]
		}
		return model.addMemberCmd(cmd.group, cmd.args[0], role)
	case "online":
		return model.onlineCmd(cmd.group)
	case "join":
		model.group(cmd.group).watched = true
		return model.sendCmd(Envelope{Event: eventJoinGroup, Group: cmd.group})
	case "leave":
		if status, ok := model.groups[cmd.group]; ok {
			status.watched = false
		}
		return model.sendCmd(Envelope{Event: eventLeaveGroup, Group: cmd.group})
	case "video":
		status := model.group(cmd.group)
		if status.inCall {
			model.addLog(fmt.Sprintf("already in the call for group %d", cmd.group), true)
			return nil
		}
		status.inCall = true
		return model.sendCmd(Envelope{Event: eventJoinVideoRoom, Group: cmd.group, Peer: newPeerID()})
	case "hangup":
		status, ok := model.groups[cmd.group]
		if !ok || !status.inCall {
			model.addLog(fmt.Sprintf("not in a call for group %d", cmd.group), true)
			return nil
		}
		status.inCall = false
		return model.sendCmd(Envelope{Event: eventLeaveVideoRoom, Group: cmd.group})
	}
	return nil
}

// applyEnvelope folds one server frame into the model.
func (model *WatchModel) applyEnvelope(env Envelope) {
	switch env.Event {
	case "online", "offline":
		if env.Subject == model.userID {
			return
		}
		model.addLog(fmt.Sprintf("user %d is %s", env.Subject, env.Event), false)
	case "user_join_video", "user_leave_video":
		count, err := env.Count()
		if err != nil {
			return
		}
		status := model.group(env.Group)
		status.video = count
		verb := "joined"
		if env.Event == "user_leave_video" {
			verb = "left"
		}
		model.addLog(fmt.Sprintf("someone %s the call in group %d (%d in call)", verb, env.Group, count), false)
	case "peer_joined":
		model.addLog(fmt.Sprintf("peer %s joined the call in group %d", env.Peer, env.Group), false)
	case eventError:
		var text string
		if err := json.Unmarshal(env.Data, &text); err != nil {
			text = string(env.Data)
		}
		model.addLog("server: "+text, true)
	default:
		group, ok := parseCountEvent(env.Event)
		if !ok {
			return
		}
		count, err := env.Count()
		if err != nil {
			return
		}
		model.group(group).live = count
	}
}

// parseCountEvent extracts the group id from a "<gid>:count" event name.
func parseCountEvent(name string) (int64, bool) {
	prefix, ok := strings.CutSuffix(name, ":count")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (model *WatchModel) closeConn(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
}

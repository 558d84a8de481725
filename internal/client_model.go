package internal

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const maxLogLines = 200

// WatchModel is the bubbletea state of the presence watch client.
type WatchModel struct {
	textInput       textinput.Model
	log             []logLine
	groups          map[int64]*groupStatus
	serverURL       string
	httpBase        string
	sessionPath     string
	username        string
	password        string
	userID          int64
	token           string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	mode            appMode
	pendingAuth     authAction
	initialGroups   []int64
}

type logLine struct {
	at     time.Time
	text   string
	system bool
}

// groupStatus is what the client knows about a group it watches.
type groupStatus struct {
	id      int64
	name    string
	live    int
	video   int
	inCall  bool
	watched bool
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeWatch
)

type authAction int

const (
	authNone authAction = iota
	authLogin
	authSignup
)

func NewWatchModel(serverURL, username string, groups []int64) *WatchModel {
	return newWatchModel(serverURL, username, groups, defaultSessionPath())
}

func newWatchModel(serverURL, username string, groups []int64, sessionPath string) *WatchModel {
	input := textinput.New()
	input.CharLimit = 256
	input.Prompt = ""

	if username == "" {
		username = defaultUsername()
	}
	base, err := httpBaseFromWSURL(serverURL)
	model := &WatchModel{
		textInput:     input,
		log:           make([]logLine, 0, 64),
		groups:        make(map[int64]*groupStatus),
		serverURL:     serverURL,
		httpBase:      base,
		sessionPath:   sessionPath,
		username:      username,
		mode:          modeAuthMenu,
		initialGroups: groups,
	}
	if err != nil {
		model.connectionError = err
	}
	if session, err := loadSessionFromDisk(model.sessionPath); err == nil {
		model.username = session.Username
		model.userID = session.UserID
		model.token = session.Token
		model.enterWatchMode()
	}
	return model
}

func defaultUsername() string {
	if user := os.Getenv("HUDDLE_USER"); user != "" {
		return user
	}
	return os.Getenv("USER")
}

func (model *WatchModel) Init() tea.Cmd {
	if model.mode == modeWatch {
		return tea.Batch(model.connectCmd(), model.loadGroupsCmd())
	}
	return nil
}

func (model *WatchModel) enterWatchMode() {
	model.mode = modeWatch
	model.password = ""
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue("")
	model.textInput.Placeholder = "/join <group>, /video <group>, /help"
	model.textInput.Prompt = "> "
	model.textInput.Focus()
}

func (model *WatchModel) promptAuth(action authAction) tea.Cmd {
	model.pendingAuth = action
	model.mode = modeAuthUsername
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "username"
	model.textInput.Prompt = "user> "
	return model.textInput.Focus()
}

func (model *WatchModel) promptPassword() tea.Cmd {
	model.mode = modeAuthPassword
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinput.EchoPassword
	model.textInput.Placeholder = "password"
	model.textInput.Prompt = "pass> "
	return model.textInput.Focus()
}

func (model *WatchModel) backToMenu() {
	model.mode = modeAuthMenu
	model.pendingAuth = authNone
	model.password = ""
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Placeholder = ""
	model.textInput.Prompt = ""
}

func (model *WatchModel) group(id int64) *groupStatus {
	status, ok := model.groups[id]
	if !ok {
		status = &groupStatus{id: id}
		model.groups[id] = status
	}
	return status
}

func (model *WatchModel) watchedGroups() []*groupStatus {
	out := make([]*groupStatus, 0, len(model.groups))
	for _, status := range model.groups {
		if status.watched {
			out = append(out, status)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (model *WatchModel) addLog(text string, system bool) {
	model.log = append(model.log, logLine{at: time.Now(), text: text, system: system})
	if len(model.log) > maxLogLines {
		model.log = model.log[len(model.log)-maxLogLines:]
	}
}

// RunClient launches the bubbletea program with the watch model.
func RunClient(serverURL, username string, groups []int64) error {
	program := tea.NewProgram(NewWatchModel(serverURL, username, groups))
	_, err := program.Run()
	return err
}

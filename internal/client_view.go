package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	headerStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle         = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	eventStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	groupNameStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	callStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
)

const visibleLogLines = 15

func (model *WatchModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	default:
		return model.renderWatchView()
	}
}

func (model *WatchModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("Huddle")
	subtitle := subtitleStyle.Render("Who is around in your groups, live")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}
	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if notices := model.renderSystemNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *WatchModel) renderAuthPromptView() string {
	title := "Log in"
	if model.pendingAuth == authSignup {
		title = "Create an account"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
	}
	sections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if notices := model.renderSystemNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *WatchModel) renderWatchView() string {
	header := headerStyle.Render(strings.Join([]string{
		"Huddle",
		fmt.Sprintf("User %s", model.username),
		fmt.Sprintf("Server %s", model.serverURL),
	}, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Online")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	sections := []string{header, statusLine, panelStyle.Render(model.renderGroups()), panelStyle.Render(model.renderLog())}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()), menuHintStyle.Render(helpText()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *WatchModel) renderGroups() string {
	watched := model.watchedGroups()
	if len(watched) == 0 {
		return menuHintStyle.Render("Not watching any group. Try /groups or /join <id>.")
	}
	lines := make([]string, 0, len(watched))
	for _, status := range watched {
		name := status.name
		if name == "" {
			name = fmt.Sprintf("group %d", status.id)
		}
		line := fmt.Sprintf("%s  %d online  %d in call", groupNameStyle.Render(fmt.Sprintf("#%d %s", status.id, name)), status.live, status.video)
		if status.inCall {
			line += "  " + callStyle.Render("● you are in the call")
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (model *WatchModel) renderLog() string {
	if len(model.log) == 0 {
		return systemMessageStyle.Render("Nothing has happened yet.")
	}
	start := 0
	if len(model.log) > visibleLogLines {
		start = len(model.log) - visibleLogLines
	}
	lines := make([]string, 0, visibleLogLines)
	for _, line := range model.log[start:] {
		stamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.at.Format("15:04:05")))
		body := eventStyle.Render(line.text)
		if line.system {
			body = systemMessageStyle.Render(line.text)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left, stamp, " ", body))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *WatchModel) renderSystemNotices() string {
	var notices []string
	for _, line := range model.log {
		if line.system {
			notices = append(notices, systemMessageStyle.Render(line.text))
		}
	}
	if len(notices) == 0 {
		return ""
	}
	if len(notices) > 3 {
		notices = notices[len(notices)-3:]
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/modoterra/hearth/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusLive    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusOffline = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type layout struct {
	eventsW, eventsH int
	installsW        int
	logsW, logsH     int
}

func (a App) layout() layout {
	const statusBarH = 2
	l := layout{eventsH: max(a.height/3, 6), logsW: a.width - 4}
	l.logsH = a.height - l.eventsH - statusBarH - 4
	l.eventsW = l.logsW * 3 / 5
	l.installsW = l.logsW - l.eventsW - 4
	return l
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}
	l := a.layout()

	events := a.paneBox(PaneEvents, a.eventsTitle(), a.renderEvents(l.eventsW, l.eventsH), l.eventsW, l.eventsH)
	installs := paneStyle.Width(l.installsW).Height(l.eventsH).Render(
		titleStyle.Render(" Installs ") + "\n" + a.renderInstalls(l.installsW, l.eventsH),
	)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, events, installs)

	logs := a.paneBox(PaneLogs, a.logTitle(), a.renderLogs(), l.logsW, l.logsH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logs, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) eventsTitle() string {
	return " Events " + statusLabel(a.events.Status().Get()) + " "
}

func (a App) renderEvents(w, h int) string {
	if len(a.recent) == 0 {
		return dimStyle.Render("no events yet")
	}
	var b strings.Builder
	for i, row := range a.recent {
		if i >= h-1 {
			break
		}
		when := humanize.RelTime(row.at, a.now(), "ago", "from now")
		line := fmt.Sprintf("%-14s %s", when, core.Describe(row.event))
		if _, ok := row.event.(core.ErrorEvent); ok {
			line = statusError.Render(truncate(line, w))
		} else {
			line = truncate(line, w)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderInstalls(w, h int) string {
	var b strings.Builder
	if a.mode == ModeInstall {
		b.WriteString(a.install.View() + "\n")
	}
	list := a.installs.List()
	if len(list) == 0 && a.mode != ModeInstall {
		return dimStyle.Render("none (i to add)")
	}
	for i, in := range list {
		if i >= h-2 {
			break
		}
		state := statusPending.Render(in.State.String())
		if in.State == Installed {
			state = statusLive.Render(in.State.String())
		}
		fmt.Fprintf(&b, "%s %s\n", state, truncate(in.Name, w-12))
	}
	return b.String()
}

// syncLogView sizes the log viewport to the pane and loads the revealed
// entries into it. The scroll offset survives as long as it still fits.
func (a *App) syncLogView() {
	if a.width == 0 || a.height == 0 {
		return
	}
	l := a.layout()
	acc := a.logs.Accumulator()

	rows := l.logsH - 2
	if a.mode == ModeFilter {
		rows--
	}
	if acc.HasMore() {
		rows--
	}
	a.logView.Width = l.logsW
	a.logView.Height = max(rows, 1)

	var b strings.Builder
	for _, e := range acc.Visible() {
		prefix := dimStyle.Render(e.Timestamp.Local().Format("15:04:05") + " " + e.Source)
		msg := truncate(e.Message, max(l.logsW-len(e.Source)-10, 10))
		b.WriteString(prefix + " " + msg + "\n")
	}
	a.logView.SetContent(strings.TrimSuffix(b.String(), "\n"))
}

func (a App) renderLogs() string {
	acc := a.logs.Accumulator()

	var b strings.Builder
	if a.mode == ModeFilter {
		b.WriteString(a.filter.View() + "\n")
	}
	if acc.Limit() == 0 {
		b.WriteString(dimStyle.Render("no log output"))
		return b.String()
	}
	b.WriteString(a.logView.View())
	if acc.HasMore() {
		b.WriteString("\n" + dimStyle.Render(fmt.Sprintf("%d more (m)", acc.VisibleLen()-acc.Limit())))
	}
	return b.String()
}

func (a App) logTitle() string {
	acc := a.logs.Accumulator()
	title := fmt.Sprintf(" Logs %s %d/%d ", statusLabel(a.logs.Status().Get()), acc.Limit(), acc.VisibleLen())
	if src := a.selectedSource(); src != "" {
		title += dimStyle.Render("["+src+"]") + " "
	}
	if q := a.filter.Value(); q != "" && a.mode != ModeFilter {
		title += dimStyle.Render("/"+q) + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "tab:pane /:filter s:source m:more ↑↓:scroll r:refresh i:install c:clear q:quit"
	switch a.mode {
	case ModeFilter:
		right = "enter:apply esc:clear"
	case ModeInstall:
		right = "enter:track esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func statusLabel(s core.ConnectionStatus) string {
	switch s {
	case core.StatusConnected:
		return statusLive.Render("● " + s.Label())
	case core.StatusConnecting:
		return statusPending.Render("↻ " + s.Label())
	case core.StatusErroring:
		return statusError.Render("✖ " + s.Label())
	default:
		return statusOffline.Render("○ " + s.Label())
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

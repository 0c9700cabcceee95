package model

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/hearth/pkg/core"
	"github.com/modoterra/hearth/pkg/stream"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneEvents Pane = iota
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeFilter
	ModeInstall
)

const maxRecent = 50

type eventRow struct {
	event core.Event
	at    time.Time
}

// App is the root Bubble Tea model: the event feed with install tracking on
// top, the log feed with its reveal window below.
type App struct {
	// Feeds
	events  *stream.EventFeed
	logs    *stream.LogFeed
	done    chan struct{}
	cleanup []func()

	slotCh   <-chan struct{}
	logCh    <-chan struct{}
	logStCh  <-chan struct{}
	snap     stream.Snapshot
	recent   []eventRow
	installs *Installs

	// UI
	activePane Pane
	mode       Mode
	filter     textinput.Model
	install    textinput.Model
	logView    viewport.Model
	sourceIdx  int // -1 = all sources
	width      int
	height     int
	now        func() time.Time

	statusMsg string
}

// New acquires both feeds from hub. Call Close once the program exits.
func New(hub *stream.Hub) (App, error) {
	events, releaseEvents, err := hub.Events()
	if err != nil {
		return App{}, err
	}
	logs, releaseLogs, err := hub.Logs()
	if err != nil {
		releaseEvents()
		return App{}, err
	}

	snap, slotCh, cancelSlot := events.Slot().Subscribe()
	logCh, cancelLogs := logs.Accumulator().Watch()
	logStCh, cancelLogSt := logs.Status().Watch()

	fi := textinput.New()
	fi.Placeholder = "filter..."
	fi.CharLimit = 64

	ii := textinput.New()
	ii.Placeholder = "app name"
	ii.CharLimit = 64

	return App{
		events:     events,
		logs:       logs,
		done:       make(chan struct{}),
		cleanup:    []func(){cancelSlot, cancelLogs, cancelLogSt, releaseLogs, releaseEvents},
		slotCh:     slotCh,
		logCh:      logCh,
		logStCh:    logStCh,
		snap:       snap,
		installs:   NewInstalls(),
		activePane: PaneLogs,
		mode:       ModeNormal,
		filter:     fi,
		install:    ii,
		logView:    viewport.New(0, 0),
		sourceIdx:  -1,
		now:        time.Now,
	}, nil
}

// Close unsubscribes and releases the feeds.
func (a App) Close() {
	select {
	case <-a.done:
		return
	default:
	}
	close(a.done)
	for _, fn := range a.cleanup {
		fn()
	}
}

// Init starts listening to the feeds and loads recent history.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.wait(a.slotCh, slotMsg{}),
		a.wait(a.logCh, logsMsg{}),
		a.wait(a.logStCh, logStatusMsg{}),
		refreshCmd(a.logs),
		tickCmd(),
		tea.SetWindowTitle("hearth"),
	)
}

// slotMsg signals a new event or event feed status.
type slotMsg struct{}

// logsMsg signals that the log buffer changed.
type logsMsg struct{}

// logStatusMsg signals a log feed status change.
type logStatusMsg struct{}

// refreshMsg carries the result of a historical query.
type refreshMsg struct {
	added int
	err   error
}

// tickMsg re-renders relative times.
type tickMsg time.Time

func (a App) wait(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	done := a.done
	return func() tea.Msg {
		select {
		case <-ch:
			return msg
		case <-done:
			return nil
		}
	}
}

func refreshCmd(logs *stream.LogFeed) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := logs.Refresh(ctx)
		return refreshMsg{added: n, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages. The log viewport is rebuilt afterwards so it
// always shows the accumulator's current window.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := a.update(msg)
	next := m.(App)
	next.syncLogView()
	return next, cmd
}

func (a App) update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case slotMsg:
		a.observe(a.events.Slot().Snapshot())
		return a, a.wait(a.slotCh, slotMsg{})

	case logsMsg:
		return a, a.wait(a.logCh, logsMsg{})

	case logStatusMsg:
		return a, a.wait(a.logStCh, logStatusMsg{})

	case refreshMsg:
		if msg.err != nil {
			a.statusMsg = "history: " + msg.err.Error()
		} else {
			a.statusMsg = fmt.Sprintf("history: %d new lines", msg.added)
		}
		return a, nil

	case tickMsg:
		return a, tickCmd()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

// observe records a snapshot taken from the slot. Events published between
// two snapshots are skipped: the slot only keeps the latest.
func (a *App) observe(snap stream.Snapshot) {
	if snap.Seq != a.snap.Seq && snap.Event != nil {
		a.recent = append([]eventRow{{event: snap.Event, at: snap.ReceivedAt}}, a.recent...)
		if len(a.recent) > maxRecent {
			a.recent = a.recent[:maxRecent]
		}
		if name, ok := a.installs.Observe(snap.Event); ok {
			a.statusMsg = name + " installed"
		}
		if e, ok := snap.Event.(core.ErrorEvent); ok {
			a.statusMsg = "error: " + e.Message
		}
	}
	a.snap = snap
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.mode {
	case ModeFilter:
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.filter.SetValue("")
			a.filter.Blur()
			a.applyFilter()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.filter.Blur()
			a.applyFilter()
			return a, nil
		default:
			var cmd tea.Cmd
			a.filter, cmd = a.filter.Update(msg)
			return a, cmd
		}

	case ModeInstall:
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.install.SetValue("")
			a.install.Blur()
			return a, nil
		case "enter":
			name := a.install.Value()
			a.mode = ModeNormal
			a.install.SetValue("")
			a.install.Blur()
			if a.installs.Begin(name) {
				a.statusMsg = "installing " + name + "..."
			}
			return a, nil
		default:
			var cmd tea.Cmd
			a.install, cmd = a.install.Update(msg)
			return a, cmd
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "tab":
		a.activePane = (a.activePane + 1) % 2

	case "/":
		a.mode = ModeFilter
		a.activePane = PaneLogs
		return a, tea.Batch(a.filter.Focus(), textinput.Blink)

	case "i":
		a.mode = ModeInstall
		a.activePane = PaneEvents
		return a, tea.Batch(a.install.Focus(), textinput.Blink)

	case "c":
		a.installs.ClearDone()

	case "m", " ":
		acc := a.logs.Accumulator()
		acc.RevealMore(acc.PageSize())

	case "r":
		a.statusMsg = "loading history..."
		return a, refreshCmd(a.logs)

	case "s":
		sources := a.logs.Facets().Sources
		a.sourceIdx++
		if a.sourceIdx >= len(sources) {
			a.sourceIdx = -1
		}
		a.applyFilter()

	case "g":
		a.logView.GotoTop()

	default:
		if a.activePane == PaneLogs {
			var cmd tea.Cmd
			a.logView, cmd = a.logView.Update(msg)
			return a, cmd
		}
	}

	return a, nil
}

func (a *App) applyFilter() {
	f := stream.Filter{Text: a.filter.Value()}
	if src := a.selectedSource(); src != "" {
		f.Sources = []string{src}
	}
	a.logs.Accumulator().Reset(f)
}

func (a App) selectedSource() string {
	sources := a.logs.Facets().Sources
	if a.sourceIdx < 0 || a.sourceIdx >= len(sources) {
		return ""
	}
	return sources[a.sourceIdx]
}

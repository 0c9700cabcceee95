package model

import (
	"sort"
	"strings"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

// InstallState is the optimistic state of an app install started from the
// dashboard.
type InstallState int

const (
	Installing InstallState = iota
	Installed
)

func (s InstallState) String() string {
	if s == Installed {
		return "INSTALLED"
	}
	return "INSTALLING"
}

// Install is one tracked app.
type Install struct {
	Name    string
	State   InstallState
	Started time.Time
	Done    time.Time
}

// Installs tracks apps the user is installing. An app moves from Installing
// to Installed when the event feed reports it; error events are not tied to
// an app and leave pending installs alone.
type Installs struct {
	apps map[string]*Install
	now  func() time.Time
}

func NewInstalls() *Installs {
	return &Installs{apps: make(map[string]*Install), now: time.Now}
}

// Begin marks name as installing. Restarting a finished install resets it.
func (t *Installs) Begin(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if cur, ok := t.apps[name]; ok && cur.State == Installing {
		return false
	}
	t.apps[name] = &Install{Name: name, State: Installing, Started: t.now()}
	return true
}

// Observe applies a feed event. It returns the name of the app whose install
// completed, if any.
func (t *Installs) Observe(e core.Event) (string, bool) {
	ai, ok := e.(core.AppInstalled)
	if !ok {
		return "", false
	}
	cur, ok := t.apps[ai.Name]
	if !ok || cur.State == Installed {
		return "", false
	}
	cur.State = Installed
	cur.Done = t.now()
	return ai.Name, true
}

// State returns the state of name.
func (t *Installs) State(name string) (InstallState, bool) {
	cur, ok := t.apps[name]
	if !ok {
		return 0, false
	}
	return cur.State, true
}

// Pending returns how many installs are still running.
func (t *Installs) Pending() int {
	n := 0
	for _, a := range t.apps {
		if a.State == Installing {
			n++
		}
	}
	return n
}

// List returns the tracked apps, most recently started first.
func (t *Installs) List() []Install {
	out := make([]Install, 0, len(t.apps))
	for _, a := range t.apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].Name < out[j].Name
		}
		return out[i].Started.After(out[j].Started)
	})
	return out
}

// ClearDone forgets finished installs.
func (t *Installs) ClearDone() {
	for name, a := range t.apps {
		if a.State == Installed {
			delete(t.apps, name)
		}
	}
}

// Package systemd inspects the units that journal log sources follow.
package systemd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/dbus"
)

// State summarises a unit for log source health.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
	StateMissing State = "missing"
	StateUnknown State = "unknown"
)

// Unit is the D-Bus view of one unit.
type Unit struct {
	Name        string
	LoadState   string
	ActiveState string
	SubState    string
}

// State maps the unit's load and active states.
func (u Unit) State() State {
	if u.LoadState == "not-found" {
		return StateMissing
	}
	return mapStatus(u.ActiveState, u.SubState)
}

// ListUnits queries the system bus for the named units.
func ListUnits(ctx context.Context, names []string) ([]Unit, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	statuses, err := conn.ListUnitsByNamesContext(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	units := make([]Unit, 0, len(statuses))
	for _, s := range statuses {
		units = append(units, Unit{
			Name:        s.Name,
			LoadState:   s.LoadState,
			ActiveState: s.ActiveState,
			SubState:    s.SubState,
		})
	}
	return units, nil
}

// CheckUnits logs a warning for every followed unit that is missing or not
// running. A journal source on such a unit stays silent until it starts.
func CheckUnits(ctx context.Context, names []string, logger *slog.Logger) {
	if len(names) == 0 {
		return
	}
	units, err := ListUnits(ctx, names)
	if err != nil {
		logger.Debug("skipping unit check", "err", err)
		return
	}
	reportUnits(units, logger)
}

func reportUnits(units []Unit, logger *slog.Logger) int {
	warned := 0
	for _, u := range units {
		switch st := u.State(); st {
		case StateRunning:
			logger.Debug("journal unit running", "unit", u.Name)
		default:
			logger.Warn("journal unit not running", "unit", u.Name, "state", st, "sub_state", u.SubState)
			warned++
		}
	}
	return warned
}

func mapStatus(active, sub string) State {
	switch {
	case active == "active" && sub == "running":
		return StateRunning
	case active == "active", active == "activating", active == "reloading":
		return StateRunning
	case active == "inactive", active == "deactivating":
		return StateStopped
	case active == "failed":
		return StateFailed
	default:
		return StateUnknown
	}
}

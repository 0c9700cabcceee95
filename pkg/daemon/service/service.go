// Package service installs hearthd as a systemd user unit and reports on it.
package service

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitName is the user unit hearthd runs as.
const UnitName = "hearthd.service"

const (
	binaryName      = "hearthd"
	defaultWatchdog = 30 * time.Second
	jobTimeout      = 30 * time.Second
)

// Unit describes the hearthd user unit.
type Unit struct {
	Binary string
	// Config is passed as --config when set.
	Config string
	// Watchdog is the WatchdogSec hearthd must ping within.
	//
	// Default: 30s
	Watchdog time.Duration
}

// Render returns the unit file text.
func (u Unit) Render() string {
	cmdline := u.Binary
	if u.Config != "" {
		cmdline += " --config " + u.Config
	}
	watchdog := u.Watchdog
	if watchdog <= 0 {
		watchdog = defaultWatchdog
	}

	var b strings.Builder
	section := func(name string, kv ...string) {
		fmt.Fprintf(&b, "[%s]\n", name)
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(&b, "%s=%s\n", kv[i], kv[i+1])
		}
		b.WriteString("\n")
	}
	section("Unit",
		"Description", "hearth daemon, event and log feeds for the home server dashboard",
		"Documentation", "https://github.com/modoterra/hearth",
	)
	section("Service",
		"Type", "notify",
		"ExecStart", cmdline,
		"WatchdogSec", fmt.Sprint(int(watchdog.Seconds())),
		"Restart", "on-failure",
		"RestartSec", "5",
	)
	section("Install", "WantedBy", "default.target")
	return strings.TrimSuffix(b.String(), "\n")
}

// Path is where the user unit file lives.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("user config dir: %w", err)
	}
	return filepath.Join(dir, "systemd", "user", UnitName), nil
}

// resolve builds the unit for the hearthd found in PATH.
func resolve(configPath string) (Unit, error) {
	bin, err := exec.LookPath(binaryName)
	if err != nil {
		return Unit{}, fmt.Errorf("%s not in PATH: %w", binaryName, err)
	}
	u := Unit{}
	if u.Binary, err = filepath.Abs(bin); err != nil {
		return Unit{}, err
	}
	if configPath != "" {
		if u.Config, err = filepath.Abs(configPath); err != nil {
			return Unit{}, err
		}
	}
	return u, nil
}

// Install writes the unit file, then reloads the user manager, enables the
// unit and starts it over D-Bus.
func Install(ctx context.Context, configPath string) error {
	u, err := resolve(configPath)
	if err != nil {
		return err
	}
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(u.Render()), 0o644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("user bus: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{path}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", UnitName, err)
	}
	return runJob(ctx, UnitName, "start", func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, UnitName, "replace", ch)
	})
}

// Uninstall stops and disables the unit and removes its file. Stopping a unit
// that is not running is not an error.
func Uninstall(ctx context.Context) error {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("user bus: %w", err)
	}
	defer conn.Close()

	runJob(ctx, UnitName, "stop", func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, UnitName, "replace", ch)
	})
	conn.DisableUnitFilesContext(ctx, []string{UnitName}, false)

	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit: %w", err)
	}
	return conn.ReloadContext(ctx)
}

// runJob queues a unit job and waits for systemd's verdict.
func runJob(ctx context.Context, unit, verb string, queue func(chan<- string) (int, error)) error {
	done := make(chan string, 1)
	if _, err := queue(done); err != nil {
		return fmt.Errorf("%s %s: %w", verb, unit, err)
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%s %s: job %s", verb, unit, result)
		}
		return nil
	case <-time.After(jobTimeout):
		return fmt.Errorf("%s %s: timed out", verb, unit)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Report is what `hearth service status` shows.
type Report struct {
	Socket    string
	Listening bool
	Installed bool
	// State is the unit's ActiveState, "unknown" when the user bus is
	// unreachable.
	State string
}

func (r Report) String() string {
	sock := "not listening"
	if r.Listening {
		sock = "listening"
	}
	unit := "not installed"
	if r.Installed {
		unit = r.State
	}
	return fmt.Sprintf("socket: %s (%s)\nsystemd user service: %s", sock, r.Socket, unit)
}

// Status dials the daemon socket and, when the unit file exists, asks the
// user manager for the unit's state.
func Status(ctx context.Context, socketPath string) Report {
	r := Report{Socket: socketPath, State: "unknown"}
	if conn, err := net.DialTimeout("unix", socketPath, time.Second); err == nil {
		conn.Close()
		r.Listening = true
	}

	path, err := Path()
	if err != nil {
		return r
	}
	if _, err := os.Stat(path); err != nil {
		return r
	}
	r.Installed = true

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return r
	}
	defer conn.Close()
	units, err := conn.ListUnitsByNamesContext(ctx, []string{UnitName})
	if err == nil && len(units) == 1 {
		r.State = units[0].ActiveState
	}
	return r
}

// Package config loads the hearth (client) and hearthd (daemon) configuration
// files. Both accept YAML or, by .toml extension, TOML.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

// Source kinds.
const (
	KindFile    = "file"
	KindJournal = "journal"
	KindExec    = "exec"
	KindCompose = "compose"
)

// Duration is a time.Duration written as a string ("1s", "24h").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Client configures the hearth dashboard and CLI.
type Client struct {
	Socket    string    `yaml:"socket" toml:"socket"`
	URL       string    `yaml:"url" toml:"url"` // websocket base, e.g. ws://nas:7420
	Reconnect Reconnect `yaml:"reconnect" toml:"reconnect"`
	Logs      Logs      `yaml:"logs" toml:"logs"`
	LogLevel  string    `yaml:"log_level" toml:"log_level"`
}

type Reconnect struct {
	Delay  Duration `yaml:"delay" toml:"delay"`
	Jitter Duration `yaml:"jitter" toml:"jitter"`
}

type Logs struct {
	SinceSeconds int `yaml:"since_seconds" toml:"since_seconds"`
	PageSize     int `yaml:"page_size" toml:"page_size"`
	Capacity     int `yaml:"capacity" toml:"capacity"` // 0 = unbounded
}

// Daemon configures hearthd.
type Daemon struct {
	Socket    string   `yaml:"socket" toml:"socket"`
	HTTP      HTTP     `yaml:"http" toml:"http"`
	DB        string   `yaml:"db" toml:"db"`
	Retention Duration `yaml:"retention" toml:"retention"`
	Heartbeat Duration `yaml:"heartbeat" toml:"heartbeat"`
	LogLevel  string   `yaml:"log_level" toml:"log_level"`
	Sources   []Source `yaml:"sources" toml:"sources"`
}

type HTTP struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the websocket listener
}

// Source is one log collector definition.
type Source struct {
	Kind      string            `yaml:"kind" toml:"kind"`
	Path      string            `yaml:"path,omitempty" toml:"path"`       // file, compose
	Unit      string            `yaml:"unit,omitempty" toml:"unit"`       // journal
	Command   string            `yaml:"command,omitempty" toml:"command"` // exec
	Dir       string            `yaml:"dir,omitempty" toml:"dir"`         // exec
	Env       map[string]string `yaml:"env,omitempty" toml:"env"`         // exec
	Project   string            `yaml:"project,omitempty" toml:"project"` // compose
	Source    string            `yaml:"source" toml:"source"`
	Namespace string            `yaml:"namespace" toml:"namespace"`
	Domain    string            `yaml:"domain" toml:"domain"`
}

// Origin returns the labels applied to every line of s.
func (s Source) Origin() core.LogOrigin {
	return core.LogOrigin{Source: s.Source, Namespace: s.Namespace, Domain: s.Domain}
}

// Name identifies s in messages.
func (s Source) Name() string {
	if s.Source != "" {
		return s.Source
	}
	return s.Kind + ":" + s.Path + s.Unit
}

// DefaultSocketPath is the hearthd socket under XDG_RUNTIME_DIR, or /tmp.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "hearth.sock")
	}
	return "/tmp/hearth.sock"
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hearth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "hearth")
}

// DefaultClientPath is where hearth looks for its config when none is given.
func DefaultClientPath() string { return filepath.Join(configDir(), "hearth.yaml") }

// DefaultDaemonPath is where hearthd looks for its config when none is given.
func DefaultDaemonPath() string { return filepath.Join(configDir(), "hearthd.yaml") }

func DefaultClient() Client {
	return Client{
		Socket: DefaultSocketPath(),
		Reconnect: Reconnect{
			Delay:  Duration(time.Second),
			Jitter: Duration(250 * time.Millisecond),
		},
		Logs: Logs{
			SinceSeconds: 300,
			PageSize:     50,
		},
		LogLevel: "info",
	}
}

func DefaultDaemon() Daemon {
	dataDir, err := os.UserCacheDir()
	if err != nil {
		dataDir = os.TempDir()
	}
	return Daemon{
		Socket:    DefaultSocketPath(),
		DB:        filepath.Join(dataDir, "hearth", "logs.db"),
		Retention: Duration(24 * time.Hour),
		Heartbeat: Duration(5 * time.Second),
		LogLevel:  "info",
	}
}

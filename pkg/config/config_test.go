package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDaemonYAML(t *testing.T) {
	t.Setenv("HEARTH_TEST_ROOT", "/srv/immich")
	path := writeFile(t, "hearthd.yaml", `
socket: /run/hearth.sock
http:
  addr: ":7420"
db: /var/lib/hearth/logs.db
retention: 12h
heartbeat: 2s
sources:
  - kind: file
    path: ${HEARTH_TEST_ROOT}/server.log
    source: immich
    namespace: media
    domain: apps
  - kind: journal
    unit: sshd.service
    source: sshd
    namespace: system
    domain: host
  - kind: exec
    command: docker logs -f --since 0s jellyfin
    source: jellyfin
  - kind: compose
    path: /srv/stack/compose.yml
    project: stack
    domain: apps
`)
	cfg, err := LoadDaemon(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Socket != "/run/hearth.sock" || cfg.HTTP.Addr != ":7420" {
		t.Errorf("socket/http: %+v", cfg)
	}
	if cfg.Retention.D() != 12*time.Hour || cfg.Heartbeat.D() != 2*time.Second {
		t.Errorf("durations: %v %v", cfg.Retention.D(), cfg.Heartbeat.D())
	}
	if len(cfg.Sources) != 4 {
		t.Fatalf("sources: got %d, want 4", len(cfg.Sources))
	}
	if got := cfg.Sources[0].Path; got != "/srv/immich/server.log" {
		t.Errorf("path interpolation: got %q", got)
	}
	o := cfg.Sources[1].Origin()
	if o.Source != "sshd" || o.Namespace != "system" || o.Domain != "host" {
		t.Errorf("origin: %+v", o)
	}
}

func TestLoadClientTOML(t *testing.T) {
	path := writeFile(t, "hearth.toml", `
url = "ws://nas.local:7420"
log_level = "debug"

[reconnect]
delay = "500ms"
jitter = "100ms"

[logs]
since_seconds = 600
page_size = 25
capacity = 1000
`)
	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.URL != "ws://nas.local:7420" {
		t.Errorf("url: %q", cfg.URL)
	}
	if cfg.Reconnect.Delay.D() != 500*time.Millisecond || cfg.Reconnect.Jitter.D() != 100*time.Millisecond {
		t.Errorf("reconnect: %+v", cfg.Reconnect)
	}
	if cfg.Logs != (Logs{SinceSeconds: 600, PageSize: 25, Capacity: 1000}) {
		t.Errorf("logs: %+v", cfg.Logs)
	}
	if cfg.Socket == "" {
		t.Error("socket default was lost")
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logs.SinceSeconds != 300 || cfg.Logs.PageSize != 50 {
		t.Errorf("defaults: %+v", cfg.Logs)
	}
	if cfg.Reconnect.Delay.D() != time.Second {
		t.Errorf("delay: %v", cfg.Reconnect.Delay.D())
	}

	d, err := LoadDaemon("")
	if err != nil {
		t.Fatal(err)
	}
	if d.Heartbeat.D() != 5*time.Second || d.Retention.D() != 24*time.Hour {
		t.Errorf("daemon defaults: %+v", d)
	}
}

func TestLoadParseError(t *testing.T) {
	path := writeFile(t, "bad.yaml", "logs: [unclosed")
	if _, err := LoadClient(path); err == nil {
		t.Error("expected parse error")
	}
	path = writeFile(t, "bad.yaml", "retention: forever")
	if _, err := LoadDaemon(path); err == nil {
		t.Error("expected duration error")
	}
}

func TestLoadInvalidWrapsErrInvalid(t *testing.T) {
	path := writeFile(t, "hearth.yaml", "logs:\n  page_size: 0\n")
	_, err := LoadClient(path)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "page_size") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestValidateClient(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Client)
		want   string
	}{
		{"no endpoint", func(c *Client) { c.Socket = ""; c.URL = "" }, "socket or url"},
		{"http url", func(c *Client) { c.URL = "http://nas" }, "ws://"},
		{"negative since", func(c *Client) { c.Logs.SinceSeconds = -1 }, "since_seconds"},
		{"negative capacity", func(c *Client) { c.Logs.Capacity = -5 }, "capacity"},
		{"negative delay", func(c *Client) { c.Reconnect.Delay = -1 }, "reconnect"},
		{"bad level", func(c *Client) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultClient()
			tt.mutate(&c)
			assertHasError(t, ValidateClient(&c), tt.want)
		})
	}

	c := DefaultClient()
	if errs := ValidateClient(&c); len(errs) != 0 {
		t.Errorf("defaults invalid: %v", errs)
	}
}

func TestValidateDaemonSources(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		want   string
	}{
		{"file without path", Source{Kind: KindFile, Source: "a"}, "path is required"},
		{"journal without unit", Source{Kind: KindJournal, Source: "a"}, "unit is required"},
		{"exec without command", Source{Kind: KindExec, Source: "a", Command: "  "}, "command is required"},
		{"compose without path", Source{Kind: KindCompose}, "path is required"},
		{"missing kind", Source{Source: "a"}, "kind is required"},
		{"unknown kind", Source{Kind: "syslog", Source: "a"}, "unknown kind"},
		{"missing source label", Source{Kind: KindFile, Path: "/x.log"}, "source is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DefaultDaemon()
			d.Sources = []Source{tt.source}
			assertHasError(t, ValidateDaemon(&d), tt.want)
		})
	}
}

func TestValidateDaemonDuplicateSource(t *testing.T) {
	d := DefaultDaemon()
	d.Sources = []Source{
		{Kind: KindFile, Path: "/a.log", Source: "app"},
		{Kind: KindJournal, Unit: "app.service", Source: "app"},
	}
	assertHasError(t, ValidateDaemon(&d), "more than once")
}

func TestValidateDaemonDurations(t *testing.T) {
	d := DefaultDaemon()
	d.Retention = 0
	d.Heartbeat = 0
	errs := ValidateDaemon(&d)
	assertHasError(t, errs, "retention must be positive")
	assertHasError(t, errs, "heartbeat must be positive")
}

func TestDefaultSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultSocketPath(); got != "/run/user/1000/hearth.sock" {
		t.Errorf("got %q", got)
	}
	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := DefaultSocketPath(); got != "/tmp/hearth.sock" {
		t.Errorf("got %q", got)
	}
}

func assertHasError(t *testing.T, errs []error, substr string) {
	t.Helper()
	for _, e := range errs {
		if strings.Contains(e.Error(), substr) {
			return
		}
	}
	t.Errorf("expected error containing %q, got %v", substr, errs)
}

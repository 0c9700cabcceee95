package model

import (
	"testing"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

func TestInstallsResolveOnAppInstalled(t *testing.T) {
	tr := NewInstalls()
	if !tr.Begin("immich") {
		t.Fatal("begin failed")
	}
	if tr.Begin("immich") {
		t.Error("second begin while installing should be a no-op")
	}

	if _, ok := tr.Observe(core.AppInstalled{Name: "jellyfin"}); ok {
		t.Error("untracked app should not resolve")
	}
	if st, _ := tr.State("immich"); st != Installing {
		t.Errorf("got %s", st)
	}

	name, ok := tr.Observe(core.AppInstalled{Name: "immich"})
	if !ok || name != "immich" {
		t.Fatalf("got %q, %v", name, ok)
	}
	if st, _ := tr.State("immich"); st != Installed {
		t.Errorf("got %s, want INSTALLED", st)
	}
	if _, ok := tr.Observe(core.AppInstalled{Name: "immich"}); ok {
		t.Error("already installed app resolved twice")
	}
	if tr.Pending() != 0 {
		t.Errorf("pending: %d", tr.Pending())
	}
}

func TestInstallsIgnoreErrorEvents(t *testing.T) {
	tr := NewInstalls()
	tr.Begin("immich")
	if _, ok := tr.Observe(core.ErrorEvent{Message: "install failed"}); ok {
		t.Error("error event resolved an install")
	}
	if st, _ := tr.State("immich"); st != Installing {
		t.Errorf("got %s, want INSTALLING", st)
	}
}

func TestInstallsListAndClear(t *testing.T) {
	tr := NewInstalls()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	tr.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	tr.Begin("a")
	tr.Begin("b")
	tr.Begin("  ")
	tr.Observe(core.AppInstalled{Name: "a"})

	list := tr.List()
	if len(list) != 2 || list[0].Name != "b" || list[1].Name != "a" {
		t.Fatalf("list: %+v", list)
	}
	tr.ClearDone()
	if _, ok := tr.State("a"); ok {
		t.Error("finished install not cleared")
	}
	if tr.Pending() != 1 {
		t.Errorf("pending: %d", tr.Pending())
	}
	if !tr.Begin("a") {
		t.Error("reinstall after clear failed")
	}
}

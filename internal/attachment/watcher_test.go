package attachment

import (
	"context"
	"testing"
	"time"

	"github.com/authz-engine/exprauth/internal/params"
)

func waitForReload(t *testing.T, w *Watcher) ReloadedEvent {
	t.Helper()
	select {
	case event := <-w.EventChan():
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reload event")
		return ReloadedEvent{}
	}
}

func TestWatcher_ReloadSwapsSnapshot(t *testing.T) {
	loader := NewLoader(newTestEngine(t), params.NewBinder(), nil)
	dir := t.TempDir()
	writeAttachmentFile(t, dir, "a.yaml", `
methods:
  - operation: Svc.first
    preAuthorize: "true"
`)

	initial, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory() failed: %v", err)
	}
	store := NewStore(initial)

	watcher, err := NewWatcher(dir, store, loader, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	watcher.debounceTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Watch(ctx); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer watcher.Stop()

	writeAttachmentFile(t, dir, "b.yaml", `
methods:
  - operation: Svc.second
    preAuthorize: "true"
`)

	event := waitForReload(t, watcher)
	if event.Error != nil {
		t.Fatalf("reload failed: %v", event.Error)
	}
	if event.Methods != 2 {
		t.Errorf("reloaded %d methods, want 2", event.Methods)
	}
	if _, ok := store.Snapshot().Method("Svc.second"); !ok {
		t.Error("new attachment not visible after reload")
	}
}

func TestWatcher_FailedReloadKeepsPreviousSnapshot(t *testing.T) {
	loader := NewLoader(newTestEngine(t), params.NewBinder(), nil)
	dir := t.TempDir()
	writeAttachmentFile(t, dir, "a.yaml", `
methods:
  - operation: Svc.keep
    preAuthorize: "true"
`)

	initial, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory() failed: %v", err)
	}
	store := NewStore(initial)

	watcher, err := NewWatcher(dir, store, loader, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	watcher.debounceTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Watch(ctx); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer watcher.Stop()

	writeAttachmentFile(t, dir, "broken.yaml", `
methods:
  - operation: Svc.broken
    preAuthorize: "not(valid"
`)

	event := waitForReload(t, watcher)
	if event.Error == nil {
		t.Fatal("expected the reload to fail")
	}
	if _, ok := store.Snapshot().Method("Svc.keep"); !ok {
		t.Error("previous snapshot lost after a failed reload")
	}
	if _, ok := store.Snapshot().Method("Svc.broken"); ok {
		t.Error("broken attachment must not become visible")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	loader := NewLoader(newTestEngine(t), params.NewBinder(), nil)
	dir := t.TempDir()

	initial, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory() failed: %v", err)
	}
	store := NewStore(initial)

	watcher, err := NewWatcher(dir, store, loader, nil)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}
	if err := watcher.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := watcher.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := watcher.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}

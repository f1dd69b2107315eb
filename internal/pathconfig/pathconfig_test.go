package pathconfig

import (
	"testing"

	"github.com/haasonsaas/vassal/internal/memorystore"
)

func newTestStore(t *testing.T) *memorystore.Store {
	t.Helper()
	res := memorystore.Init("session-pathcfg", t.TempDir())
	store, ok := res.Value()
	if !ok {
		t.Fatalf("init store: %v", res.Err())
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSetAndGet(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	res := m.Set("projects", "/home/user/projects", "source tree root")
	entry, ok := res.Value()
	if !ok {
		t.Fatalf("set: %v", res.Err())
	}
	if entry.Label != "projects" || entry.AbsolutePath != "/home/user/projects" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	got, ok := m.Get("projects")
	if !ok {
		t.Fatalf("expected entry to be retrievable")
	}
	if got.MemoryID != entry.MemoryID {
		t.Fatalf("memory id mismatch: got %d want %d", got.MemoryID, entry.MemoryID)
	}
}

func TestSetRejectsRelativePath(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)

	res := m.Set("relative", "projects", "not absolute")
	if res.IsOK() {
		t.Fatalf("expected failure for relative path")
	}
}

func TestLoadRebuildsFromStore(t *testing.T) {
	store := newTestStore(t)
	m := NewManager(store)
	m.Set("docs", "/home/user/docs", "docs root")
	m.Set("docs", "/home/user/docs2", "moved docs root")

	fresh := NewManager(store)
	got, ok := fresh.Get("docs")
	if !ok {
		t.Fatalf("expected entry after reload")
	}
	if got.AbsolutePath != "/home/user/docs2" {
		t.Fatalf("expected latest binding to win, got %q", got.AbsolutePath)
	}
}

func TestLoadIgnoresUntaggedEntries(t *testing.T) {
	store := newTestStore(t)
	store.Add("just a note", []string{"misc"}, 0.3, true)

	m := NewManager(store)
	if len(m.All()) != 0 {
		t.Fatalf("expected no path entries, got %+v", m.All())
	}
}

// Package pathconfig maps human labels to verified filesystem paths,
// persisted exclusively through Memory Store entries tagged "user_path"
// with text form "USER_PATH:label|description|path". The dependency runs
// one direction only: pathconfig reads from and writes to the Memory
// Store, and the Memory Store carries no back-reference — this package is
// the only thing that knows the USER_PATH: encoding.
package pathconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/vassal/internal/memorystore"
	"github.com/haasonsaas/vassal/pkg/models"
)

// pathTag is the Memory Store tag every Path Configuration entry carries.
const pathTag = "user_path"

// pathPrefix discriminates path entries from ordinary memory text.
const pathPrefix = "USER_PATH:"

// Manager is an in-memory index over the Path Configuration entries
// currently live in a Store. It holds no state the Store doesn't already
// own durably; Load rebuilds it from the Store's entries at any time.
type Manager struct {
	store   *memorystore.Store
	entries map[string]models.PathConfigEntry
}

// NewManager builds a Manager over store and loads its current Path
// Configuration entries.
func NewManager(store *memorystore.Store) *Manager {
	m := &Manager{store: store, entries: make(map[string]models.PathConfigEntry)}
	m.Load()
	return m
}

// Load rescans store's live entries for ones tagged user_path and rebuilds
// the label -> entry index, keeping the entry with the greatest memory_id
// per label (the most recent Set wins, matching the Memory Store's
// insertion-order semantics).
func (m *Manager) Load() {
	m.entries = make(map[string]models.PathConfigEntry)
	for _, e := range m.store.Entries() {
		if !hasTag(e.Tags, pathTag) {
			continue
		}
		label, description, path, ok := decode(e.Text)
		if !ok {
			continue
		}
		existing, present := m.entries[label]
		if present && existing.MemoryID > e.MemoryID {
			continue
		}
		m.entries[label] = models.PathConfigEntry{
			Label:        label,
			AbsolutePath: path,
			Description:  description,
			Verified:     verify(path),
			MemoryID:     e.MemoryID,
		}
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// verify reports whether path currently exists and is reachable.
func verify(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func encode(label, description, path string) string {
	return fmt.Sprintf("%s%s|%s|%s", pathPrefix, label, description, path)
}

func decode(text string) (label, description, path string, ok bool) {
	if !strings.HasPrefix(text, pathPrefix) {
		return "", "", "", false
	}
	body := strings.TrimPrefix(text, pathPrefix)
	parts := strings.SplitN(body, "|", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Set records or replaces the path bound to label, appending a new Memory
// Store entry (importance 0.7: path bindings are operationally important
// but not as load-bearing as a context summary). The absolute path is
// verified against the filesystem at write time and the verification
// result is cached in the returned entry; a later Load() re-verifies it.
func (m *Manager) Set(label, absolutePath, description string) models.Result[models.PathConfigEntry] {
	if strings.TrimSpace(label) == "" {
		return models.Failure[models.PathConfigEntry](models.ErrInvalidArgument, "label must not be empty")
	}
	if !strings.HasPrefix(absolutePath, "/") {
		return models.Failure[models.PathConfigEntry](models.ErrInvalidArgument, "path must be absolute: %q", absolutePath)
	}
	text := encode(label, description, absolutePath)
	res := m.store.Add(text, []string{pathTag}, 0.7, false)
	id, ok := res.Value()
	if !ok {
		return models.FailureFromError[models.PathConfigEntry](res.Err())
	}
	entry := models.PathConfigEntry{
		Label:        label,
		AbsolutePath: absolutePath,
		Description:  description,
		Verified:     verify(absolutePath),
		MemoryID:     id,
	}
	m.entries[label] = entry
	return models.Success(entry)
}

// Get returns the entry bound to label, if any.
func (m *Manager) Get(label string) (models.PathConfigEntry, bool) {
	e, ok := m.entries[label]
	return e, ok
}

// All returns every currently bound Path Configuration entry, unordered.
func (m *Manager) All() []models.PathConfigEntry {
	out := make([]models.PathConfigEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

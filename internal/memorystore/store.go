// Package memorystore implements the append-only, crash-recoverable
// conversational memory: tagged entries, relevance search, and an
// operation log that replays deterministically on init.
//
// A Store is not safe for concurrent use; it is driven by a single Governor
// loop on one goroutine, matching the single-threaded contract of the core
// (see internal/governor).
package memorystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/vassal/internal/audit"
	"github.com/haasonsaas/vassal/internal/obslog"
	"github.com/haasonsaas/vassal/pkg/models"
)

// DefaultMaxEntries is the entry cap applied when Options.MaxEntries is
// unset.
const DefaultMaxEntries = 100_000

// Options configures a Store at Init time.
type Options struct {
	// MaxEntries bounds live entries; Add fails with ResourceExhausted once
	// reached. Zero selects DefaultMaxEntries.
	MaxEntries int

	// Metrics, if set, receives Search latency and live entry count
	// observations.
	Metrics *obslog.Metrics

	// Audit, if set, receives a best-effort mutation event per successful
	// add/update/delete. The op log remains the durable record; the audit
	// trail is observability only.
	Audit *audit.Logger
}

// Store holds the live entry sequence and the handle to its append-only
// operation log.
type Store struct {
	sessionID  string
	storageDir string
	maxEntries int

	log         *opLog
	currentPath string
	metrics     *obslog.Metrics
	audit       *audit.Logger

	entries []models.MemoryEntry
	nextID  uint64

	totalSearches uint64
	readOnly      bool
}

// Init opens or creates a per-session log under storageDir and replays the
// most recent previous session log in that directory, if any.
func Init(sessionID, storageDir string) models.Result[*Store] {
	if strings.TrimSpace(sessionID) == "" {
		return models.Failure[*Store](models.ErrInvalidArgument, "session id must not be empty")
	}
	if strings.TrimSpace(storageDir) == "" {
		return models.Failure[*Store](models.ErrInvalidArgument, "storage dir must not be empty")
	}
	return InitWithOptions(sessionID, storageDir, Options{})
}

// InitWithOptions is Init with explicit Options.
func InitWithOptions(sessionID, storageDir string, opts Options) models.Result[*Store] {
	if err := ensureDir(storageDir); err != nil {
		return models.Failure[*Store](models.ErrIoFailure, "create storage dir: %v", err)
	}

	start := time.Now()
	currentPath := filepath.Join(storageDir, logFileName(sessionID, start))

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	s := &Store{
		sessionID:   sessionID,
		storageDir:  storageDir,
		maxEntries:  maxEntries,
		currentPath: currentPath,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
	}

	prev, err := findMostRecentPrevious(storageDir, currentPath)
	if err != nil {
		return models.Failure[*Store](models.ErrIoFailure, "scan storage dir: %v", err)
	}
	if prev != "" {
		if err := replayLog(prev, s.applyReplayRecord); err != nil {
			return models.Failure[*Store](models.ErrIoFailure, "replay %s: %v", prev, err)
		}
	}

	log, err := openOpLog(currentPath)
	if err != nil {
		return models.Failure[*Store](models.ErrIoFailure, "open session log: %v", err)
	}
	s.log = log

	return models.Success(s)
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// applyReplayRecord applies one op-log record during Init's replay pass. It
// never touches the current session's log file.
func (s *Store) applyReplayRecord(rec models.MemoryOpRecord) error {
	switch rec.Op {
	case "", string(models.MemoryOpAdd):
		isUser := rec.User != nil && *rec.User
		imp := 0.0
		if rec.Imp != nil {
			imp = *rec.Imp
		}
		text := ""
		if rec.Text != nil {
			text = *rec.Text
		}
		s.addInternal(text, rec.Tags, imp, isUser, rec.ID, rec.Turn, time.Unix(rec.TS, 0))
	case string(models.MemoryOpUpdateTags):
		s.applyUpdateTags(rec.ID, rec.Tags)
	case string(models.MemoryOpUpdateText):
		text := ""
		if rec.Text != nil {
			text = *rec.Text
		}
		s.applyUpdateText(rec.ID, text)
	case string(models.MemoryOpDelete):
		s.applyDelete(rec.ID)
	default:
		return fmt.Errorf("unknown op %q", rec.Op)
	}
	return nil
}

// Add appends a new memory entry, assigns it the next monotonic id, and
// writes an ADD record before updating in-memory state.
func (s *Store) Add(text string, tags []string, importance float64, isUser bool) models.Result[uint64] {
	if s.readOnly {
		return models.Failure[uint64](models.ErrIoFailure, "store is read-only after a prior log failure")
	}
	if len(s.entries) >= s.maxEntries {
		return models.Failure[uint64](models.ErrResourceExhausted, "store full: %d entries", s.maxEntries)
	}
	text, tags = normalizeEntry(text, tags)

	id := s.nextID + 1
	ts := time.Now()
	turnID := id // the Governor assigns turn_id == memory_id for its own turns; callers that track turns separately may override via AddInternal before replay.

	rec := models.MemoryOpRecord{
		ID:   id,
		Turn: turnID,
		TS:   ts.Unix(),
		User: boolPtr(isUser),
		Imp:  floatPtr(importance),
		Text: strPtr(text),
		Tags: tags,
	}
	if err := s.log.append(rec); err != nil {
		s.readOnly = true
		return models.Failure[uint64](models.ErrIoFailure, "write log: %v", err)
	}

	s.addInternal(text, tags, importance, isUser, id, turnID, ts)
	s.auditMutation("add", id)
	return models.Success(id)
}

// auditMutation emits a best-effort audit event for a committed mutation.
func (s *Store) auditMutation(op string, id uint64) {
	if s.audit != nil {
		s.audit.LogMemoryMutation(context.Background(), s.sessionID, op, id)
	}
}

// AddInternal mirrors Add's in-memory bookkeeping without writing to the
// log; it is the primitive the replay path uses.
func (s *Store) AddInternal(text string, tags []string, importance float64, isUser bool, id, turnID uint64, ts time.Time) {
	text, tags = normalizeEntry(text, tags)
	s.addInternal(text, tags, importance, isUser, id, turnID, ts)
}

func (s *Store) addInternal(text string, tags []string, importance float64, isUser bool, id, turnID uint64, ts time.Time) {
	s.entries = append(s.entries, models.MemoryEntry{
		MemoryID:   id,
		TurnID:     turnID,
		Timestamp:  ts,
		IsUser:     isUser,
		Importance: importance,
		Text:       text,
		Tags:       tags,
	})
	if id >= s.nextID {
		s.nextID = id
	}
	if s.metrics != nil {
		s.metrics.MemoryEntries.Set(float64(len(s.entries)))
	}
}

func normalizeEntry(text string, tags []string) (string, []string) {
	if len(text) > models.MaxMemoryTextChars {
		text = text[:models.MaxMemoryTextChars]
	}
	dedup := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := dedup[t]; ok {
			continue
		}
		dedup[t] = struct{}{}
		out = append(out, t)
		if len(out) >= models.MaxMemoryTags {
			break
		}
	}
	return text, out
}

func (s *Store) findIndex(id uint64) int {
	for i := range s.entries {
		if s.entries[i].MemoryID == id {
			return i
		}
	}
	return -1
}

// UpdateTags replaces the tag set of an existing entry.
func (s *Store) UpdateTags(id uint64, newTags []string) *models.Error {
	if s.readOnly {
		return models.NewError(models.ErrIoFailure, "store is read-only after a prior log failure")
	}
	if s.findIndex(id) < 0 {
		return models.NewError(models.ErrNotFound, "memory id %d not found", id)
	}
	_, tags := normalizeEntry("", newTags)
	if err := s.log.append(models.MemoryOpRecord{Op: string(models.MemoryOpUpdateTags), ID: id, Tags: tags}); err != nil {
		s.readOnly = true
		return models.NewError(models.ErrIoFailure, "write log: %v", err)
	}
	s.applyUpdateTags(id, tags)
	s.auditMutation("update_tags", id)
	return nil
}

func (s *Store) applyUpdateTags(id uint64, tags []string) {
	if i := s.findIndex(id); i >= 0 {
		s.entries[i].Tags = tags
	}
}

// UpdateText replaces the text of an existing entry.
func (s *Store) UpdateText(id uint64, newText string) *models.Error {
	if s.readOnly {
		return models.NewError(models.ErrIoFailure, "store is read-only after a prior log failure")
	}
	if s.findIndex(id) < 0 {
		return models.NewError(models.ErrNotFound, "memory id %d not found", id)
	}
	if len(newText) > models.MaxMemoryTextChars {
		newText = newText[:models.MaxMemoryTextChars]
	}
	if err := s.log.append(models.MemoryOpRecord{Op: string(models.MemoryOpUpdateText), ID: id, Text: strPtr(newText)}); err != nil {
		s.readOnly = true
		return models.NewError(models.ErrIoFailure, "write log: %v", err)
	}
	s.applyUpdateText(id, newText)
	s.auditMutation("update_text", id)
	return nil
}

func (s *Store) applyUpdateText(id uint64, text string) {
	if i := s.findIndex(id); i >= 0 {
		s.entries[i].Text = text
	}
}

// Delete removes the given memory ids. Each removal is logged individually.
// Unknown ids are reported as NotFound but do not abort earlier deletions in
// the same call.
func (s *Store) Delete(ids ...uint64) *models.Error {
	if s.readOnly {
		return models.NewError(models.ErrIoFailure, "store is read-only after a prior log failure")
	}
	for _, id := range ids {
		if s.findIndex(id) < 0 {
			return models.NewError(models.ErrNotFound, "memory id %d not found", id)
		}
		if err := s.log.append(models.MemoryOpRecord{Op: string(models.MemoryOpDelete), ID: id}); err != nil {
			s.readOnly = true
			return models.NewError(models.ErrIoFailure, "write log: %v", err)
		}
		s.applyDelete(id)
		s.auditMutation("delete", id)
	}
	return nil
}

func (s *Store) applyDelete(id uint64) {
	i := s.findIndex(id)
	if i < 0 {
		return
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if s.metrics != nil {
		s.metrics.MemoryEntries.Set(float64(len(s.entries)))
	}
}

// Forget prunes entries older than olderThanSeconds whose importance is
// below importanceBelow, returning the count removed.
func (s *Store) Forget(olderThanSeconds int64, importanceBelow float64) models.Result[int] {
	if s.readOnly {
		return models.Failure[int](models.ErrIoFailure, "store is read-only after a prior log failure")
	}
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var toRemove []uint64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) && e.Importance < importanceBelow {
			toRemove = append(toRemove, e.MemoryID)
		}
	}
	for _, id := range toRemove {
		if err := s.log.append(models.MemoryOpRecord{Op: string(models.MemoryOpDelete), ID: id}); err != nil {
			s.readOnly = true
			return models.Failure[int](models.ErrIoFailure, "write log: %v", err)
		}
		s.applyDelete(id)
		s.auditMutation("delete", id)
	}
	return models.Success(len(toRemove))
}

// Entries returns a snapshot of the live entries in insertion order.
func (s *Store) Entries() []models.MemoryEntry {
	out := make([]models.MemoryEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// TotalSearches returns the running count of Search calls.
func (s *Store) TotalSearches() uint64 { return s.totalSearches }

// SessionPath returns the path of the current session's log file.
func (s *Store) SessionPath() string { return s.currentPath }

// StorageDir returns the directory this store was initialized against.
func (s *Store) StorageDir() string { return s.storageDir }

// Close flushes and closes the session log file.
func (s *Store) Close() *models.Error {
	if s.log == nil {
		return nil
	}
	if err := s.log.close(); err != nil {
		return models.NewError(models.ErrIoFailure, "close session log: %v", err)
	}
	return nil
}

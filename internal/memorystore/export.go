package memorystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/vassal/pkg/models"
)

// Format selects the export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

type exportStatistics struct {
	TotalEntries  int     `json:"total_entries"`
	TotalSearches uint64  `json:"total_searches"`
	UserEntries   int     `json:"user_entries"`
	AvgImportance float64 `json:"avg_importance"`
	ExportedAt    int64   `json:"exported_at"`
}

type exportDocument struct {
	Entries    []models.MemoryEntry `json:"entries"`
	Statistics exportStatistics     `json:"statistics"`
}

// Export writes the live entries to path in the given format.
func (s *Store) Export(path string, format Format) *models.Error {
	switch format {
	case FormatJSON:
		return s.exportJSON(path)
	case FormatMarkdown:
		return s.exportMarkdown(path)
	default:
		return models.NewError(models.ErrInvalidArgument, "unknown export format %q", format)
	}
}

func (s *Store) statistics() exportStatistics {
	stats := exportStatistics{
		TotalEntries:  len(s.entries),
		TotalSearches: s.totalSearches,
		ExportedAt:    time.Now().Unix(),
	}
	var impSum float64
	for _, e := range s.entries {
		if e.IsUser {
			stats.UserEntries++
		}
		impSum += e.Importance
	}
	if len(s.entries) > 0 {
		stats.AvgImportance = impSum / float64(len(s.entries))
	}
	return stats
}

func (s *Store) exportJSON(path string) *models.Error {
	doc := exportDocument{Entries: s.Entries(), Statistics: s.statistics()}
	// Compact output keeps the "entries" key on the first line, which is
	// where Import looks for it.
	data, err := json.Marshal(doc)
	if err != nil {
		return models.NewError(models.ErrIoFailure, "marshal export: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return models.NewError(models.ErrIoFailure, "write export: %v", err)
	}
	return nil
}

func (s *Store) exportMarkdown(path string) *models.Error {
	var b strings.Builder
	b.WriteString("# Memory Export\n\n")
	stats := s.statistics()
	fmt.Fprintf(&b, "- Total entries: %d\n", stats.TotalEntries)
	fmt.Fprintf(&b, "- User entries: %d\n", stats.UserEntries)
	fmt.Fprintf(&b, "- Total searches: %d\n", stats.TotalSearches)
	fmt.Fprintf(&b, "- Average importance: %.2f\n\n", stats.AvgImportance)
	for _, e := range s.entries {
		role := "assistant"
		if e.IsUser {
			role = "user"
		}
		fmt.Fprintf(&b, "## [%d] %s (%s, importance %.2f)\n\n%s\n\n", e.MemoryID, role,
			e.Timestamp.Format(time.RFC3339), e.Importance, e.Text)
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(e.Tags, ", "))
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return models.NewError(models.ErrIoFailure, "write export: %v", err)
	}
	return nil
}

// Import loads entries from a prior export, auto-detecting a structured
// JSON document (top-level "entries" key) versus a line-delimited JSONL op
// log, and replays them as ADD-equivalent entries without touching the
// current session log.
func (s *Store) Import(path string) *models.Error {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.NewError(models.ErrIoFailure, "read import file: %v", err)
	}
	firstLine := data
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	if strings.Contains(string(firstLine), `"entries":`) {
		return s.importJSON(data)
	}
	return s.importJSONL(path)
}

func (s *Store) importJSON(data []byte) *models.Error {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.NewError(models.ErrParseFailure, "parse import document: %v", err)
	}
	for _, e := range doc.Entries {
		s.importEntryIfAbsent(e)
	}
	return nil
}

func (s *Store) importJSONL(path string) *models.Error {
	err := replayLog(path, func(rec models.MemoryOpRecord) error {
		return s.applyReplayRecord(rec)
	})
	if err != nil {
		return models.NewError(models.ErrParseFailure, "parse import log: %v", err)
	}
	return nil
}

func (s *Store) importEntryIfAbsent(e models.MemoryEntry) {
	if s.findIndex(e.MemoryID) >= 0 {
		return
	}
	s.addInternal(e.Text, e.Tags, e.Importance, e.IsUser, e.MemoryID, e.TurnID, e.Timestamp)
}

// ArchiveSessions moves every .jsonl file in the storage directory except
// the current session's into an "archive" subdirectory.
func (s *Store) ArchiveSessions() *models.Error {
	archiveDir := filepath.Join(s.storageDir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return models.NewError(models.ErrIoFailure, "create archive dir: %v", err)
	}
	paths, err := listSessionLogs(s.storageDir)
	if err != nil {
		return models.NewError(models.ErrIoFailure, "list session logs: %v", err)
	}
	for _, p := range paths {
		if p == s.currentPath {
			continue
		}
		dest := filepath.Join(archiveDir, filepath.Base(p))
		if err := os.Rename(p, dest); err != nil {
			return models.NewError(models.ErrIoFailure, "archive %s: %v", p, err)
		}
	}
	return nil
}

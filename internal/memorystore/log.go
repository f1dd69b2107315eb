package memorystore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/vassal/pkg/models"
)

// logFileExt is the suffix of every session log file.
const logFileExt = ".jsonl"

// logFileName derives a session log filename from the session id and start
// timestamp.
func logFileName(sessionID string, start time.Time) string {
	ts := start.Format("20060102T150405.000000000")
	if sessionID == "" {
		return ts + logFileExt
	}
	return sessionID + "_" + ts + logFileExt
}

// findMostRecentPrevious returns the path of the .jsonl file in dir with the
// greatest modification time, excluding excludePath. Returns "" if none
// exists.
func findMostRecentPrevious(dir, excludePath string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), logFileExt) {
			continue
		}
		full := filepath.Join(dir, ent.Name())
		if full == excludePath {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = full
			bestMod = info.ModTime()
		}
	}
	return best, nil
}

// listSessionLogs returns every .jsonl path in dir, sorted by modification
// time ascending.
func listSessionLogs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type logFile struct {
		path string
		mod  time.Time
	}
	var files []logFile
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), logFileExt) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, ent.Name()), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// replayLog reads every record of the log file at path in order and
// applies each to apply. This is the sole mechanism by which a fresh Store
// recovers prior state. Init replays only the most recent previous session
// log; entries recorded only in older session logs are not restored.
func replayLog(path string, apply func(models.MemoryOpRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.MemoryOpRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("replay %s:%d: %w", path, lineNo, err)
		}
		if err := apply(rec); err != nil {
			return fmt.Errorf("replay %s:%d: %w", path, lineNo, err)
		}
	}
	return scanner.Err()
}

// opLog is the append-only writer for the current session's log file. Every
// append is followed by an fsync-class flush, matching the reference
// behavior of flushing on every record.
type opLog struct {
	file *os.File
}

func openOpLog(path string) (*opLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &opLog{file: f}, nil
}

func (l *opLog) append(rec models.MemoryOpRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return err
	}
	return l.file.Sync()
}

func (l *opLog) close() error {
	return l.file.Close()
}

func boolPtr(b bool) *bool       { return &b }
func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string    { return &s }

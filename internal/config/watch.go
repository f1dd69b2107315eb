package config

import (
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a configuration file on disk and applies reloads of the
// fields named by ReloadSafeFields whenever the file changes, debouncing
// bursts of fsnotify events into a single reload.
//
// Inference.ModelPath and Inference.NCtx never change underneath a watcher:
// reload preserves the section verbatim from the config snapshot taken at
// NewWatcher time, so a live edit to those fields requires a full
// unload/load cycle of the Governor.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	cancel  func()
	wg      sync.WaitGroup

	onReload func(*Config)
}

// NewWatcher loads path once, then arms an fsnotify watch on it. Call
// Close to stop watching. onReload, if non-nil, is invoked after every
// successful reload with the new snapshot.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		current:  cfg,
		watcher:  fsw,
		onReload: onReload,
	}

	done := make(chan struct{})
	w.cancel = sync.OnceFunc(func() { close(done) })
	w.wg.Add(1)
	go w.loop(done)

	return w, nil
}

// Config returns the most recently loaded configuration snapshot.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watch goroutine and closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) loop(done <-chan struct{}) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	const debounce = 200 * time.Millisecond

	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, w.reload)
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// reload re-parses the config file and applies only the fields named by
// ReloadSafeFields, leaving Inference untouched regardless of what the file
// now contains — the reload-unsafe section requires a full restart.
func (w *Watcher) reload() {
	raw, err := LoadRaw(w.path)
	if err != nil {
		w.logger.Warn("config reload: read failed", "path", w.path, "error", err)
		return
	}
	next, err := decodeRawConfig(raw)
	if err != nil {
		w.logger.Warn("config reload: parse failed", "path", w.path, "error", err)
		return
	}
	applyDefaults(next)
	if err := validateConfig(next); err != nil {
		w.logger.Warn("config reload: validation failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	merged := *w.current
	applyReloadSafeFields(&merged, next)
	changed := !reflect.DeepEqual(merged, *w.current)
	w.current = &merged
	snapshot := w.current
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(snapshot)
	}
}

// applyReloadSafeFields copies every section named by ReloadSafeFields from
// src into dst, leaving dst.Inference (the reload-unsafe section) untouched.
func applyReloadSafeFields(dst, src *Config) {
	dst.Governor = src.Governor
	dst.ContextMgr = src.ContextMgr
	dst.Tooling = src.Tooling
	dst.Logging = src.Logging
	dst.Audit = src.Audit
	dst.Metrics = src.Metrics
	dst.Tracing = src.Tracing
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsSafeFields(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
governor:
  max_iterations: 3
`)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	if w.Config().Governor.MaxIterations != 3 {
		t.Fatalf("expected initial max_iterations 3, got %d", w.Config().Governor.MaxIterations)
	}

	if err := os.WriteFile(path, []byte(`
inference:
  model_path: /models/m.gguf
governor:
  max_iterations: 9
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Governor.MaxIterations != 9 {
			t.Fatalf("expected reloaded max_iterations 9, got %d", cfg.Governor.MaxIterations)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresInferenceChangesOnReload(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/original.gguf
`)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := os.WriteFile(path, []byte(`
inference:
  model_path: /models/changed.gguf
governor:
  max_iterations: 7
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Inference.ModelPath != "/models/original.gguf" {
			t.Fatalf("expected model_path to stay pinned, got %q", cfg.Inference.ModelPath)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for config reload")
	}
}

func TestNewWatcherRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
governor:
  max_iterations: 3
`)
	if _, err := NewWatcher(path, nil, nil); err == nil {
		t.Fatalf("expected error for config missing model_path")
	}
}

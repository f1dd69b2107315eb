package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vassal.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
  extra_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRequiresModelPath(t *testing.T) {
	path := writeConfig(t, `
governor:
  max_iterations: 5
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "model_path") {
		t.Fatalf("expected model_path error, got %v", err)
	}
}

func TestLoadValidatesNBatchAgainstNCtx(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
  n_ctx: 512
  n_batch: 1024
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "n_batch") {
		t.Fatalf("expected n_batch error, got %v", err)
	}
}

func TestLoadValidatesSummaryDetailLevel(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
context_manager:
  summary_detail_level: verbose
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "summary_detail_level") {
		t.Fatalf("expected summary_detail_level error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Inference.NCtx != 4096 {
		t.Fatalf("expected default n_ctx 4096, got %d", cfg.Inference.NCtx)
	}
	if cfg.Governor.MaxIterations != 5 {
		t.Fatalf("expected default max_iterations 5, got %d", cfg.Governor.MaxIterations)
	}
	if cfg.ContextMgr.SummaryDetailLevel != "brief" {
		t.Fatalf("expected default summary_detail_level brief, got %q", cfg.ContextMgr.SummaryDetailLevel)
	}
	if !cfg.Tooling.ResultGuard.Enabled {
		t.Fatalf("expected result guard enabled by default")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("VASSAL_TEST_MODEL_PATH", "/models/env.gguf")
	path := writeConfig(t, `
inference:
  model_path: ${VASSAL_TEST_MODEL_PATH}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Inference.ModelPath != "/models/env.gguf" {
		t.Fatalf("expected env var expansion, got %q", cfg.Inference.ModelPath)
	}
}

func TestLoadMergesIncludedFile(t *testing.T) {
	dir := t.TempDir()
	samplerPath := filepath.Join(dir, "sampler.yaml")
	if err := os.WriteFile(samplerPath, []byte(strings.TrimSpace(`
inference:
  sampler:
    temperature: 0.4
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "vassal.yaml")
	if err := os.WriteFile(mainPath, []byte(strings.TrimSpace(`
$include: sampler.yaml
inference:
  model_path: /models/m.gguf
`)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Inference.Sampler.Temperature != 0.4 {
		t.Fatalf("expected included sampler.temperature 0.4, got %v", cfg.Inference.Sampler.Temperature)
	}
	if cfg.Inference.ModelPath != "/models/m.gguf" {
		t.Fatalf("expected main file's model_path to win, got %q", cfg.Inference.ModelPath)
	}
}

// A literal `max_iterations: 0` must survive defaulting unchanged: it has
// to reach the Governor as an explicit zero, not get coerced to the
// default of 5 the way an absent field does.
func TestLoadPreservesExplicitZeroMaxIterations(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
governor:
  max_iterations: 0
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Governor.MaxIterations != 0 {
		t.Fatalf("expected explicit max_iterations 0 to survive, got %d", cfg.Governor.MaxIterations)
	}
}

func TestLoadRejectsNewerConfigVersion(t *testing.T) {
	path := writeConfig(t, `
version: 99
inference:
  model_path: /models/m.gguf
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-than-build error, got %v", err)
	}
}

func TestLoadDefaultsAbsentVersion(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Fatalf("expected version defaulted to %d, got %d", CurrentVersion, cfg.Version)
	}
}

func TestLoadRejectsNegativeMaxIterations(t *testing.T) {
	path := writeConfig(t, `
inference:
  model_path: /models/m.gguf
governor:
  max_iterations: -1
`)
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error for negative max_iterations")
	}
	if !strings.Contains(err.Error(), "max_iterations") {
		t.Fatalf("expected max_iterations error, got %v", err)
	}
}

package config

import (
	"fmt"
	"math"
	"time"
)

// Config is the top-level configuration for the Governor core: one
// per-concern struct per subsystem, loaded from a single YAML document.
type Config struct {
	// Version is the config schema version. Absent means CurrentVersion.
	Version int `yaml:"version"`

	Inference  InferenceConfig  `yaml:"inference"`
	Memory     MemoryConfig     `yaml:"memory"`
	Governor   GovernorConfig   `yaml:"governor"`
	ContextMgr ContextMgrConfig `yaml:"context_manager"`
	Tooling    ToolingConfig    `yaml:"tooling"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// InferenceConfig configures the Inference Adapter's model load and
// sampling defaults. The whole section is reload-unsafe: a config Watcher
// keeps it exactly as first loaded, so changing any of these fields
// (ModelPath and NCtx included) takes a process restart.
type InferenceConfig struct {
	// ModelPath is the path to the GGUF model file. Reload-unsafe.
	ModelPath string `yaml:"model_path"`

	// NCtx is the KV cache size in tokens. Reload-unsafe.
	NCtx int `yaml:"n_ctx"`

	// NBatch is the maximum sub-batch size passed to decode() per call.
	NBatch int `yaml:"n_batch"`

	// NThreads is the number of CPU threads used for decoding.
	NThreads int `yaml:"n_threads"`

	// GPULayers is the number of model layers offloaded to GPU, if any.
	GPULayers int `yaml:"gpu_layers"`

	// UseMmap memory-maps the model file instead of reading it into RAM.
	UseMmap bool `yaml:"use_mmap"`

	// UseMlock locks the model's pages in RAM, preventing swap.
	UseMlock bool `yaml:"use_mlock"`

	// FlashAttn enables the flash-attention kernel, when supported.
	FlashAttn bool `yaml:"flash_attn"`

	// Sampler configures the default sampler chain.
	Sampler SamplerConfig `yaml:"sampler"`
}

// SamplerConfig configures the sampler chain order: repetition-penalty,
// top-k, top-p, temperature, then a seeded draw.
type SamplerConfig struct {
	RepeatPenalty     float64 `yaml:"repeat_penalty"`
	RepeatLastN       int     `yaml:"repeat_last_n"`
	TopK              int     `yaml:"top_k"`
	TopP              float64 `yaml:"top_p"`
	Temperature       float64 `yaml:"temperature"`
	Seed              int64   `yaml:"seed"`
	ReseedEachRequest bool    `yaml:"reseed_each_request"`
}

// MemoryConfig configures the Memory Store's on-disk op-log.
type MemoryConfig struct {
	// StorageDir holds the append-only operation log and any exports.
	StorageDir string `yaml:"storage_dir"`

	// MaxEntries caps the number of live (non-deleted) entries retained;
	// 0 selects the Memory Store's default cap of 100,000.
	MaxEntries int `yaml:"max_entries"`

	// ArchiveAfter defaults to 30 days. Nothing reads it: archive_sessions
	// moves every session log except the current one, whatever its age.
	ArchiveAfter time.Duration `yaml:"archive_after"`
}

// GovernorConfig configures the Governor's execute() loop.
type GovernorConfig struct {
	// MaxIterations bounds the number of decode/sample/dispatch cycles
	// per execute() call before returning a timeout outcome.
	MaxIterations int `yaml:"max_iterations"`

	// MaxTokensPerResponse caps tokens sampled per iteration before a
	// forced stop.
	MaxTokensPerResponse int `yaml:"max_tokens_per_response"`

	// ToolTimeout bounds a single tool dispatch.
	ToolTimeout time.Duration `yaml:"tool_timeout"`
}

// ContextMgrConfig configures the Context Manager's window-shift and
// summarization thresholds.
type ContextMgrConfig struct {
	// ShiftThreshold is a fraction of n_ctx in (0, 1]; an absent or zero
	// value defaults to 0.9. It is passed through to the Governor's Options,
	// but the Governor does not consult it: the Context Manager runs only
	// when the next span would not fit in n_ctx.
	ShiftThreshold float64 `yaml:"shift_threshold"`

	// KeepLastK is the default number of most recent turns preserved by
	// shift_window and summarize_old.
	KeepLastK int `yaml:"keep_last_k"`

	// SummaryDetailLevel is the default detail_level passed to
	// summarize_old ("brief" or "detailed").
	SummaryDetailLevel string `yaml:"summary_detail_level"`
}

// ToolingConfig configures the Tool Registry & Dispatch.
type ToolingConfig struct {
	// ResultGuard controls redaction/truncation of tool results before
	// they are injected back into the conversation.
	ResultGuard ToolResultGuardConfig `yaml:"result_guard"`
}

// ToolResultGuardConfig controls redaction and truncation of tool output.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}

// LoggingConfig configures internal/obslog.
type LoggingConfig struct {
	Level           string   `yaml:"level"`
	Format          string   `yaml:"format"`
	Output          string   `yaml:"output"`
	AddSource       bool     `yaml:"add_source"`
	RedactPatterns  []string `yaml:"redact_patterns"`
}

// AuditConfig configures internal/audit.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Level         string        `yaml:"level"`
	Format        string        `yaml:"format"`
	Output        string        `yaml:"output"`
	SampleRate    float64       `yaml:"sample_rate"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig configures the OpenTelemetry OTLP exporter.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Load reads, parses, defaults, and validates a configuration file.
// $include directives are resolved first via LoadRaw, so a deployment can
// split sampler defaults, audit settings, etc. into separate included
// files.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyInferenceDefaults(&cfg.Inference)
	applyMemoryDefaults(&cfg.Memory)
	applyGovernorDefaults(&cfg.Governor)
	applyContextMgrDefaults(&cfg.ContextMgr)
	applyToolingDefaults(&cfg.Tooling)
	applyLoggingDefaults(&cfg.Logging)
	applyAuditDefaults(&cfg.Audit)
	applyMetricsDefaults(&cfg.Metrics)
	applyTracingDefaults(&cfg.Tracing)
}

func applyInferenceDefaults(cfg *InferenceConfig) {
	if cfg.NCtx == 0 {
		cfg.NCtx = 4096
	}
	if cfg.NBatch == 0 {
		cfg.NBatch = 1024
	}
	if cfg.NThreads == 0 {
		cfg.NThreads = 4
	}
	if cfg.Sampler.RepeatLastN == 0 {
		cfg.Sampler.RepeatLastN = 64
	}
	if cfg.Sampler.RepeatPenalty == 0 {
		cfg.Sampler.RepeatPenalty = 1.1
	}
	if cfg.Sampler.TopK == 0 {
		cfg.Sampler.TopK = 40
	}
	if cfg.Sampler.TopP == 0 {
		cfg.Sampler.TopP = 0.95
	}
	if cfg.Sampler.Temperature == 0 {
		cfg.Sampler.Temperature = 0.8
	}
}

func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.StorageDir == "" {
		cfg.StorageDir = "./data/memory"
	}
	if cfg.ArchiveAfter == 0 {
		cfg.ArchiveAfter = 30 * 24 * time.Hour
	}
}

// maxIterationsUnset marks GovernorConfig.MaxIterations as absent from the
// source document (set by decodeRawConfig before defaulting runs), distinct
// from a literal `max_iterations: 0` in the file. The latter must reach
// the Governor unchanged: an explicit zero means "time out without any
// decode", not "use the default". The sentinel lies outside any value a
// file would plausibly set, so an explicit negative value still reaches
// validateConfig and is rejected.
const maxIterationsUnset = math.MinInt

func applyGovernorDefaults(cfg *GovernorConfig) {
	if cfg.MaxIterations == maxIterationsUnset {
		cfg.MaxIterations = 5
	}
	if cfg.MaxTokensPerResponse == 0 {
		cfg.MaxTokensPerResponse = 512
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
}

func applyContextMgrDefaults(cfg *ContextMgrConfig) {
	if cfg.ShiftThreshold == 0 {
		cfg.ShiftThreshold = 0.9
	}
	if cfg.KeepLastK == 0 {
		cfg.KeepLastK = 6
	}
	if cfg.SummaryDetailLevel == "" {
		cfg.SummaryDetailLevel = "brief"
	}
}

func applyToolingDefaults(cfg *ToolingConfig) {
	if !cfg.ResultGuard.Enabled && cfg.ResultGuard.MaxChars == 0 {
		cfg.ResultGuard.Enabled = true
	}
	if cfg.ResultGuard.MaxChars == 0 {
		cfg.ResultGuard.MaxChars = 64 * 1024
	}
	if cfg.ResultGuard.TruncateSuffix == "" {
		cfg.ResultGuard.TruncateSuffix = "...(truncated)"
	}
	if cfg.ResultGuard.RedactionText == "" {
		cfg.ResultGuard.RedactionText = "[REDACTED]"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyAuditDefaults(cfg *AuditConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = ":9090"
	}
}

func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 0.1
	}
}

// ConfigValidationError describes a configuration validation failure.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func validateConfig(cfg *Config) error {
	if err := ValidateVersion(cfg.Version); err != nil {
		return err
	}
	if cfg.Inference.ModelPath == "" {
		return &ConfigValidationError{Field: "inference.model_path", Reason: "must be set"}
	}
	if cfg.Inference.NBatch > cfg.Inference.NCtx {
		return &ConfigValidationError{Field: "inference.n_batch", Reason: "must not exceed n_ctx"}
	}
	if cfg.Governor.MaxIterations < 0 {
		return &ConfigValidationError{Field: "governor.max_iterations", Reason: "must be non-negative"}
	}
	if cfg.ContextMgr.KeepLastK < 0 {
		return &ConfigValidationError{Field: "context_manager.keep_last_k", Reason: "must be non-negative"}
	}
	if cfg.ContextMgr.ShiftThreshold <= 0 || cfg.ContextMgr.ShiftThreshold > 1 {
		return &ConfigValidationError{Field: "context_manager.shift_threshold", Reason: "must be in (0, 1]"}
	}
	if cfg.ContextMgr.SummaryDetailLevel != "brief" && cfg.ContextMgr.SummaryDetailLevel != "detailed" {
		return &ConfigValidationError{Field: "context_manager.summary_detail_level", Reason: `must be "brief" or "detailed"`}
	}
	return nil
}

// ReloadSafeFields returns the set of top-level config sections that may be
// hot-reloaded via fsnotify without restarting the process. The Inference
// section (model path, n_ctx) is reload-unsafe and always excluded.
func ReloadSafeFields() []string {
	return []string{"governor", "context_manager", "tooling", "logging", "audit", "metrics", "tracing"}
}

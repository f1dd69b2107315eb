package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/vassal/internal/audit"
	"github.com/haasonsaas/vassal/internal/config"
	"github.com/haasonsaas/vassal/internal/governor"
	"github.com/haasonsaas/vassal/internal/governor/ctxmgr"
	"github.com/haasonsaas/vassal/internal/inference"
	"github.com/haasonsaas/vassal/internal/memorystore"
	"github.com/haasonsaas/vassal/internal/obslog"
	"github.com/haasonsaas/vassal/internal/pathconfig"
	"github.com/haasonsaas/vassal/internal/retry"
	"github.com/haasonsaas/vassal/internal/tooling"
	"github.com/haasonsaas/vassal/pkg/models"
)

// buildRunCmd creates the "run" command: the interactive REPL harness that
// loads a model and takes one execute() per line of stdin.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a model and run an interactive execute() loop over stdin",
		Long: `Loads the configured model into the Governor and reads queries one line
at a time from stdin, printing each execute() outcome to stdout.

Each non-empty line is one turn; empty lines are skipped. EOF, SIGINT or
SIGTERM ends the session and flushes the Memory Store and audit log
cleanly.`,
		Example: `  # Run with the default config path
  vassal run

  # Run with a specific config and session id
  vassal run --config vassal.yaml --session morning-standup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runRun(cmd.Context(), configPath, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for the Memory Store log (default: generated)")

	return cmd
}

// buildDoctorCmd creates the "doctor" command: load and validate a
// configuration file without starting a model or a REPL.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid (model=%s, n_ctx=%d, storage_dir=%s)\n",
				configPath, cfg.Inference.ModelPath, cfg.Inference.NCtx, cfg.Memory.StorageDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runRun(ctx context.Context, configPath, sessionID string, stdin io.Reader, stdout io.Writer) error {
	watcher, err := config.NewWatcher(configPath, slog.Default(), func(next *config.Config) {
		slog.Info("config reloaded", "config_path", configPath, "max_iterations", next.Governor.MaxIterations)
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	cfg := watcher.Config()

	logger := obslog.NewLogger(obslog.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	}).WithFields("component", "cli")
	metrics := obslog.NewMetrics()
	traceEndpoint := ""
	if cfg.Tracing.Enabled {
		traceEndpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracer := obslog.NewTracer(obslog.TraceConfig{
		ServiceName:    "vassal",
		ServiceVersion: version,
		Endpoint:       traceEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	auditLogger, err := audit.NewLogger(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Level:         audit.Level(cfg.Audit.Level),
		Format:        audit.OutputFormat(cfg.Audit.Format),
		Output:        cfg.Audit.Output,
		SampleRate:    cfg.Audit.SampleRate,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer func() { _ = auditLogger.Close() }()

	if sessionID == "" {
		sessionID = fmt.Sprintf("vassal-%d", time.Now().UnixNano())
	}
	storeRes := memorystore.InitWithOptions(sessionID, cfg.Memory.StorageDir, memorystore.Options{
		MaxEntries: cfg.Memory.MaxEntries,
		Metrics:    metrics,
		Audit:      auditLogger,
	})
	store, ok := storeRes.Value()
	if !ok {
		return fmt.Errorf("memory store: %s", storeRes.Err().Error())
	}
	defer func() { _ = store.Close() }()

	registry := tooling.NewRegistry()
	if err := tooling.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("register builtin tools: %s", err.Error())
	}
	if err := tooling.RegisterMemoryTools(registry, store); err != nil {
		return fmt.Errorf("register memory tools: %s", err.Error())
	}
	pathMgr := pathconfig.NewManager(store)
	if err := pathconfig.RegisterTools(registry, pathMgr); err != nil {
		return fmt.Errorf("register path config tools: %s", err.Error())
	}

	engine := inference.NewMockEngine()
	gov := governor.NewGovernor(engine, registry, governor.Options{
		MaxIterations:        cfg.Governor.MaxIterations,
		MaxTokensPerResponse: cfg.Governor.MaxTokensPerResponse,
		ToolTimeout:          cfg.Governor.ToolTimeout,
		Sampler:              toInferenceSampler(cfg.Inference.Sampler),
		ReseedEachRequest:    cfg.Inference.Sampler.ReseedEachRequest,
		KeepLastK:            cfg.ContextMgr.KeepLastK,
		ShiftThreshold:       cfg.ContextMgr.ShiftThreshold,
		SummaryDetailLevel:   toDetailLevel(cfg.ContextMgr.SummaryDetailLevel),
		ResultGuard: governor.ToolResultGuard{
			Enabled:         cfg.Tooling.ResultGuard.Enabled,
			MaxChars:        cfg.Tooling.ResultGuard.MaxChars,
			RedactPatterns:  cfg.Tooling.ResultGuard.RedactPatterns,
			RedactionText:   cfg.Tooling.ResultGuard.RedactionText,
			TruncateSuffix:  cfg.Tooling.ResultGuard.TruncateSuffix,
			SanitizeSecrets: cfg.Tooling.ResultGuard.SanitizeSecrets,
		},
		Memory:  store,
		Audit:   auditLogger,
		Metrics: metrics,
		Tracer:  tracer,
	})

	loadParams := inference.LoadParams{
		NCtx:      cfg.Inference.NCtx,
		NBatch:    cfg.Inference.NBatch,
		NThreads:  cfg.Inference.NThreads,
		GPULayers: cfg.Inference.GPULayers,
		UseMmap:   cfg.Inference.UseMmap,
		UseMlock:  cfg.Inference.UseMlock,
		FlashAttn: cfg.Inference.FlashAttn,
	}
	// Model load can fail transiently (e.g. the model file is on a network
	// mount that hiccups); retry backend failures, but not InvalidArgument.
	// LoadModel reports any engine load failure, a missing model file
	// included, as BackendFailure, so those are retried too.
	loadResult := retry.Do(ctx, retry.Exponential(3, 200*time.Millisecond, 2*time.Second), func() error {
		loadErr := gov.LoadModel(ctx, cfg.Inference.ModelPath, loadParams, cfg.Inference.Sampler.Seed)
		if loadErr == nil {
			return nil
		}
		if loadErr.Kind == models.ErrInvalidArgument {
			return retry.Permanent(loadErr)
		}
		return loadErr
	})
	if loadResult.Err != nil {
		return fmt.Errorf("load model: %w", loadResult.Err)
	}
	ctx = obslog.AddSessionID(ctx, sessionID)
	logger.Info(ctx, "model loaded", "model_path", cfg.Inference.ModelPath)
	defer func() { _ = gov.UnloadModel() }()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scanner := bufio.NewScanner(stdin)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		select {
		case <-runCtx.Done():
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineCtx := obslog.AddRequestID(runCtx, fmt.Sprintf("%s-%d", sessionID, lineNo))
		outcome := gov.Execute(lineCtx, line, func(models.ProgressEvent) {}, func(string) {})
		switch outcome.Kind {
		case governor.OutcomeSuccess:
			fmt.Fprintln(stdout, outcome.Text)
		case governor.OutcomeNeedClarification:
			fmt.Fprintln(stdout, "(clarification needed) "+outcome.Text)
		case governor.OutcomeTimeout:
			fmt.Fprintln(stdout, "(timed out)")
		case governor.OutcomeError:
			fmt.Fprintln(stdout, "error: "+outcome.Err.Error())
		}
	}
	return scanner.Err()
}

func toInferenceSampler(s config.SamplerConfig) inference.SamplerConfig {
	return inference.SamplerConfig{
		RepeatPenalty: s.RepeatPenalty,
		RepeatLastN:   s.RepeatLastN,
		TopK:          s.TopK,
		TopP:          s.TopP,
		Temperature:   s.Temperature,
		Seed:          s.Seed,
	}
}

func toDetailLevel(s string) ctxmgr.DetailLevel {
	if s == string(ctxmgr.DetailDetailed) {
		return ctxmgr.DetailDetailed
	}
	return ctxmgr.DetailBrief
}

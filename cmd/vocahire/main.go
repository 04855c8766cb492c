// Command vocahire is the entry point for the VocaHire interview evaluation
// service.
//
// Usage:
//
//	vocahire [-config path] [serve]
//	vocahire evaluate [-config path] -job title [-qualities a,b] [-candidate policy] file...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/vocahire/vocahire/internal/app"
	"github.com/vocahire/vocahire/internal/config"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/httpapi"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/diarize/pyannote"
	"github.com/vocahire/vocahire/pkg/provider/llm"
	"github.com/vocahire/vocahire/pkg/provider/llm/anyllm"
	"github.com/vocahire/vocahire/pkg/provider/llm/openai"
	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/provider/stt/deepgram"
	"github.com/vocahire/vocahire/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A missing .env is normal in production; secrets then come from the
	// real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "vocahire: load .env: %v\n", err)
		return 1
	}

	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "evaluate") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "evaluate":
		return runEvaluate(args, os.Stdout)
	default:
		return runServe(args)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe(args []string) int {
	fset := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fset.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fset.Parse(args); err != nil {
		return 2
	}

	cfg, level, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}

	slog.Info("vocahire starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"store", cfg.Store.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithVersion(version),
		app.WithMetricsHandler(telemetry.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── evaluate ──────────────────────────────────────────────────────────────────

// fileResult is one line of evaluate output.
type fileResult struct {
	File       string            `json:"file"`
	Evaluation *store.Evaluation `json:"evaluation,omitempty"`
	Error      string            `json:"error,omitempty"`
	Stage      string            `json:"stage,omitempty"`
}

func runEvaluate(args []string, out io.Writer) int {
	fset := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configPath := fset.String("config", "config.yaml", "path to the YAML configuration file")
	job := fset.String("job", "", "job title the candidates are evaluated against (required)")
	qualities := fset.String("qualities", "", "comma-separated required qualities")
	candidate := fset.String("candidate", "", "candidate policy: dominant, first, second or label:<SPEAKER>")
	concurrency := fset.Int("concurrency", 0, "files evaluated at once (default: server.max_concurrent)")
	save := fset.Bool("save", false, "persist results to the configured store")
	if err := fset.Parse(args); err != nil {
		return 2
	}
	files := fset.Args()
	if *job == "" || len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: vocahire evaluate -job title [-qualities a,b] [-candidate policy] file...")
		return 2
	}

	var policy *extract.Policy
	if *candidate != "" {
		p, err := extract.ParsePolicy(*candidate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vocahire: %v\n", err)
			return 2
		}
		policy = &p
	}

	cfg, _, ok := loadConfig(*configPath)
	if !ok {
		return 1
	}
	limit := *concurrency
	if limit <= 0 {
		limit = cfg.Server.MaxConcurrent
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(reg, cfg.Providers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// The app supplies the pipeline and store; its listener is never started.
	cfg.Inbox.Dir = ""
	cfg.MCP.Enabled = false
	application, err := app.New(ctx, cfg, providers, app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() { _ = application.Shutdown(context.Background()) }()

	results := make([]fileResult, len(files))
	quals := httpapi.SplitQualities(*qualities)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, file := range files {
		g.Go(func() error {
			results[i] = evaluateFile(gctx, application, file, *job, quals, policy, *save)
			// Per-file failures go into the output, not the group.
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	code := 0
	for _, r := range results {
		if r.Error != "" {
			code = 1
		}
		if err := enc.Encode(r); err != nil {
			slog.Error("write result", "err", err)
			return 1
		}
	}
	return code
}

func evaluateFile(ctx context.Context, a *app.App, file, job string, qualities []string, policy *extract.Policy, save bool) fileResult {
	fr := fileResult{File: file}
	ctx = observe.WithSource(ctx, string(store.SourceCLI))
	res, err := a.Evaluator().Evaluate(ctx, pipeline.Request{
		AudioPath: file,
		JobTitle:  job,
		Qualities: qualities,
		Candidate: policy,
	})
	if err != nil {
		fr.Error = err.Error()
		fr.Stage = string(pipeline.FailedStage(err))
		observe.Logger(ctx).Warn("evaluation failed", "file", file, "err", err)
		return fr
	}

	e := store.NewEvaluation(store.SourceCLI, job, qualities, *res)
	e.AudioName = filepath.Base(file)
	if save {
		if err := a.Store().SaveEvaluation(ctx, e); err != nil {
			fr.Error = fmt.Sprintf("save: %v", err)
			return fr
		}
	}
	fr.Evaluation = &e
	return fr
}

// loadConfig loads and validates the config and installs the process
// logger. The returned level variable backs the logger for hot reloads.
func loadConfig(path string) (*config.Config, *slog.LevelVar, bool) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocahire: config file %q not found, copy configs/example.yaml to get started\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "vocahire: %v\n", err)
		}
		return nil, nil, false
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))
	return cfg, level, true
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai uses the native SDK so the response schema is enforced
	// server-side.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		timeout, err := optDuration(entry.Options, "timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		if _, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, openai.WithMaxRetries(optInt(entry.Options, "max_retries")))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining backends go through any-llm-go. Hosted ones take an API
	// key; ollama and the llama servers only need BaseURL.
	for _, backend := range anyllm.SupportedBackends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return deepgram.New(entry.APIKey, deepgramOptions(entry)...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "max_concurrent"); n > 0 {
			opts = append(opts, whisper.WithNativeMaxConcurrent(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Diarization ───────────────────────────────────────────────────────────

	reg.RegisterDiarization("pyannote", func(entry config.ProviderEntry) (diarize.Diarizer, error) {
		var opts []pyannote.Option
		if entry.APIKey != "" {
			opts = append(opts, pyannote.WithToken(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, pyannote.WithPipeline(entry.Model))
		}
		if n := optInt(entry.Options, "num_speakers"); n > 0 {
			opts = append(opts, pyannote.WithNumSpeakers(n))
		}
		return pyannote.New(entry.BaseURL, opts...)
	})

	reg.RegisterDiarization("deepgram", func(entry config.ProviderEntry) (diarize.Diarizer, error) {
		return deepgram.New(entry.APIKey, deepgramOptions(entry)...)
	})

	for _, kind := range []string{"llm", "stt", "diarization"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

func deepgramOptions(entry config.ProviderEntry) []deepgram.Option {
	var opts []deepgram.Option
	if entry.Model != "" {
		opts = append(opts, deepgram.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
	}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, deepgram.WithLanguage(lang))
	}
	return opts
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a Go duration string ("90s") from a provider Options
// map. A missing key yields zero.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return d, nil
}

// optInt extracts an integer from a provider Options map. YAML decodes whole
// numbers as int; JSON-ish sources may hand over float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

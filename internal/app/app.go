// Package app wires all VocaHire subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and watches the inbox, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithNotifier, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vocahire/vocahire/internal/config"
	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/health"
	"github.com/vocahire/vocahire/internal/httpapi"
	"github.com/vocahire/vocahire/internal/inbox"
	"github.com/vocahire/vocahire/internal/mcptool"
	"github.com/vocahire/vocahire/internal/notify"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/internal/store"
	"github.com/vocahire/vocahire/internal/store/postgres"
	"github.com/vocahire/vocahire/internal/store/sqlite"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	started   time.Time

	level    *slog.LevelVar
	metrics  *observe.Metrics
	store    store.Store
	notifier notify.Notifier
	limiter  *semaphore.Weighted
	eval     *Evaluator
	inbox    *inbox.Watcher
	handler  http.Handler
	server   *http.Server

	metricsHandler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a result store instead of opening one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects a notifier instead of creating one from config.
func WithNotifier(n notify.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar hands the app the level variable behind the process logger
// so that hot reloads can change verbosity.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithMetricsHandler sets the handler mounted at /metrics. Default: the
// default Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]. On error every resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	cfg.ApplyDefaults()
	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		started:   time.Now(),
		limiter:   semaphore.NewWeighted(int64(cfg.Server.MaxConcurrent)),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.SlogLevel())
	}

	if err := a.init(ctx); err != nil {
		a.runClosers()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Result store ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Notifier ──────────────────────────────────────────────────────
	if err := a.initNotifier(); err != nil {
		return fmt.Errorf("app: init notifier: %w", err)
	}

	// ── 3. Evaluation pipeline ───────────────────────────────────────────
	orch, err := BuildOrchestrator(a.providers, a.cfg.Scoring, a.metrics)
	if err != nil {
		return fmt.Errorf("app: init pipeline: %w", err)
	}
	a.eval = NewEvaluator(orch)

	// ── 4. Inbox ─────────────────────────────────────────────────────────
	if err := a.initInbox(); err != nil {
		return fmt.Errorf("app: init inbox: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return fmt.Errorf("app: init http: %w", err)
	}
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	var (
		st  store.Store
		err error
	)
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		st, err = postgres.New(ctx, a.cfg.Store.DSN)
	case config.StoreSQLite:
		st, err = sqlite.Open(ctx, a.cfg.Store.DSN)
	default:
		st = store.NewMemory()
	}
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	slog.Info("result store ready", "driver", a.cfg.Store.Driver)
	return nil
}

func (a *App) initNotifier() error {
	if a.notifier != nil {
		return nil
	}
	dc := a.cfg.Notify.Discord
	if dc == nil {
		a.notifier = notify.Nop{}
		return nil
	}
	d, err := notify.NewDiscord(dc.Token, dc.ChannelID)
	if err != nil {
		return err
	}
	a.notifier = d
	slog.Info("discord notifications enabled", "channel_id", dc.ChannelID)
	return nil
}

func (a *App) initInbox() error {
	if a.cfg.Inbox.Dir == "" {
		return nil
	}
	profile, err := InboxProfile(a.cfg.Inbox)
	if err != nil {
		return err
	}
	w, err := inbox.New(a.cfg.Inbox.Dir, a.eval, a.store, profile,
		inbox.WithLimiter(a.limiter),
		inbox.WithNotifier(a.notifier),
	)
	if err != nil {
		return err
	}
	a.inbox = w
	return nil
}

func (a *App) initHTTP() error {
	mux := http.NewServeMux()

	api, err := httpapi.New(a.eval, a.store,
		httpapi.WithLimiter(a.limiter),
		httpapi.WithNotifier(a.notifier),
		httpapi.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		httpapi.WithUploadDir(a.cfg.Server.UploadDir),
	)
	if err != nil {
		return err
	}
	api.Register(mux)

	checks := []health.Checker{health.PingCheck("store", a.store)}
	if dir := a.uploadDir(); dir != "" {
		checks = append(checks, health.WritableDirCheck("upload_dir", dir))
	}
	if a.cfg.Inbox.Dir != "" {
		checks = append(checks, health.WritableDirCheck("inbox", a.cfg.Inbox.Dir))
	}
	for _, pc := range []struct {
		name     string
		provider any
	}{
		{"llm", a.providers.LLM},
		{"stt", a.providers.STT},
		{"diarization", a.providers.Diarization},
	} {
		if r, ok := pc.provider.(health.CircuitReporter); ok {
			checks = append(checks, health.CircuitCheck(pc.name, r))
		}
	}
	health.New(health.Info{Version: a.version, Started: a.started}, checks...).Register(mux)

	metricsHandler := a.metricsHandler
	if metricsHandler == nil {
		metricsHandler = observe.MetricsHandler(nil)
	}
	mux.Handle("GET /metrics", metricsHandler)

	if a.cfg.MCP.Enabled {
		mcpOpts := []mcptool.Option{
			mcptool.WithLimiter(a.limiter),
			mcptool.WithNotifier(a.notifier),
			mcptool.WithMetrics(a.metrics),
		}
		if a.cfg.Inbox.Dir != "" {
			mcpOpts = append(mcpOpts, mcptool.WithAudioRoot(a.cfg.Inbox.Dir))
		}
		tools, err := mcptool.New(a.eval, a.store, a.version, mcpOpts...)
		if err != nil {
			return err
		}
		mux.Handle("/mcp", tools.Handler())
		slog.Info("mcp tools mounted", "path", "/mcp")
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.handler,
	}
	return nil
}

func (a *App) uploadDir() string {
	if a.cfg.Server.UploadDir != "" {
		return a.cfg.Server.UploadDir
	}
	return os.TempDir()
}

// BuildOrchestrator assembles the evaluation pipeline for the given scoring
// settings. It is called at startup and again when scoring is hot-reloaded.
func BuildOrchestrator(p *Providers, sc config.ScoringConfig, m *observe.Metrics) (*pipeline.Orchestrator, error) {
	temp := config.DefaultTemperature
	if sc.Temperature != nil {
		temp = *sc.Temperature
	}
	ev, err := evaluate.New(p.LLM, evaluate.WithTemperature(temp))
	if err != nil {
		return nil, err
	}
	weights := sc.Weights
	if weights.IsZero() {
		weights = score.DefaultWeights()
	}
	scale := sc.Scale
	if scale == "" {
		scale = score.ScaleUnit
	}
	agg, err := score.NewAggregator(weights, scale)
	if err != nil {
		return nil, err
	}
	policy, err := extract.ParsePolicy(sc.Candidate)
	if err != nil {
		return nil, err
	}
	return pipeline.New(p.Diarization, p.STT, ev,
		pipeline.WithAggregator(agg),
		pipeline.WithPolicy(policy),
		pipeline.WithMetrics(m),
	)
}

// InboxProfile converts the inbox section into the profile applied to every
// inbox file. An empty candidate keeps the pipeline default.
func InboxProfile(ic config.InboxConfig) (inbox.Profile, error) {
	p := inbox.Profile{
		JobTitle:  ic.JobTitle,
		Qualities: ic.RequiredQualities,
	}
	if ic.Candidate != "" {
		policy, err := extract.ParsePolicy(ic.Candidate)
		if err != nil {
			return inbox.Profile{}, err
		}
		p.Candidate = &policy
	}
	return p, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler with metrics middleware applied.
func (a *App) Handler() http.Handler { return a.handler }

// Evaluator returns the hot-swappable evaluator shared by every entry point.
func (a *App) Evaluator() *Evaluator { return a.eval }

// Store returns the result store.
func (a *App) Store() store.Store { return a.store }

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a config change. It is meant
// to be passed to [config.NewWatcher]. A scoring change that fails to build
// keeps the previous pipeline.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ScoringChanged {
		orch, err := BuildOrchestrator(a.providers, new.Scoring, a.metrics)
		if err != nil {
			slog.Error("scoring reload rejected, keeping previous settings", "err", err)
		} else {
			a.eval.Swap(orch)
			slog.Info("scoring settings reloaded",
				"scale", new.Scoring.Scale,
				"candidate", new.Scoring.Candidate,
			)
		}
	}
	if d.InboxProfileChanged && a.inbox != nil {
		profile, err := InboxProfile(new.Inbox)
		if err != nil {
			slog.Error("inbox profile reload rejected", "err", err)
		} else {
			a.inbox.SetProfile(profile)
			slog.Info("inbox profile reloaded", "job_title", profile.JobTitle)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and, when configured, watches the inbox. It blocks until
// ctx is cancelled or the listener fails, and returns ctx.Err() on a clean
// stop. Call [App.Shutdown] afterwards to drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("listening", "addr", a.server.Addr, "tls", true)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", a.server.Addr, "tls", false)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	if a.inbox != nil {
		g.Go(func() error {
			err := a.inbox.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	// Stop the listener when the group is done so the serve goroutine
	// returns. Graceful draining happens in Shutdown.
	g.Go(func() error {
		<-gctx.Done()
		return a.server.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases resources after a failed New.
func (a *App) runClosers() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// ─── Evaluator ───────────────────────────────────────────────────────────────

// Evaluator delegates to the current pipeline. Swap replaces the pipeline
// atomically; evaluations already running finish on the old one.
type Evaluator struct {
	cur atomic.Pointer[pipeline.Orchestrator]
}

var (
	_ httpapi.Evaluator = (*Evaluator)(nil)
	_ mcptool.Evaluator = (*Evaluator)(nil)
	_ inbox.Evaluator   = (*Evaluator)(nil)
)

// NewEvaluator returns an [Evaluator] starting with o.
func NewEvaluator(o *pipeline.Orchestrator) *Evaluator {
	e := &Evaluator{}
	e.cur.Store(o)
	return e
}

// Swap installs o for subsequent evaluations.
func (e *Evaluator) Swap(o *pipeline.Orchestrator) { e.cur.Store(o) }

// Evaluate implements [httpapi.Evaluator].
func (e *Evaluator) Evaluate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	return e.cur.Load().Evaluate(ctx, req)
}

// ScoreTranscript implements [httpapi.Evaluator].
func (e *Evaluator) ScoreTranscript(ctx context.Context, transcript evaluate.TranscriptInput, jobTitle string, qualities []string) (*pipeline.Result, error) {
	return e.cur.Load().ScoreTranscript(ctx, transcript, jobTitle, qualities)
}

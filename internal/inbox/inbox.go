// Package inbox evaluates recordings dropped into a watched directory.
//
// Every audio file that appears in the directory is evaluated against the
// configured job profile once it has stopped changing for the settle delay.
// The result is persisted and announced, and the file is moved into the
// done/ or failed/ subdirectory so it is never picked up twice. Files that
// are already present at start-up are processed as well.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/notify"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
)

// Subdirectories that receive processed files.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

const defaultSettle = 2 * time.Second

// audioExts lists the extensions the inbox reacts to.
var audioExts = []string{".wav", ".mp3", ".m4a", ".aac", ".flac", ".ogg", ".webm"}

// IsAudio reports whether path has a recognised audio extension.
func IsAudio(path string) bool {
	return slices.Contains(audioExts, strings.ToLower(filepath.Ext(path)))
}

// Evaluator runs one evaluation. *pipeline.Orchestrator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Profile is the job description every inbox file is evaluated against.
type Profile struct {
	JobTitle  string
	Qualities []string

	// Candidate overrides the pipeline's default candidate policy when set.
	Candidate *extract.Policy
}

// Option configures a [Watcher].
type Option func(*Watcher)

// WithSettleDelay sets how long a file must stay unchanged before it is
// evaluated.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithLimiter shares a concurrency bound with other evaluation surfaces.
func WithLimiter(sem *semaphore.Weighted) Option {
	return func(w *Watcher) { w.sem = sem }
}

// WithNotifier announces every stored result.
func WithNotifier(n notify.Notifier) Option {
	return func(w *Watcher) { w.notifier = n }
}

// Watcher watches one directory. It is safe for concurrent use.
type Watcher struct {
	dir      string
	eval     Evaluator
	store    store.Store
	notifier notify.Notifier
	sem      *semaphore.Weighted
	settle   time.Duration

	mu      sync.Mutex
	profile Profile
	timers  map[string]*time.Timer
	active  map[string]struct{}

	wg sync.WaitGroup
}

// New returns a Watcher for dir. The directory and its done/ and failed/
// subdirectories are created when missing.
func New(dir string, eval Evaluator, st store.Store, profile Profile, opts ...Option) (*Watcher, error) {
	if eval == nil || st == nil {
		return nil, errors.New("inbox: evaluator and store are required")
	}
	if strings.TrimSpace(profile.JobTitle) == "" {
		return nil, errors.New("inbox: profile job title is required")
	}
	for _, sub := range []string{"", DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("inbox: create %s: %w", filepath.Join(dir, sub), err)
		}
	}
	w := &Watcher{
		dir:      dir,
		eval:     eval,
		store:    st,
		notifier: notify.Nop{},
		sem:      semaphore.NewWeighted(1),
		settle:   defaultSettle,
		profile:  profile,
		timers:   make(map[string]*time.Timer),
		active:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// SetProfile replaces the job profile for files that start processing after
// the call.
func (w *Watcher) SetProfile(p Profile) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.profile = p
}

func (w *Watcher) currentProfile() Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profile
}

// Run watches the directory until ctx is cancelled, then waits for
// in-flight evaluations to finish.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}

	if err := w.backfill(ctx); err != nil {
		slog.Warn("inbox: backfill failed", "dir", w.dir, "err", err)
	}
	slog.Info("inbox: watching", "dir", w.dir)

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && IsAudio(evt.Name) {
				w.schedule(ctx, evt.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("inbox: watcher error", "err", err)
		}
	}
}

// backfill schedules audio files that were already present.
func (w *Watcher) backfill(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() && IsAudio(e.Name()) {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(ctx, path)
}

// scheduleLocked is schedule with w.mu held. A timer that has already fired
// is left alone: its callback owns the file and holds the only wg slot.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if _, busy := w.active[path]; busy {
		return
	}
	if t, ok := w.timers[path]; ok {
		if t.Stop() {
			t.Reset(w.settle)
		}
		return
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.active[path] = struct{}{}
		w.mu.Unlock()

		w.process(ctx, path)

		w.mu.Lock()
		delete(w.active, path)
		w.mu.Unlock()
	})
}

// drain stops pending timers and waits for running evaluations.
func (w *Watcher) drain() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			delete(w.timers, path)
			w.wg.Done()
		}
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// process evaluates one file and moves it out of the inbox.
func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Renamed away or deleted before it settled.
		return
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer w.sem.Release(1)

	ctx = observe.WithSource(ctx, string(store.SourceInbox))
	profile := w.currentProfile()
	log := observe.Logger(ctx).With("file", filepath.Base(path), "job_title", profile.JobTitle)
	log.Info("inbox: evaluating")

	res, err := w.eval.Evaluate(ctx, pipeline.Request{
		AudioPath: path,
		JobTitle:  profile.JobTitle,
		Qualities: profile.Qualities,
		Candidate: profile.Candidate,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down; leave the file for the next start.
			return
		}
		log.Error("inbox: evaluation failed", "stage", pipeline.FailedStage(err), "err", err)
		w.moveFailed(path, err)
		return
	}

	e := store.NewEvaluation(store.SourceInbox, profile.JobTitle, profile.Qualities, *res)
	e.AudioName = filepath.Base(path)
	if err := w.store.SaveEvaluation(ctx, e); err != nil {
		log.Error("inbox: save failed", "err", err)
		w.moveFailed(path, err)
		return
	}
	if err := w.notifier.Notify(ctx, e); err != nil {
		log.Warn("inbox: notify failed", "id", e.ID, "err", err)
	}
	if err := w.move(path, DoneDir); err != nil {
		log.Warn("inbox: move to done failed", "err", err)
	}
	log.Info("inbox: evaluated", "id", e.ID, "final_score", res.FinalScore, "degraded", res.Degraded)
}

func (w *Watcher) moveFailed(path string, cause error) {
	if err := w.move(path, FailedDir); err != nil {
		slog.Warn("inbox: move to failed failed", "file", path, "err", err)
		return
	}
	reason := filepath.Join(w.dir, FailedDir, filepath.Base(path)+".error.txt")
	if err := os.WriteFile(reason, []byte(cause.Error()+"\n"), 0o644); err != nil {
		slog.Warn("inbox: write error note", "file", reason, "err", err)
	}
}

// move renames path into sub, appending a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) error {
	name := filepath.Base(path)
	dst := filepath.Join(w.dir, sub, name)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(name)
		dst = filepath.Join(w.dir, sub, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), time.Now().UnixNano(), ext))
	}
	return os.Rename(path, dst)
}

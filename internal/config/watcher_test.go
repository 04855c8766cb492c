package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vocahire/vocahire/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
  stt:
    name: whisper
scoring:
  scale: unit
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
  stt:
    name: whisper
scoring:
  scale: percent
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// recorder collects watcher callbacks.
type recorder struct {
	mu     sync.Mutex
	calls  [][2]*config.Config
	errs   []error
	called chan struct{}
}

func newRecorder() *recorder {
	return &recorder{called: make(chan struct{}, 8)}
}

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.called <- struct{}{}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) counts() (calls, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls), len(r.errs)
}

func startWatcher(t *testing.T, content string, rec *recorder) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, content)

	w, err := config.NewWatcher(cfgPath, rec.onChange,
		config.WithDebounce(20*time.Millisecond),
		config.WithErrorHandler(rec.onError),
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, cfgPath
}

func waitCalled(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, newRecorder())

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Scoring.Weights.IsZero() {
		t.Error("defaults were not applied to the initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w, cfgPath := startWatcher(t, watcherValidYAML, rec)

	writeFile(t, cfgPath, watcherUpdatedYAML)
	waitCalled(t, rec)

	rec.mu.Lock()
	old, next := rec.calls[0][0], rec.calls[0][1]
	rec.mu.Unlock()

	if old.Server.LogLevel != config.LogInfo || next.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level %q -> %q, want info -> debug", old.Server.LogLevel, next.Server.LogLevel)
	}
	d := config.Diff(old, next)
	if !d.LogLevelChanged || !d.ScoringChanged {
		t.Errorf("diff = %+v, want log level and scoring changes", d)
	}
	if w.Current() != next {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_AtomicReplace(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w, cfgPath := startWatcher(t, watcherValidYAML, rec)

	tmp := cfgPath + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitCalled(t, rec)

	if got := w.Current().Scoring.Scale; got != "percent" {
		t.Errorf("scale = %q, want percent", got)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w, cfgPath := startWatcher(t, watcherValidYAML, rec)

	writeFile(t, cfgPath, watcherInvalidYAML)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, errs := rec.counts(); errs > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("error handler was not invoked for an invalid config")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if calls, _ := rec.counts(); calls != 0 {
		t.Errorf("callback fired %d times for an invalid config", calls)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous %q", got, config.LogInfo)
	}

	// Fixing the file resumes reloads.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	waitCalled(t, rec)
}

func TestWatcher_CosmeticEditSkipsCallback(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w, cfgPath := startWatcher(t, watcherValidYAML, rec)
	initial := w.Current()

	writeFile(t, cfgPath, "# reviewed\n"+watcherValidYAML)

	// The new content is still accepted, so Current moves on.
	deadline := time.Now().Add(2 * time.Second)
	for w.Current() == initial {
		if time.Now().After(deadline) {
			t.Fatal("comment-only edit was never picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if calls, errs := rec.counts(); calls != 0 || errs != 0 {
		t.Errorf("calls = %d, errs = %d, want 0 for a comment-only edit", calls, errs)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherInvalidYAML)
	if _, err := config.NewWatcher(cfgPath, nil); err == nil {
		t.Fatal("expected error for an invalid initial config, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}

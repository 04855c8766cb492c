package inbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocahire/vocahire/internal/inbox"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
)

type fakeEvaluator struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	err  error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{FinalScore: 0.5, Feedback: "ok"}, nil
}

func (f *fakeEvaluator) requests() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.reqs...)
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(_ context.Context, e store.Evaluation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, e.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ids)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func start(t *testing.T, w *inbox.Watcher) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}
}

func TestWatcher_ProcessesExistingAndNewFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "before.wav"))
	writeFile(t, filepath.Join(dir, "notes.txt"))

	eval := &fakeEvaluator{}
	st := store.NewMemory()
	n := &recordingNotifier{}
	w, err := inbox.New(dir, eval, st, inbox.Profile{JobTitle: "Engineer", Qualities: []string{"Go"}},
		inbox.WithSettleDelay(20*time.Millisecond), inbox.WithNotifier(n))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := start(t, w)
	defer stop()

	eventually(t, "backfilled file moved to done", func() bool {
		return exists(filepath.Join(dir, inbox.DoneDir, "before.wav"))
	})

	// Give the watcher a moment to register before the new file lands.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "after.mp3"))
	eventually(t, "new file moved to done", func() bool {
		return exists(filepath.Join(dir, inbox.DoneDir, "after.mp3"))
	})

	if st.Len() != 2 {
		t.Errorf("stored evaluations = %d, want 2", st.Len())
	}
	eventually(t, "two notifications", func() bool { return n.count() == 2 })
	if !exists(filepath.Join(dir, "notes.txt")) {
		t.Error("non-audio file was touched")
	}
	for _, req := range eval.requests() {
		if req.JobTitle != "Engineer" || len(req.Qualities) != 1 {
			t.Errorf("request profile = %q %v", req.JobTitle, req.Qualities)
		}
	}

	list, err := st.ListEvaluations(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	for _, e := range list {
		if e.Source != store.SourceInbox || e.AudioName == "" {
			t.Errorf("evaluation %s: source %q audio %q", e.ID, e.Source, e.AudioName)
		}
	}
}

func TestWatcher_FailureMovesToFailed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.wav"))

	eval := &fakeEvaluator{err: &pipeline.StageError{Stage: pipeline.StageTranscribe, Err: errors.New("corrupt audio")}}
	st := store.NewMemory()
	w, err := inbox.New(dir, eval, st, inbox.Profile{JobTitle: "Engineer"}, inbox.WithSettleDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := start(t, w)
	defer stop()

	note := filepath.Join(dir, inbox.FailedDir, "broken.wav.error.txt")
	eventually(t, "error note written", func() bool { return exists(note) })
	data, err := os.ReadFile(note)
	if err != nil {
		t.Fatalf("read note: %v", err)
	}
	if !strings.Contains(string(data), "corrupt audio") {
		t.Errorf("note = %q", data)
	}
	if !exists(filepath.Join(dir, inbox.FailedDir, "broken.wav")) {
		t.Error("failed file not moved")
	}
	if st.Len() != 0 {
		t.Errorf("stored evaluations = %d, want 0", st.Len())
	}
}

func TestWatcher_SetProfile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	eval := &fakeEvaluator{}
	w, err := inbox.New(dir, eval, store.NewMemory(), inbox.Profile{JobTitle: "Old"}, inbox.WithSettleDelay(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.SetProfile(inbox.Profile{JobTitle: "New", Qualities: []string{"SQL"}})
	writeFile(t, filepath.Join(dir, "a.flac"))

	stop := start(t, w)
	defer stop()
	eventually(t, "evaluation", func() bool { return len(eval.requests()) == 1 })
	if got := eval.requests()[0].JobTitle; got != "New" {
		t.Errorf("job title = %q, want New", got)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := inbox.New(dir, nil, store.NewMemory(), inbox.Profile{JobTitle: "x"}); err == nil {
		t.Error("expected error for nil evaluator")
	}
	if _, err := inbox.New(dir, &fakeEvaluator{}, store.NewMemory(), inbox.Profile{JobTitle: "  "}); err == nil {
		t.Error("expected error for blank job title")
	}
	if _, err := inbox.New(dir, &fakeEvaluator{}, store.NewMemory(), inbox.Profile{JobTitle: "x"}); err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, sub := range []string{inbox.DoneDir, inbox.FailedDir} {
		if !exists(filepath.Join(dir, sub)) {
			t.Errorf("subdirectory %s not created", sub)
		}
	}
}

func TestIsAudio(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"a.wav": true, "B.WAV": true, "c.mp3": true, "d.m4a": true,
		"e.txt": false, "f": false, "g.wav.part": false,
	}
	for name, want := range tests {
		if got := inbox.IsAudio(name); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", name, got, want)
		}
	}
}

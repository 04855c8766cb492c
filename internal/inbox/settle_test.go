package inbox

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
)

type countingEvaluator struct{ calls atomic.Int32 }

func (c *countingEvaluator) Evaluate(context.Context, pipeline.Request) (*pipeline.Result, error) {
	c.calls.Add(1)
	return &pipeline.Result{FinalScore: 0.6, Feedback: "ok"}, nil
}

// A write event that lands while the settle timer is firing must not re-arm
// the fired timer: that would evaluate the file twice and release the
// wait group slot twice.
func TestSchedule_WriteAsSettleTimerFires(t *testing.T) {
	const settle = 10 * time.Millisecond
	dir := t.TempDir()
	eval := &countingEvaluator{}
	st := store.NewMemory()
	w, err := New(dir, eval, st, Profile{JobTitle: "SRE"}, WithSettleDelay(settle))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(dir, "answer.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w.schedule(ctx, path)

	// Hold the lock across the deadline so the callback fires and waits,
	// then deliver the late write event.
	w.mu.Lock()
	time.Sleep(5 * settle)
	w.scheduleLocked(ctx, path)
	w.mu.Unlock()

	w.drain()
	time.Sleep(5 * settle)

	if n := eval.calls.Load(); n != 1 {
		t.Errorf("evaluations = %d, want 1", n)
	}
	if st.Len() != 1 {
		t.Errorf("stored = %d, want 1", st.Len())
	}
	if _, err := os.Stat(filepath.Join(dir, DoneDir, "answer.wav")); err != nil {
		t.Errorf("file not moved to %s: %v", DoneDir, err)
	}
}

func TestSchedule_WriteBeforeDeadlineRestartsTimer(t *testing.T) {
	const settle = 40 * time.Millisecond
	dir := t.TempDir()
	eval := &countingEvaluator{}
	w, err := New(dir, eval, store.NewMemory(), Profile{JobTitle: "SRE"}, WithSettleDelay(settle))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := filepath.Join(dir, "answer.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	w.schedule(ctx, path)
	time.Sleep(settle / 2)
	w.schedule(ctx, path)
	time.Sleep(settle * 3 / 4)
	if n := eval.calls.Load(); n != 0 {
		t.Fatalf("evaluated %d times before the restarted delay expired", n)
	}

	time.Sleep(2 * settle)
	w.drain()
	if n := eval.calls.Load(); n != 1 {
		t.Errorf("evaluations = %d, want 1", n)
	}
}

package resilience

import (
	"context"

	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/types"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// transcription backends. A backend that fails is retried on the next one
// with the same file; segments are never merged across backends.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend. cfg.Kind defaults to "stt".
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Names returns the backend names in failover order.
func (f *TranscriberFallback) Names() []string { return f.group.Names() }

// OpenCircuits names the backends currently skipped by their breaker.
func (f *TranscriberFallback) OpenCircuits() []string { return f.group.OpenCircuits() }

// Transcribe runs the first healthy backend that succeeds.
func (f *TranscriberFallback) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, t stt.Transcriber) ([]types.TextSegment, error) {
		return t.Transcribe(ctx, path)
	})
}

// DiarizerFallback implements [diarize.Diarizer] with failover across
// diarization backends.
type DiarizerFallback struct {
	group *FallbackGroup[diarize.Diarizer]
}

var _ diarize.Diarizer = (*DiarizerFallback)(nil)

// NewDiarizerFallback creates a [DiarizerFallback] with primary as the
// preferred backend. cfg.Kind defaults to "diarization".
func NewDiarizerFallback(primary diarize.Diarizer, primaryName string, cfg FallbackConfig) *DiarizerFallback {
	if cfg.Kind == "" {
		cfg.Kind = "diarization"
	}
	return &DiarizerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional diarizer.
func (f *DiarizerFallback) AddFallback(name string, d diarize.Diarizer) {
	f.group.AddFallback(name, d)
}

// Names returns the backend names in failover order.
func (f *DiarizerFallback) Names() []string { return f.group.Names() }

// OpenCircuits names the backends currently skipped by their breaker.
func (f *DiarizerFallback) OpenCircuits() []string { return f.group.OpenCircuits() }

// Diarize runs the first healthy backend that succeeds.
func (f *DiarizerFallback) Diarize(ctx context.Context, path string) ([]types.SpeakerTurn, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, d diarize.Diarizer) ([]types.SpeakerTurn, error) {
		return d.Diarize(ctx, path)
	})
}

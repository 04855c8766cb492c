// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/types"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once at
// startup and shared across all transcriptions; each call gets its own
// inference context.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// sem bounds concurrent inference contexts. whisper.cpp allocates its
	// working buffers per context, so unbounded fan-out exhausts memory.
	sem chan struct{}

	closeOnce sync.Once
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeMaxConcurrent sets how many recordings may be transcribed at
// once. Defaults to 1.
func WithNativeMaxConcurrent(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		sem:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. Must be called when the provider is no
// longer needed.
func (p *NativeProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.model != nil {
			err = p.model.Close()
		}
	})
	return err
}

// Transcribe implements stt.Transcriber.
func (p *NativeProvider) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	clip, err := loadSpeechClip(path)
	if err != nil {
		return nil, err
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("whisper: wait for inference slot: %w", ctx.Err())
	}

	samples := clip.Float32()

	// Each context is NOT thread-safe, but the model can be shared across goroutines.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", p.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var segs []types.TextSegment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		start, end := segment.Start.Seconds(), segment.End.Seconds()
		if end <= start {
			continue
		}
		segs = append(segs, types.TextSegment{Start: start, End: end, Text: segment.Text})
	}

	stt.SortSegments(segs)
	return segs, nil
}

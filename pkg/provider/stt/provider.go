// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch recognizer (a whisper.cpp server, the native
// whisper.cpp bindings, or Deepgram) and converts a complete interview
// recording into an ordered sequence of timed [types.TextSegment] values.
//
// Implementations must be safe for concurrent use and must fail loudly on
// unreadable or corrupt audio rather than returning an empty result.
package stt

import (
	"context"
	"errors"
	"sort"

	"github.com/vocahire/vocahire/pkg/types"
)

// ErrNoSpeech is returned by providers that treat a recording without any
// recognised speech as a failure. Providers may instead return an empty
// slice; the pipeline handles both.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe recognises speech in the audio file at path and returns
	// segments ordered by start time. Times are seconds from the start of
	// the recording.
	Transcribe(ctx context.Context, path string) ([]types.TextSegment, error)
}

// TranscriberFunc adapts a function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, path string) ([]types.TextSegment, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	return f(ctx, path)
}

// SortSegments orders segments by start time, keeping the recognizer order
// for equal starts. Providers call it before returning.
func SortSegments(segs []types.TextSegment) {
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
}

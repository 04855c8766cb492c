// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    Segments: []types.TextSegment{{Start: 1, End: 3, Text: "hello"}},
//	}
//	segs, _ := tr.Transcribe(ctx, "interview.wav")
package mock

import (
	"context"
	"sync"

	"github.com/vocahire/vocahire/pkg/provider/stt"
	"github.com/vocahire/vocahire/pkg/types"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Path is the audio path passed to Transcribe.
	Path string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Segments is returned by Transcribe. A copy is returned on each call.
	Segments []types.TextSegment

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns a copy of Segments, Err.
func (m *Transcriber) Transcribe(ctx context.Context, path string) ([]types.TextSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{Ctx: ctx, Path: path})
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]types.TextSegment, len(m.Segments))
	copy(out, m.Segments)
	return out, nil
}

// CallCount returns the number of recorded calls.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ stt.Transcriber = (*Transcriber)(nil)

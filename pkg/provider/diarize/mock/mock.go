// Package mock provides a test double for the diarize.Diarizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/types"
)

// Diarizer is a mock implementation of diarize.Diarizer.
type Diarizer struct {
	mu sync.Mutex

	// Turns is returned by Diarize. A copy is returned on each call.
	Turns []types.SpeakerTurn

	// Err, if non-nil, is returned as the error from Diarize.
	Err error

	// Paths records the audio path of every call.
	Paths []string
}

// Diarize records the call and returns a copy of Turns, Err.
func (m *Diarizer) Diarize(_ context.Context, path string) ([]types.SpeakerTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Paths = append(m.Paths, path)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]types.SpeakerTurn, len(m.Turns))
	copy(out, m.Turns)
	return out, nil
}

// CallCount returns the number of recorded calls.
func (m *Diarizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Paths)
}

var _ diarize.Diarizer = (*Diarizer)(nil)

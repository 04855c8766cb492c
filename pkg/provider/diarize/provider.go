// Package diarize defines the Diarizer interface for speaker-segmentation
// backends.
//
// A diarizer answers "who spoke when": it converts a complete recording into
// an ordered sequence of [types.SpeakerTurn] values carrying opaque speaker
// labels. Turns of the same speaker may be non-contiguous. Deciding which
// label belongs to the candidate is not the diarizer's job.
//
// Implementations must be safe for concurrent use and must fail loudly on
// unreadable or corrupt audio.
package diarize

import (
	"context"
	"sort"

	"github.com/vocahire/vocahire/pkg/types"
)

// Diarizer is the abstraction over any diarization backend.
type Diarizer interface {
	// Diarize segments the audio file at path into speaker turns ordered by
	// start time. Times are seconds from the start of the recording.
	Diarize(ctx context.Context, path string) ([]types.SpeakerTurn, error)
}

// DiarizerFunc adapts a function to the [Diarizer] interface.
type DiarizerFunc func(ctx context.Context, path string) ([]types.SpeakerTurn, error)

// Diarize calls f.
func (f DiarizerFunc) Diarize(ctx context.Context, path string) ([]types.SpeakerTurn, error) {
	return f(ctx, path)
}

// SortTurns orders turns by start time, keeping the backend order for equal
// starts.
func SortTurns(turns []types.SpeakerTurn) {
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
}

// Speakers returns the distinct labels in order of first appearance.
func Speakers(turns []types.SpeakerTurn) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range turns {
		if _, ok := seen[t.Speaker]; ok {
			continue
		}
		seen[t.Speaker] = struct{}{}
		out = append(out, t.Speaker)
	}
	return out
}

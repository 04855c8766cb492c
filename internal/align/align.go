// Package align merges speaker turns and transcript segments into a single
// attributed transcript.
//
// Diarization and transcription run independently and their boundaries
// rarely coincide. [Align] pairs every turn with every segment whose time
// span overlaps it, so a segment that straddles a change of speaker is
// attributed to both speakers. Times are rounded to centiseconds and text is
// trimmed before duplicates are collapsed on the (start, end, speaker, text)
// key.
package align

import (
	"slices"
	"strings"

	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/pkg/types"
)

// Overlaps reports whether a segment shares a non-empty time span with a
// turn. Both bounds are strict: a segment that only touches a turn boundary
// does not overlap it.
func Overlaps(turn types.SpeakerTurn, seg types.TextSegment) bool {
	return seg.End > turn.Start && seg.Start < turn.End
}


// Align attributes segments to speakers. The result is sorted by start time
// with ties kept in generation order (turn-major, then segment order), and
// contains no two records with the same (start, end, speaker, text) key.
// Empty turns or segments yield an empty, non-nil result.
func Align(turns []types.SpeakerTurn, segments []types.TextSegment) []types.AlignedRecord {
	out := make([]types.AlignedRecord, 0, len(segments))
	if len(turns) == 0 || len(segments) == 0 {
		return out
	}

	seen := make(map[types.AlignedRecord]struct{}, len(segments))
	for _, turn := range turns {
		for _, seg := range segments {
			if !Overlaps(turn, seg) {
				continue
			}
			rec := types.AlignedRecord{
				Start:   score.Round2(seg.Start),
				End:     score.Round2(seg.End),
				Speaker: turn.Speaker,
				Text:    strings.TrimSpace(seg.Text),
			}
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			out = append(out, rec)
		}
	}

	slices.SortStableFunc(out, func(a, b types.AlignedRecord) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

// SpeakingTime sums the record durations per speaker label.
func SpeakingTime(records []types.AlignedRecord) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range records {
		totals[r.Speaker] += r.Duration()
	}
	return totals
}

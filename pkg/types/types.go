// Package types defines the time-indexed records shared across VocaHire
// packages.
//
// Diarization providers produce [SpeakerTurn] values, transcription providers
// produce [TextSegment] values, and the alignment engine merges both into
// [AlignedRecord] values. These live here so that provider packages and the
// internal pipeline can exchange them without circular imports.
package types

import "fmt"

// SpeakerTurn is a contiguous stretch of audio attributed to one speaker.
// Times are in seconds from the start of the recording.
type SpeakerTurn struct {
	// Start is the turn start in seconds. Must be >= 0.
	Start float64 `json:"start"`

	// End is the turn end in seconds. Must be > Start.
	End float64 `json:"end"`

	// Speaker is the diarization label (e.g. "SPEAKER_00"). Labels are opaque;
	// mapping a label to the candidate role is a separate policy decision.
	Speaker string `json:"speaker"`
}

// Validate reports whether the turn has a non-negative start, a positive
// duration and a speaker label.
func (t SpeakerTurn) Validate() error {
	if t.Start < 0 {
		return fmt.Errorf("speaker turn: start %.3f is negative", t.Start)
	}
	if t.End <= t.Start {
		return fmt.Errorf("speaker turn: end %.3f must be after start %.3f", t.End, t.Start)
	}
	if t.Speaker == "" {
		return fmt.Errorf("speaker turn: empty speaker label")
	}
	return nil
}

// TextSegment is a transcribed stretch of audio. Text may carry leading or
// trailing whitespace as returned by the recognizer.
type TextSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Validate reports whether the segment has a non-negative start and a
// positive duration. Empty text is allowed.
func (s TextSegment) Validate() error {
	if s.Start < 0 {
		return fmt.Errorf("text segment: start %.3f is negative", s.Start)
	}
	if s.End <= s.Start {
		return fmt.Errorf("text segment: end %.3f must be after start %.3f", s.End, s.Start)
	}
	return nil
}

// AlignedRecord attributes a transcript segment to a speaker. Start and End
// are rounded to two decimals and Text is trimmed, so the full 4-tuple can be
// compared with == to detect duplicates.
type AlignedRecord struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// Duration returns End - Start in seconds.
func (r AlignedRecord) Duration() float64 {
	return r.End - r.Start
}

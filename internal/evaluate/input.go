package evaluate

import (
	"strings"

	"github.com/vocahire/vocahire/pkg/types"
)

// TranscriptInput is the transcript handed to the evaluator. It is either
// [PlainText], [Segments] or [Records]; all are reduced to plain text before
// the prompt is built.
type TranscriptInput interface {
	// Text returns the flattened transcript.
	Text() string

	transcriptInput()
}

// PlainText is an already-flattened transcript.
type PlainText string

// Text implements [TranscriptInput].
func (p PlainText) Text() string { return strings.TrimSpace(string(p)) }

func (PlainText) transcriptInput() {}

// Segments is a time-stamped transcript. Only the text of each segment is
// kept.
type Segments []types.TextSegment

// Text joins the non-empty segment texts with single spaces.
func (s Segments) Text() string {
	parts := make([]string, 0, len(s))
	for _, seg := range s {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func (Segments) transcriptInput() {}

// Records is a speaker-attributed transcript. Speaker labels are dropped.
type Records []types.AlignedRecord

// Text joins the non-empty record texts with single spaces.
func (r Records) Text() string {
	parts := make([]string, 0, len(r))
	for _, rec := range r {
		if t := strings.TrimSpace(rec.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func (Records) transcriptInput() {}

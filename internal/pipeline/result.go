package pipeline

import (
	"time"

	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/pkg/types"
)

// Result is the outcome of one evaluation. Sub-scores and FinalScore are
// expressed in Scale. Numeric fields are always present: when the evaluator
// failed they carry the zero default and Degraded is set.
type Result struct {
	ContentRelevance float64     `json:"content_relevance"`
	VocalConfidence  float64     `json:"vocal_confidence"`
	ClarityOfSpeech  float64     `json:"clarity_of_speech"`
	Fluency          float64     `json:"fluency"`
	FinalScore       float64     `json:"final_score"`
	Scale            score.Scale `json:"scale"`

	Feedback            string `json:"feedback"`
	CandidateTranscript string `json:"candidate_transcript"`
	CandidateLabel      string `json:"candidate_label,omitempty"`

	// Degraded is true when DefaultScore was substituted for a failed
	// evaluation. DegradedReason carries the evaluator error.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	// Intermediate artefacts, kept for persistence. Empty when the result
	// was produced from text only.
	Turns    []types.SpeakerTurn   `json:"turns,omitempty"`
	Segments []types.TextSegment   `json:"segments,omitempty"`
	Records  []types.AlignedRecord `json:"records,omitempty"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

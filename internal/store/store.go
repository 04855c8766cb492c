// Package store persists finished evaluations.
//
// A [Store] keeps one [Evaluation] per processed interview together with the
// intermediate artefacts the pipeline produced: diarization turns, transcript
// segments and the aligned records. Three backends exist: [Memory] for tests
// and single-process deployments, postgres for production and sqlite for
// single-node installs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vocahire/vocahire/internal/pipeline"
)

// ErrNotFound is returned by GetEvaluation when no evaluation has the
// requested ID.
var ErrNotFound = errors.New("store: evaluation not found")

// Source names the surface that submitted an evaluation.
type Source string

const (
	SourceHTTP  Source = "http"
	SourceInbox Source = "inbox"
	SourceMCP   Source = "mcp"
	SourceCLI   Source = "cli"
)

// Evaluation is one persisted interview assessment.
type Evaluation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    Source    `json:"source"`

	// AudioName is the original file name of the recording. Empty for
	// transcript-only evaluations.
	AudioName string `json:"audio_name,omitempty"`

	// CandidateName is an optional human-readable name supplied by the
	// caller. It is unrelated to the diarization label.
	CandidateName string `json:"candidate_name,omitempty"`

	JobTitle  string   `json:"job_title"`
	Qualities []string `json:"required_qualities"`

	Result pipeline.Result `json:"result"`
}

// NewEvaluation returns an Evaluation with a fresh random ID and the current
// UTC time.
func NewEvaluation(src Source, jobTitle string, qualities []string, res pipeline.Result) Evaluation {
	return Evaluation{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Source:    src,
		JobTitle:  jobTitle,
		Qualities: qualities,
		Result:    res,
	}
}

// ValidID reports whether id has the form produced by [NewEvaluation].
func ValidID(id string) bool {
	return uuid.Validate(id) == nil
}

// Store is the persistence contract shared by all backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveEvaluation stores e atomically. Saving an ID that already exists
	// returns an error.
	SaveEvaluation(ctx context.Context, e Evaluation) error

	// GetEvaluation returns the evaluation with the given ID including its
	// turns, segments and records. Returns [ErrNotFound] for unknown IDs.
	GetEvaluation(ctx context.Context, id string) (Evaluation, error)

	// ListEvaluations returns up to limit evaluations, newest first. The
	// returned values omit turns, segments and records. A limit <= 0 means
	// no limit.
	ListEvaluations(ctx context.Context, limit int) ([]Evaluation, error)

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Summary strips the intermediate artefacts from e, leaving the fields
// returned by ListEvaluations.
func Summary(e Evaluation) Evaluation {
	e.Result.Turns = nil
	e.Result.Segments = nil
	e.Result.Records = nil
	return e
}

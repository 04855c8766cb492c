package pipeline

import (
	"errors"
	"fmt"
)

// Stage names one step of an evaluation.
type Stage string

const (
	StageDiarize    Stage = "diarize"
	StageTranscribe Stage = "transcribe"
	StageAlign      Stage = "align"
	StageExtract    Stage = "extract"
	StageEvaluate   Stage = "evaluate"
	StageAggregate  Stage = "aggregate"
)

// ErrInvalidRequest is returned before any stage runs when the request is
// missing required fields.
var ErrInvalidRequest = errors.New("pipeline: invalid request")

// StageError is a fatal failure of one stage. Only [StageDiarize],
// [StageTranscribe] and [StageExtract] produce it; evaluator failures
// degrade instead.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage of the first [*StageError] in err's chain,
// or "" when err did not come from a stage.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

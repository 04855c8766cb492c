package evaluate

import (
	"errors"
	"fmt"
)

// Score is the qualitative assessment of a candidate's answers. After
// [Evaluator.Evaluate] returns successfully every numeric field lies in
// [0,1] and ShortFeedback is non-empty.
type Score struct {
	ContentRelevance float64 `json:"content_relevance"`
	VocalConfidence  float64 `json:"vocal_confidence"`
	ClarityOfSpeech  float64 `json:"clarity_of_speech"`
	Fluency          float64 `json:"fluency"`
	ShortFeedback    string  `json:"short_feedback"`
}

// DefaultFeedback is the feedback carried by [DefaultScore].
const DefaultFeedback = "The evaluation could not be completed automatically. Please review the recording manually."

// DefaultScore is the pessimistic score substituted when evaluation fails:
// every dimension is zero.
func DefaultScore() Score {
	return Score{ShortFeedback: DefaultFeedback}
}

// ErrMalformedResponse reports model output that is not JSON or lacks a
// required field.
var ErrMalformedResponse = errors.New("evaluate: malformed model response")

// ErrEmptyInput reports a transcript that is empty after trimming.
var ErrEmptyInput = errors.New("evaluate: transcript is empty")

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	// KindInput means the caller supplied an unusable transcript or job
	// profile.
	KindInput ErrorKind = "input"

	// KindRequest means the model call itself failed (network, auth,
	// cancellation, refusal).
	KindRequest ErrorKind = "request"

	// KindMalformed means the model answered but the answer could not be
	// used.
	KindMalformed ErrorKind = "malformed"
)

// Error is returned by [Evaluator.Evaluate]. Callers decide whether to
// substitute [DefaultScore]; the evaluator never does so itself.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("evaluate: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first [*Error] in err's chain, or "" when
// there is none.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

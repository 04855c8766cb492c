package evaluate

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// rawScore mirrors the response schema. Pointers distinguish a missing
// field from an explicit zero.
type rawScore struct {
	ContentRelevance *float64 `json:"content_relevance"`
	VocalConfidence  *float64 `json:"vocal_confidence"`
	ClarityOfSpeech  *float64 `json:"clarity_of_speech"`
	Fluency          *float64 `json:"fluency"`
	ShortFeedback    *string  `json:"short_feedback"`
}

// parseScore decodes model output into a [Score], clamping every numeric
// field into [0,1]. Errors wrap [ErrMalformedResponse].
func parseScore(content string) (Score, error) {
	cleaned := stripMarkdown(content)
	if cleaned == "" {
		return Score{}, fmt.Errorf("%w: empty output", ErrMalformedResponse)
	}

	var r rawScore
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return Score{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var missing []string
	need := func(name string, v *float64) float64 {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return clamp01(*v)
	}
	s := Score{
		ContentRelevance: need("content_relevance", r.ContentRelevance),
		VocalConfidence:  need("vocal_confidence", r.VocalConfidence),
		ClarityOfSpeech:  need("clarity_of_speech", r.ClarityOfSpeech),
		Fluency:          need("fluency", r.Fluency),
	}
	if r.ShortFeedback == nil || strings.TrimSpace(*r.ShortFeedback) == "" {
		missing = append(missing, "short_feedback")
	} else {
		s.ShortFeedback = strings.TrimSpace(*r.ShortFeedback)
	}
	if len(missing) > 0 {
		return Score{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}
	return s, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// Package score aggregates the four qualitative sub-scores into a single
// weighted final score.
package score

import (
	"errors"
	"fmt"
	"math"
)

// Weights are the per-dimension coefficients of the final score. They must
// each lie in [0,1] and sum to 1.
type Weights struct {
	Content    float64 `yaml:"content"    json:"content"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Clarity    float64 `yaml:"clarity"    json:"clarity"`
	Fluency    float64 `yaml:"fluency"    json:"fluency"`
}

// DefaultWeights returns 0.4 content relevance, 0.3 vocal confidence,
// 0.2 clarity of speech and 0.1 fluency.
func DefaultWeights() Weights {
	return Weights{Content: 0.4, Confidence: 0.3, Clarity: 0.2, Fluency: 0.1}
}

const sumTolerance = 1e-9

// IsZero reports whether no weight has been set.
func (w Weights) IsZero() bool { return w == Weights{} }

// Validate checks the range of each weight and that they sum to 1.
func (w Weights) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("score: weight %s = %v must be in [0,1]", name, v))
		}
	}
	check("content", w.Content)
	check("confidence", w.Confidence)
	check("clarity", w.Clarity)
	check("fluency", w.Fluency)

	if sum := w.Content + w.Confidence + w.Clarity + w.Fluency; math.Abs(sum-1) > sumTolerance {
		errs = append(errs, fmt.Errorf("score: weights sum to %v, want 1", sum))
	}
	return errors.Join(errs...)
}

// Round2 rounds x to two decimals, half away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Final returns the weighted sum of the sub-scores rounded to two decimals.
// The output range matches the input range: [0,1] in, [0,1] out; [0,100] in,
// [0,100] out.
func (w Weights) Final(content, confidence, clarity, fluency float64) float64 {
	return Round2(w.Content*content + w.Confidence*confidence + w.Clarity*clarity + w.Fluency*fluency)
}

// FinalScore applies [DefaultWeights].
func FinalScore(content, confidence, clarity, fluency float64) float64 {
	return DefaultWeights().Final(content, confidence, clarity, fluency)
}

// Scale is the range in which sub-scores and the final score are reported.
type Scale string

const (
	// ScaleUnit reports scores in [0,1] as the evaluator produces them.
	ScaleUnit Scale = "unit"

	// ScalePercent reports scores in [0,100].
	ScalePercent Scale = "percent"
)

// ParseScale parses "unit" or "percent". Empty means [ScaleUnit].
func ParseScale(s string) (Scale, error) {
	switch Scale(s) {
	case "", ScaleUnit:
		return ScaleUnit, nil
	case ScalePercent:
		return ScalePercent, nil
	default:
		return "", fmt.Errorf("score: unknown scale %q (want unit or percent)", s)
	}
}

// Factor is the multiplier applied to unit-range scores.
func (s Scale) Factor() float64 {
	if s == ScalePercent {
		return 100
	}
	return 1
}

// Max is the upper bound of the scale.
func (s Scale) Max() float64 { return s.Factor() }

// Breakdown is a set of scaled sub-scores with their aggregate.
type Breakdown struct {
	ContentRelevance float64 `json:"content_relevance"`
	VocalConfidence  float64 `json:"vocal_confidence"`
	ClarityOfSpeech  float64 `json:"clarity_of_speech"`
	Fluency          float64 `json:"fluency"`
	FinalScore       float64 `json:"final_score"`
}

// Aggregator scales unit-range sub-scores and computes the final score.
type Aggregator struct {
	weights Weights
	scale   Scale
}

// NewAggregator validates weights and scale. Zero weights select
// [DefaultWeights] and an empty scale selects [ScaleUnit].
func NewAggregator(weights Weights, scale Scale) (*Aggregator, error) {
	if weights.IsZero() {
		weights = DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	parsed, err := ParseScale(string(scale))
	if err != nil {
		return nil, err
	}
	return &Aggregator{weights: weights, scale: parsed}, nil
}

// Weights returns the configured weights.
func (a *Aggregator) Weights() Weights { return a.weights }

// Scale returns the configured scale.
func (a *Aggregator) Scale() Scale { return a.scale }

// Apply scales the unit-range sub-scores and aggregates them. Scaled
// sub-scores are rounded to two decimals; the final score is computed from
// the unrounded scaled values.
func (a *Aggregator) Apply(content, confidence, clarity, fluency float64) Breakdown {
	f := a.scale.Factor()
	c, v, cl, fl := content*f, confidence*f, clarity*f, fluency*f
	return Breakdown{
		ContentRelevance: Round2(c),
		VocalConfidence:  Round2(v),
		ClarityOfSpeech:  Round2(cl),
		Fluency:          Round2(fl),
		FinalScore:       a.weights.Final(c, v, cl, fl),
	}
}

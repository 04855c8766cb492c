// Package evaluate scores a candidate transcript against a job profile with
// a language model.
//
// The [Evaluator] sends one structured-generation request per transcript:
// the job title, the required qualities and the transcript go into the
// prompt, and the model must answer with a JSON object matching a fixed
// schema (four scores in [0,1] plus a short feedback string). The answer is
// parsed defensively: markdown fences are stripped and out-of-range scores
// are clamped rather than rejected.
//
// Failures are returned as [*Error] values. The evaluator never substitutes
// a default on its own; callers that must always produce a score (the
// pipeline) fall back to [DefaultScore] explicitly.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vocahire/vocahire/pkg/provider/llm"
)

const defaultTemperature = 0.2

// Option is a functional option for configuring an [Evaluator].
type Option func(*Evaluator)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(e *Evaluator) {
		e.temperature = temp
	}
}

// WithMaxTokens caps the model's answer length. Zero leaves the provider
// default in place.
func WithMaxTokens(n int) Option {
	return func(e *Evaluator) {
		e.maxTokens = n
	}
}

// Evaluator produces qualitative scores. It holds no per-call state and is
// safe for concurrent use as long as the underlying provider is.
type Evaluator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// New returns an [Evaluator] backed by provider. The provider is constructed
// once by the caller and shared by all evaluations.
func New(provider llm.Provider, opts ...Option) (*Evaluator, error) {
	if provider == nil {
		return nil, errors.New("evaluate: provider must not be nil")
	}
	e := &Evaluator{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	if e.temperature < 0 || e.temperature > 2 {
		return nil, fmt.Errorf("evaluate: temperature %v out of range [0,2]", e.temperature)
	}
	return e, nil
}

// Evaluate scores transcript for the given job. On success every score is in
// [0,1] and the feedback is non-empty. On failure the returned Score is the
// zero value and the error is an [*Error].
func (e *Evaluator) Evaluate(ctx context.Context, transcript TranscriptInput, jobTitle string, qualities []string) (Score, error) {
	if transcript == nil {
		return Score{}, &Error{Kind: KindInput, Err: ErrEmptyInput}
	}
	text := strings.TrimSpace(transcript.Text())
	if text == "" {
		return Score{}, &Error{Kind: KindInput, Err: ErrEmptyInput}
	}
	if strings.TrimSpace(jobTitle) == "" {
		return Score{}, &Error{Kind: KindInput, Err: errors.New("job title must not be empty")}
	}

	req := llm.CompletionRequest{
		SystemPrompt:   systemPrompt,
		Temperature:    e.temperature,
		MaxTokens:      e.maxTokens,
		ResponseSchema: responseSchema(),
		Messages: []llm.Message{
			{Role: "user", Content: buildUserPrompt(jobTitle, qualities, text)},
		},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		return Score{}, &Error{Kind: KindRequest, Err: err}
	}
	if resp == nil {
		return Score{}, &Error{Kind: KindMalformed, Err: fmt.Errorf("%w: no response", ErrMalformedResponse)}
	}

	score, err := parseScore(resp.Content)
	if err != nil {
		return Score{}, &Error{Kind: KindMalformed, Err: err}
	}
	return score, nil
}

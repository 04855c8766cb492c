// Package mcptool exposes the evaluation pipeline as Model Context Protocol
// tools, so an assistant can score answers and look up past evaluations.
//
// Tools:
//
//   - score_transcript: evaluate an answer given as text
//   - evaluate_interview: run the full pipeline on a recording below the
//     configured audio root (only registered when a root is set)
//   - get_evaluation: fetch a stored evaluation by ID
package mcptool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/semaphore"

	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/notify"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/store"
)

// Evaluator runs evaluations. *pipeline.Orchestrator satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	ScoreTranscript(ctx context.Context, transcript evaluate.TranscriptInput, jobTitle string, qualities []string) (*pipeline.Result, error)
}

// ScoreTranscriptInput is the argument of score_transcript.
type ScoreTranscriptInput struct {
	Transcript        string   `json:"transcript" jsonschema:"the candidate's answer as plain text"`
	JobTitle          string   `json:"job_title" jsonschema:"the position the candidate applies for"`
	RequiredQualities []string `json:"required_qualities,omitempty" jsonschema:"skills or traits the position requires"`
}

// EvaluateInterviewInput is the argument of evaluate_interview.
type EvaluateInterviewInput struct {
	AudioPath         string   `json:"audio_path" jsonschema:"recording path relative to the server's audio root"`
	JobTitle          string   `json:"job_title" jsonschema:"the position the candidate applies for"`
	RequiredQualities []string `json:"required_qualities,omitempty" jsonschema:"skills or traits the position requires"`
	Candidate         string   `json:"candidate,omitempty" jsonschema:"candidate policy: dominant, first, second or label:<SPEAKER>"`
}

// GetEvaluationInput is the argument of get_evaluation.
type GetEvaluationInput struct {
	ID string `json:"id" jsonschema:"evaluation id returned by an earlier call"`
}

// EvaluationOutput is the structured result of every tool.
type EvaluationOutput struct {
	ID               string  `json:"id"`
	CreatedAt        string  `json:"created_at"`
	JobTitle         string  `json:"job_title"`
	ContentRelevance float64 `json:"content_relevance"`
	VocalConfidence  float64 `json:"vocal_confidence"`
	ClarityOfSpeech  float64 `json:"clarity_of_speech"`
	Fluency          float64 `json:"fluency"`
	FinalScore       float64 `json:"final_score"`
	Scale            string  `json:"scale"`
	Feedback         string  `json:"feedback"`
	CandidateLabel   string  `json:"candidate_label,omitempty"`
	Degraded         bool    `json:"degraded"`
}

func toOutput(e store.Evaluation) EvaluationOutput {
	r := e.Result
	return EvaluationOutput{
		ID:               e.ID,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		JobTitle:         e.JobTitle,
		ContentRelevance: r.ContentRelevance,
		VocalConfidence:  r.VocalConfidence,
		ClarityOfSpeech:  r.ClarityOfSpeech,
		Fluency:          r.Fluency,
		FinalScore:       r.FinalScore,
		Scale:            string(r.Scale),
		Feedback:         r.Feedback,
		CandidateLabel:   r.CandidateLabel,
		Degraded:         r.Degraded,
	}
}

// Option configures a [Tools].
type Option func(*Tools)

// WithLimiter shares a concurrency bound with other evaluation surfaces.
func WithLimiter(sem *semaphore.Weighted) Option {
	return func(t *Tools) { t.sem = sem }
}

// WithNotifier announces every stored result.
func WithNotifier(n notify.Notifier) Option {
	return func(t *Tools) { t.notifier = n }
}

// WithAudioRoot enables evaluate_interview for files below dir.
func WithAudioRoot(dir string) Option {
	return func(t *Tools) { t.audioRoot = dir }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Tools) { t.metrics = m }
}

// Tools implements the MCP tool handlers.
type Tools struct {
	eval      Evaluator
	store     store.Store
	notifier  notify.Notifier
	sem       *semaphore.Weighted
	audioRoot string
	metrics   *observe.Metrics
	server    *mcpsdk.Server
}

// New builds the MCP server and registers the tools.
func New(eval Evaluator, st store.Store, version string, opts ...Option) (*Tools, error) {
	if eval == nil || st == nil {
		return nil, errors.New("mcptool: evaluator and store are required")
	}
	t := &Tools{
		eval:     eval,
		store:    st,
		notifier: notify.Nop{},
		sem:      semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}

	t.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "vocahire", Version: version}, nil)
	mcpsdk.AddTool(t.server, &mcpsdk.Tool{
		Name:        "score_transcript",
		Description: "Score a candidate's interview answer against a job title and required qualities. Returns four sub-scores, a weighted final score and short feedback.",
	}, instrument(t, "score_transcript", t.scoreTranscript))
	if t.audioRoot != "" {
		mcpsdk.AddTool(t.server, &mcpsdk.Tool{
			Name:        "evaluate_interview",
			Description: "Diarize, transcribe and score an interview recording stored on the server.",
		}, instrument(t, "evaluate_interview", t.evaluateInterview))
	}
	mcpsdk.AddTool(t.server, &mcpsdk.Tool{
		Name:        "get_evaluation",
		Description: "Fetch a stored evaluation by id.",
	}, instrument(t, "get_evaluation", t.getEvaluation))
	return t, nil
}

// Server returns the underlying MCP server.
func (t *Tools) Server() *mcpsdk.Server { return t.server }

// Handler serves the tools over the streamable HTTP transport.
func (t *Tools) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return t.server }, nil)
}

type handler[In any] func(ctx context.Context, in In) (EvaluationOutput, error)

// instrument adapts h to the SDK signature and records tool metrics.
func instrument[In any](t *Tools, name string, h handler[In]) mcpsdk.ToolHandlerFor[In, EvaluationOutput] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, EvaluationOutput, error) {
		ctx = observe.WithSource(ctx, string(store.SourceMCP))
		start := time.Now()
		out, err := h(ctx, in)
		if err != nil {
			observe.Logger(ctx).Warn("mcptool: tool failed", "tool", name, "err", err)
		}
		t.metrics.RecordToolCall(ctx, name, err, time.Since(start))
		return nil, out, err
	}
}

func (t *Tools) scoreTranscript(ctx context.Context, in ScoreTranscriptInput) (EvaluationOutput, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return EvaluationOutput{}, err
	}
	res, err := t.eval.ScoreTranscript(ctx, evaluate.PlainText(in.Transcript), in.JobTitle, in.RequiredQualities)
	t.sem.Release(1)
	if err != nil {
		return EvaluationOutput{}, err
	}
	return t.persist(ctx, store.NewEvaluation(store.SourceMCP, strings.TrimSpace(in.JobTitle), in.RequiredQualities, *res))
}

func (t *Tools) evaluateInterview(ctx context.Context, in EvaluateInterviewInput) (EvaluationOutput, error) {
	path, err := t.resolve(in.AudioPath)
	if err != nil {
		return EvaluationOutput{}, err
	}
	var policy *extract.Policy
	if strings.TrimSpace(in.Candidate) != "" {
		p, err := extract.ParsePolicy(in.Candidate)
		if err != nil {
			return EvaluationOutput{}, err
		}
		policy = &p
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return EvaluationOutput{}, err
	}
	res, err := t.eval.Evaluate(ctx, pipeline.Request{
		AudioPath: path,
		JobTitle:  in.JobTitle,
		Qualities: in.RequiredQualities,
		Candidate: policy,
	})
	t.sem.Release(1)
	if err != nil {
		return EvaluationOutput{}, err
	}
	e := store.NewEvaluation(store.SourceMCP, strings.TrimSpace(in.JobTitle), in.RequiredQualities, *res)
	e.AudioName = filepath.Base(path)
	return t.persist(ctx, e)
}

func (t *Tools) getEvaluation(ctx context.Context, in GetEvaluationInput) (EvaluationOutput, error) {
	e, err := t.store.GetEvaluation(ctx, in.ID)
	if err != nil {
		return EvaluationOutput{}, err
	}
	return toOutput(e), nil
}

func (t *Tools) persist(ctx context.Context, e store.Evaluation) (EvaluationOutput, error) {
	if err := t.store.SaveEvaluation(ctx, e); err != nil {
		return EvaluationOutput{}, fmt.Errorf("save evaluation: %w", err)
	}
	if err := t.notifier.Notify(ctx, e); err != nil {
		observe.Logger(ctx).Warn("mcptool: notify", "id", e.ID, "err", err)
	}
	return toOutput(e), nil
}

// resolve maps a root-relative path to an absolute one, rejecting paths
// that escape the root.
func (t *Tools) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("audio_path is required")
	}
	if filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("audio_path %q must be relative to the audio root", rel)
	}
	return filepath.Join(t.audioRoot, rel), nil
}

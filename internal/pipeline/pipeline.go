// Package pipeline runs a full audio evaluation: diarize, transcribe, align,
// extract the candidate's speech, evaluate it and aggregate the final score.
//
// The sequence is strictly linear. Diarization and transcription failures
// and an empty candidate transcript are fatal and surface as [*StageError].
// Evaluator failures are not: the [evaluate.DefaultScore] flows through the
// aggregator and the result is marked degraded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vocahire/vocahire/internal/align"
	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/score"
	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/stt"
)

// Evaluator is the subset of [*evaluate.Evaluator] the orchestrator uses.
type Evaluator interface {
	Evaluate(ctx context.Context, transcript evaluate.TranscriptInput, jobTitle string, qualities []string) (evaluate.Score, error)
}

var _ Evaluator = (*evaluate.Evaluator)(nil)

// Request describes one evaluation.
type Request struct {
	AudioPath string
	JobTitle  string
	Qualities []string

	// Candidate overrides the orchestrator's default policy when non-nil.
	Candidate *extract.Policy
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithAggregator sets the score aggregator. Default: default weights on the
// unit scale.
func WithAggregator(a *score.Aggregator) Option {
	return func(o *Orchestrator) {
		o.aggregator = a
	}
}

// WithPolicy sets the default candidate policy. Default: [extract.Dominant].
func WithPolicy(p extract.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator sequences the evaluation stages. It holds no per-run state and
// is safe for concurrent use when its collaborators are.
type Orchestrator struct {
	diarizer    diarize.Diarizer
	transcriber stt.Transcriber
	evaluator   Evaluator
	aggregator  *score.Aggregator
	policy      extract.Policy
	metrics     *observe.Metrics
}

// New returns an [Orchestrator]. All three collaborators are required.
func New(d diarize.Diarizer, t stt.Transcriber, e Evaluator, opts ...Option) (*Orchestrator, error) {
	if d == nil {
		return nil, errors.New("pipeline: diarizer must not be nil")
	}
	if t == nil {
		return nil, errors.New("pipeline: transcriber must not be nil")
	}
	if e == nil {
		return nil, errors.New("pipeline: evaluator must not be nil")
	}
	o := &Orchestrator{
		diarizer:    d,
		transcriber: t,
		evaluator:   e,
		policy:      extract.Dominant(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.aggregator == nil {
		agg, err := score.NewAggregator(score.DefaultWeights(), score.ScaleUnit)
		if err != nil {
			return nil, fmt.Errorf("pipeline: default aggregator: %w", err)
		}
		o.aggregator = agg
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Evaluate runs the full audio evaluation. It returns either a complete
// [Result] or an error; there are no partial results. Cancelling ctx aborts
// the run and the context error is returned.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req.JobTitle); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, fmt.Errorf("%w: audio path must not be empty", ErrInvalidRequest)
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.Evaluate",
		trace.WithAttributes(
			attribute.String("audio.path", req.AudioPath),
			attribute.String("job.title", req.JobTitle),
		),
	)
	defer span.End()

	o.metrics.ActiveEvaluations.Add(ctx, 1)
	defer o.metrics.ActiveEvaluations.Add(ctx, -1)

	res, err := o.run(ctx, req)
	o.finish(ctx, span, start, res, err)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Result, error) {
	log := observe.Logger(ctx).With(slog.String("audio", req.AudioPath))

	var res Result
	err := o.stage(ctx, StageDiarize, func(ctx context.Context) error {
		turns, err := o.diarizer.Diarize(ctx, req.AudioPath)
		res.Turns = turns
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageDiarize, Err: err}
	}
	log.Debug("diarization done", "turns", len(res.Turns), "speakers", len(diarize.Speakers(res.Turns)))

	err = o.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		segs, err := o.transcriber.Transcribe(ctx, req.AudioPath)
		res.Segments = segs
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageTranscribe, Err: err}
	}
	log.Debug("transcription done", "segments", len(res.Segments))

	_ = o.stage(ctx, StageAlign, func(context.Context) error {
		res.Records = align.Align(res.Turns, res.Segments)
		return nil
	})

	policy := o.policy
	if req.Candidate != nil {
		policy = *req.Candidate
	}
	err = o.stage(ctx, StageExtract, func(context.Context) error {
		label, _ := policy.Resolve(res.Records)
		res.CandidateLabel = label
		text, err := extract.Extract(res.Records, policy)
		res.CandidateTranscript = text
		return err
	})
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	log.Debug("candidate speech extracted", "label", res.CandidateLabel, "chars", len(res.CandidateTranscript))

	if err := o.score(ctx, &res, evaluate.PlainText(res.CandidateTranscript), req.JobTitle, req.Qualities); err != nil {
		return nil, err
	}
	return &res, nil
}

// ScoreTranscript evaluates an already transcribed answer, skipping the
// audio stages. Empty input is reported as [extract.ErrEmptyTranscript]
// under [StageExtract].
func (o *Orchestrator) ScoreTranscript(ctx context.Context, transcript evaluate.TranscriptInput, jobTitle string, qualities []string) (*Result, error) {
	if err := validate(jobTitle); err != nil {
		return nil, err
	}
	var text string
	if transcript != nil {
		text = strings.TrimSpace(transcript.Text())
	}
	if text == "" {
		return nil, &StageError{Stage: StageExtract, Err: extract.ErrEmptyTranscript}
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.ScoreTranscript",
		trace.WithAttributes(attribute.String("job.title", jobTitle)),
	)
	defer span.End()

	res := &Result{CandidateTranscript: text}
	err := o.score(ctx, res, evaluate.PlainText(text), jobTitle, qualities)
	if err != nil {
		res = nil
	}
	o.finish(ctx, span, start, res, err)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// score runs the evaluate and aggregate stages on res.
func (o *Orchestrator) score(ctx context.Context, res *Result, in evaluate.TranscriptInput, jobTitle string, qualities []string) error {
	var qs evaluate.Score
	_ = o.stage(ctx, StageEvaluate, func(ctx context.Context) error {
		var err error
		qs, err = o.evaluator.Evaluate(ctx, in, jobTitle, qualities)
		if err == nil {
			return nil
		}
		// A cancelled run is a failed run, not a low score.
		if ctx.Err() != nil {
			return err
		}
		observe.Logger(ctx).Warn("evaluation degraded to default score",
			"kind", string(evaluate.KindOf(err)), "err", err)
		res.Degraded = true
		res.DegradedReason = err.Error()
		qs = evaluate.DefaultScore()
		return nil
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	_ = o.stage(ctx, StageAggregate, func(context.Context) error {
		b := o.aggregator.Apply(qs.ContentRelevance, qs.VocalConfidence, qs.ClarityOfSpeech, qs.Fluency)
		res.ContentRelevance = b.ContentRelevance
		res.VocalConfidence = b.VocalConfidence
		res.ClarityOfSpeech = b.ClarityOfSpeech
		res.Fluency = b.Fluency
		res.FinalScore = b.FinalScore
		res.Scale = o.aggregator.Scale()
		res.Feedback = qs.ShortFeedback
		return nil
	})
	return nil
}

// stage runs fn inside a child span and records its duration.
func (o *Orchestrator) stage(ctx context.Context, name Stage, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "pipeline."+string(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	o.metrics.RecordStage(ctx, string(name), time.Since(start))
	observe.FailSpan(span, err)
	return err
}

// finish records the outcome of a run on metrics, span and log.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	log := observe.Logger(ctx)

	if err != nil {
		stage := string(FailedStage(err))
		o.metrics.RecordEvaluation(ctx, observe.OutcomeFailed, stage, elapsed)
		observe.FailSpan(span, err)
		log.Error("evaluation failed", "stage", stage, "err", err, "elapsed", elapsed)
		return
	}

	outcome := observe.OutcomeOK
	if res.Degraded {
		outcome = observe.OutcomeDegraded
	}
	o.metrics.RecordEvaluation(ctx, outcome, "", elapsed)
	o.metrics.RecordScore(ctx, res.FinalScore/res.Scale.Max())
	span.SetAttributes(
		attribute.Float64("score.final", res.FinalScore),
		attribute.Bool("score.degraded", res.Degraded),
	)
	log.Info("evaluation complete",
		"final_score", res.FinalScore,
		"scale", string(res.Scale),
		"degraded", res.Degraded,
		"elapsed", elapsed,
	)
}

func validate(jobTitle string) error {
	if strings.TrimSpace(jobTitle) == "" {
		return fmt.Errorf("%w: job title must not be empty", ErrInvalidRequest)
	}
	return nil
}

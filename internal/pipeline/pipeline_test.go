package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/internal/extract"
	"github.com/vocahire/vocahire/internal/observe"
	"github.com/vocahire/vocahire/internal/pipeline"
	"github.com/vocahire/vocahire/internal/score"
	diarizemock "github.com/vocahire/vocahire/pkg/provider/diarize/mock"
	"github.com/vocahire/vocahire/pkg/provider/llm"
	llmmock "github.com/vocahire/vocahire/pkg/provider/llm/mock"
	sttmock "github.com/vocahire/vocahire/pkg/provider/stt/mock"
	"github.com/vocahire/vocahire/pkg/types"
)

const okAnswer = `{"content_relevance":0.8,"vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"ok"}`

type fixture struct {
	diarizer    *diarizemock.Diarizer
	transcriber *sttmock.Transcriber
	llm         *llmmock.Provider
}

func newFixture() *fixture {
	return &fixture{
		diarizer: &diarizemock.Diarizer{
			Turns: []types.SpeakerTurn{{Start: 0, End: 10, Speaker: "A"}},
		},
		transcriber: &sttmock.Transcriber{
			Segments: []types.TextSegment{
				{Start: 1, End: 3, Text: "hello"},
				{Start: 4, End: 6, Text: "world"},
			},
		},
		llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: okAnswer}},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func (f *fixture) orchestrator(t *testing.T, opts ...pipeline.Option) *pipeline.Orchestrator {
	t.Helper()
	ev, err := evaluate.New(f.llm)
	if err != nil {
		t.Fatalf("evaluate.New: %v", err)
	}
	opts = append([]pipeline.Option{pipeline.WithMetrics(testMetrics(t))}, opts...)
	o, err := pipeline.New(f.diarizer, f.transcriber, ev, opts...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return o
}

func request() pipeline.Request {
	return pipeline.Request{AudioPath: "interview.wav", JobTitle: "Backend Engineer", Qualities: []string{"Go"}}
}

func TestEvaluate_EndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture()
	res, err := f.orchestrator(t).Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(res.Records) != 2 || res.Records[0].Speaker != "A" || res.Records[1].Speaker != "A" {
		t.Errorf("records = %+v, want two records for A", res.Records)
	}
	if res.CandidateTranscript != "hello world" {
		t.Errorf("transcript = %q, want %q", res.CandidateTranscript, "hello world")
	}
	want := score.Round2(0.4*0.8 + 0.3*0.7 + 0.2*0.9 + 0.1*0.6)
	if res.FinalScore != want || res.FinalScore != 0.77 {
		t.Errorf("final score = %v, want %v", res.FinalScore, want)
	}
	if res.Degraded {
		t.Errorf("unexpected degraded result: %s", res.DegradedReason)
	}
	if res.Feedback != "ok" || res.Scale != score.ScaleUnit || res.CandidateLabel != "A" {
		t.Errorf("result = %+v", res)
	}
	if f.diarizer.CallCount() != 1 || f.transcriber.CallCount() != 1 {
		t.Errorf("adapter calls = %d/%d, want 1/1", f.diarizer.CallCount(), f.transcriber.CallCount())
	}
	if !strings.Contains(f.llm.CompleteCalls[0].Req.Messages[0].Content, "hello world") {
		t.Error("candidate transcript not sent to the model")
	}
}

func TestEvaluate_PercentScale(t *testing.T) {
	t.Parallel()

	agg, err := score.NewAggregator(score.DefaultWeights(), score.ScalePercent)
	if err != nil {
		t.Fatal(err)
	}
	res, err := newFixture().orchestrator(t, pipeline.WithAggregator(agg)).Evaluate(context.Background(), request())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.FinalScore != 77 || res.ContentRelevance != 80 || res.Scale != score.ScalePercent {
		t.Errorf("percent result = %+v", res)
	}
}

func TestEvaluate_AdapterFailuresAreFatal(t *testing.T) {
	t.Parallel()

	boom := errors.New("corrupt audio")
	tests := []struct {
		name  string
		setup func(*fixture)
		stage pipeline.Stage
	}{
		{name: "diarization", setup: func(f *fixture) { f.diarizer.Err = boom }, stage: pipeline.StageDiarize},
		{name: "transcription", setup: func(f *fixture) { f.transcriber.Err = boom }, stage: pipeline.StageTranscribe},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tc.setup(f)

			res, err := f.orchestrator(t).Evaluate(context.Background(), request())
			if res != nil {
				t.Errorf("expected nil result, got %+v", res)
			}
			var se *pipeline.StageError
			if !errors.As(err, &se) || se.Stage != tc.stage {
				t.Fatalf("error = %v, want StageError at %s", err, tc.stage)
			}
			if !errors.Is(err, boom) {
				t.Errorf("error does not wrap the adapter error: %v", err)
			}
			if len(f.llm.CompleteCalls) != 0 {
				t.Error("model called after adapter failure")
			}
		})
	}
}

func TestEvaluate_TranscriptionNotRunAfterDiarizationFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.diarizer.Err = errors.New("boom")
	_, _ = f.orchestrator(t).Evaluate(context.Background(), request())
	if f.transcriber.CallCount() != 0 {
		t.Error("transcriber ran after diarization failed")
	}
}

func TestEvaluate_EmptyTranscriptIsFatal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*fixture)
		req   func(pipeline.Request) pipeline.Request
	}{
		{
			name:  "no overlap",
			setup: func(f *fixture) { f.diarizer.Turns = []types.SpeakerTurn{{Start: 20, End: 30, Speaker: "A"}} },
		},
		{
			name:  "no segments",
			setup: func(f *fixture) { f.transcriber.Segments = nil },
		},
		{
			name:  "unknown label",
			setup: func(*fixture) {},
			req: func(r pipeline.Request) pipeline.Request {
				p := extract.Label("B")
				r.Candidate = &p
				return r
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tc.setup(f)
			req := request()
			if tc.req != nil {
				req = tc.req(req)
			}

			_, err := f.orchestrator(t).Evaluate(context.Background(), req)
			if !errors.Is(err, extract.ErrEmptyTranscript) {
				t.Fatalf("error = %v, want ErrEmptyTranscript", err)
			}
			if pipeline.FailedStage(err) != pipeline.StageExtract {
				t.Errorf("stage = %q, want extract", pipeline.FailedStage(err))
			}
			if len(f.llm.CompleteCalls) != 0 {
				t.Error("model called for an empty transcript")
			}
		})
	}
}

func TestEvaluate_EvaluatorFailureDegrades(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		llm  *llmmock.Provider
	}{
		{name: "malformed json", llm: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "not json"}}},
		{name: "network error", llm: &llmmock.Provider{CompleteErr: errors.New("dial tcp: timeout")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			f.llm = tc.llm

			res, err := f.orchestrator(t).Evaluate(context.Background(), request())
			if err != nil {
				t.Fatalf("evaluator failure must not abort the pipeline: %v", err)
			}
			if !res.Degraded || res.DegradedReason == "" {
				t.Errorf("Degraded = %v reason %q", res.Degraded, res.DegradedReason)
			}
			if res.FinalScore != 0 || res.ContentRelevance != 0 || res.Fluency != 0 {
				t.Errorf("degraded scores = %+v, want zeros", res)
			}
			if res.Feedback != evaluate.DefaultFeedback {
				t.Errorf("feedback = %q, want default", res.Feedback)
			}
			if res.CandidateTranscript != "hello world" {
				t.Errorf("transcript lost on degradation: %q", res.CandidateTranscript)
			}
		})
	}
}

func TestEvaluate_CancelledDuringEvaluationFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.llm = &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}

	res, err := f.orchestrator(t).Evaluate(ctx, request())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("expected no result, got %+v", res)
	}
}

func TestEvaluate_InvalidRequest(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.orchestrator(t)
	for _, req := range []pipeline.Request{
		{AudioPath: "a.wav"},
		{JobTitle: "Engineer"},
	} {
		if _, err := o.Evaluate(context.Background(), req); !errors.Is(err, pipeline.ErrInvalidRequest) {
			t.Errorf("Evaluate(%+v) error = %v, want ErrInvalidRequest", req, err)
		}
	}
	if f.diarizer.CallCount() != 0 {
		t.Error("adapters ran for an invalid request")
	}
}

func TestScoreTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture()
	o := f.orchestrator(t)

	res, err := o.ScoreTranscript(context.Background(), evaluate.PlainText("  I enjoy distributed systems. "), "SRE", nil)
	if err != nil {
		t.Fatalf("ScoreTranscript: %v", err)
	}
	if res.FinalScore != 0.77 || res.CandidateTranscript != "I enjoy distributed systems." {
		t.Errorf("result = %+v", res)
	}
	if f.diarizer.CallCount() != 0 || f.transcriber.CallCount() != 0 {
		t.Error("audio adapters ran for a text-only evaluation")
	}

	_, err = o.ScoreTranscript(context.Background(), evaluate.Segments{{Start: 0, End: 1, Text: " "}}, "SRE", nil)
	if !errors.Is(err, extract.ErrEmptyTranscript) {
		t.Errorf("empty input error = %v, want ErrEmptyTranscript", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ev, _ := evaluate.New(f.llm)
	if _, err := pipeline.New(nil, f.transcriber, ev); err == nil {
		t.Error("expected error for nil diarizer")
	}
	if _, err := pipeline.New(f.diarizer, nil, ev); err == nil {
		t.Error("expected error for nil transcriber")
	}
	if _, err := pipeline.New(f.diarizer, f.transcriber, nil); err == nil {
		t.Error("expected error for nil evaluator")
	}
}

// TestEvaluate_StageSpans swaps the global tracer provider, so it does not
// run in parallel.
func TestEvaluate_StageSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	if _, err := newFixture().orchestrator(t).Evaluate(context.Background(), request()); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	names := map[string]bool{}
	for _, s := range exp.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{
		"pipeline.Evaluate",
		"pipeline.diarize",
		"pipeline.transcribe",
		"pipeline.align",
		"pipeline.extract",
		"pipeline.evaluate",
		"pipeline.aggregate",
	} {
		if !names[want] {
			t.Errorf("missing span %q (got %v)", want, names)
		}
	}
}

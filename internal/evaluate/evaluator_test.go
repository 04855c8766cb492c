package evaluate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vocahire/vocahire/internal/evaluate"
	"github.com/vocahire/vocahire/pkg/provider/llm"
	"github.com/vocahire/vocahire/pkg/provider/llm/mock"
)

func newEvaluator(t *testing.T, p llm.Provider, opts ...evaluate.Option) *evaluate.Evaluator {
	t.Helper()
	e, err := evaluate.New(p, opts...)
	if err != nil {
		t.Fatalf("evaluate.New: %v", err)
	}
	return e
}

func respond(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestEvaluate_RequestShape(t *testing.T) {
	t.Parallel()

	p := respond(`{"content_relevance":0.8,"vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"ok"}`)
	e := newEvaluator(t, p)

	_, err := e.Evaluate(context.Background(), evaluate.PlainText("I led the migration."), "Backend Engineer", []string{"Go", " ", "teamwork"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("expected 1 Complete call, got %d", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req

	if req.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req.Temperature)
	}
	if !strings.Contains(req.SystemPrompt, "HR evaluation assistant") {
		t.Errorf("unexpected system prompt: %q", req.SystemPrompt)
	}
	if req.ResponseSchema == nil || req.ResponseSchema.Name != "interview_evaluation" || !req.ResponseSchema.Strict {
		t.Fatalf("response schema = %+v", req.ResponseSchema)
	}
	required, _ := req.ResponseSchema.Schema["required"].([]string)
	if len(required) != 5 {
		t.Errorf("schema requires %v, want five fields", required)
	}

	user := req.Messages[0].Content
	for _, want := range []string{"Backend Engineer", "Go, teamwork", "I led the migration."} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestEvaluate_ParsesAndClamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    evaluate.Score
	}{
		{
			name:    "in range",
			content: `{"content_relevance":0.8,"vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"ok"}`,
			want:    evaluate.Score{ContentRelevance: 0.8, VocalConfidence: 0.7, ClarityOfSpeech: 0.9, Fluency: 0.6, ShortFeedback: "ok"},
		},
		{
			name:    "adversarial out of range",
			content: `{"content_relevance":-5,"vocal_confidence":1e9,"clarity_of_speech":1.0000001,"fluency":-0.0001,"short_feedback":" fine "}`,
			want:    evaluate.Score{ContentRelevance: 0, VocalConfidence: 1, ClarityOfSpeech: 1, Fluency: 0, ShortFeedback: "fine"},
		},
		{
			name:    "markdown fenced",
			content: "```json\n{\"content_relevance\":0.5,\"vocal_confidence\":0.5,\"clarity_of_speech\":0.5,\"fluency\":0.5,\"short_feedback\":\"average\"}\n```",
			want:    evaluate.Score{ContentRelevance: 0.5, VocalConfidence: 0.5, ClarityOfSpeech: 0.5, Fluency: 0.5, ShortFeedback: "average"},
		},
		{
			name:    "percent style answer clamps to one",
			content: `{"content_relevance":85,"vocal_confidence":0,"clarity_of_speech":0,"fluency":0,"short_feedback":"strong content"}`,
			want:    evaluate.Score{ContentRelevance: 1, ShortFeedback: "strong content"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEvaluator(t, respond(tc.content))
			got, err := e.Evaluate(context.Background(), evaluate.PlainText("answer"), "Engineer", nil)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestEvaluate_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "The candidate did well."},
		{name: "empty", content: "   "},
		{name: "missing field", content: `{"content_relevance":0.8,"vocal_confidence":0.7,"clarity_of_speech":0.9,"short_feedback":"ok"}`},
		{name: "null score", content: `{"content_relevance":null,"vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"ok"}`},
		{name: "blank feedback", content: `{"content_relevance":0.8,"vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"  "}`},
		{name: "wrong type", content: `{"content_relevance":"high","vocal_confidence":0.7,"clarity_of_speech":0.9,"fluency":0.6,"short_feedback":"ok"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEvaluator(t, respond(tc.content))
			got, err := e.Evaluate(context.Background(), evaluate.PlainText("answer"), "Engineer", nil)
			if !errors.Is(err, evaluate.ErrMalformedResponse) {
				t.Fatalf("error = %v, want ErrMalformedResponse", err)
			}
			if evaluate.KindOf(err) != evaluate.KindMalformed {
				t.Errorf("kind = %q, want malformed", evaluate.KindOf(err))
			}
			if got != (evaluate.Score{}) {
				t.Errorf("score on error = %+v, want zero", got)
			}
		})
	}
}

func TestEvaluate_RequestError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	e := newEvaluator(t, &mock.Provider{CompleteErr: boom})
	_, err := e.Evaluate(context.Background(), evaluate.PlainText("answer"), "Engineer", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if evaluate.KindOf(err) != evaluate.KindRequest {
		t.Errorf("kind = %q, want request", evaluate.KindOf(err))
	}
}

func TestEvaluate_InputErrorsSkipModel(t *testing.T) {
	t.Parallel()

	p := respond(`{}`)
	e := newEvaluator(t, p)

	inputs := []evaluate.TranscriptInput{
		nil,
		evaluate.PlainText("  \n"),
		evaluate.Segments{{Start: 0, End: 1, Text: " "}},
	}
	for _, in := range inputs {
		_, err := e.Evaluate(context.Background(), in, "Engineer", nil)
		if evaluate.KindOf(err) != evaluate.KindInput {
			t.Errorf("Evaluate(%#v) kind = %q, want input", in, evaluate.KindOf(err))
		}
	}
	if _, err := e.Evaluate(context.Background(), evaluate.PlainText("hi"), "  ", nil); evaluate.KindOf(err) != evaluate.KindInput {
		t.Errorf("blank job title kind = %q, want input", evaluate.KindOf(err))
	}
	if n := len(p.CompleteCalls); n != 0 {
		t.Errorf("model called %d times for invalid input", n)
	}
}

func TestTranscriptInput_Flatten(t *testing.T) {
	t.Parallel()

	segs := evaluate.Segments{
		{Start: 0, End: 1, Text: " hello "},
		{Start: 1, End: 2, Text: ""},
		{Start: 2, End: 3, Text: "world"},
	}
	if got := segs.Text(); got != "hello world" {
		t.Errorf("Segments.Text() = %q", got)
	}

	recs := evaluate.Records{
		{Start: 0, End: 1, Speaker: "A", Text: "one"},
		{Start: 1, End: 2, Speaker: "B", Text: "two"},
	}
	if got := recs.Text(); got != "one two" {
		t.Errorf("Records.Text() = %q", got)
	}

	p := respond(`{"content_relevance":1,"vocal_confidence":1,"clarity_of_speech":1,"fluency":1,"short_feedback":"great"}`)
	e := newEvaluator(t, p)
	if _, err := e.Evaluate(context.Background(), segs, "Engineer", nil); err != nil {
		t.Fatalf("Evaluate(Segments): %v", err)
	}
	if !strings.Contains(p.CompleteCalls[0].Req.Messages[0].Content, "hello world") {
		t.Error("flattened segments missing from prompt")
	}
}

func TestDefaultScore(t *testing.T) {
	t.Parallel()
	d := evaluate.DefaultScore()
	if d.ContentRelevance != 0 || d.VocalConfidence != 0 || d.ClarityOfSpeech != 0 || d.Fluency != 0 {
		t.Errorf("DefaultScore has non-zero scores: %+v", d)
	}
	if strings.TrimSpace(d.ShortFeedback) == "" {
		t.Error("DefaultScore feedback is empty")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := evaluate.New(nil); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := evaluate.New(&mock.Provider{}, evaluate.WithTemperature(-1)); err == nil {
		t.Error("expected error for negative temperature")
	}
}

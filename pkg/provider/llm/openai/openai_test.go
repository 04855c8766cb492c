package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vocahire/vocahire/pkg/provider/llm"
)

// TestConvertMessage_System checks that system role is converted correctly.
func TestConvertMessage_System(t *testing.T) {
	msg := llm.Message{Role: "system", Content: "You are helpful."}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfSystem == nil {
		t.Fatal("expected OfSystem to be set")
	}
}

// TestConvertMessage_User checks that user role is converted correctly.
func TestConvertMessage_User(t *testing.T) {
	msg := llm.Message{Role: "user", Content: "Hello!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfUser == nil {
		t.Fatal("expected OfUser to be set")
	}
}

// TestConvertMessage_Assistant checks that assistant role is converted.
func TestConvertMessage_Assistant(t *testing.T) {
	msg := llm.Message{Role: "assistant", Content: "Hi there!"}
	param, err := convertMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if param.OfAssistant == nil {
		t.Fatal("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	msg := llm.Message{Role: "tool", Content: "test"}
	_, err := convertMessage(msg)
	if err == nil {
		t.Fatal("expected error for unsupported role, got nil")
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		window     int
		structured bool
	}{
		{"gpt-4o-mini", 128_000, true},
		{"gpt-4o", 128_000, true},
		{"gpt-4", 8_192, false},
		{"gpt-3.5-turbo", 16_385, false},
		{"o3-mini", 200_000, true},
		{"my-custom-model", 128_000, true},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.window)
			}
			if caps.SupportsStructuredOutput != tc.structured {
				t.Errorf("SupportsStructuredOutput = %v, want %v", caps.SupportsStructuredOutput, tc.structured)
			}
			if caps.MaxOutputTokens <= 0 {
				t.Error("expected MaxOutputTokens > 0")
			}
		})
	}
}

// TestCountTokens_Estimation checks that token counting returns a reasonable value.
func TestCountTokens_Estimation(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	msgs := []llm.Message{
		{Role: "user", Content: "Hello world"}, // 11 chars → ~3 tokens + 4 overhead = 7
	}
	count, err := p.CountTokens(msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("expected 7 tokens, got %d", count)
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestBuildParams_ResponseSchemaRequiresName(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	_, err := p.buildParams(llm.CompletionRequest{
		Messages:       []llm.Message{{Role: "user", Content: "x"}},
		ResponseSchema: &llm.ResponseSchema{Schema: map[string]any{"type": "object"}},
	})
	if err == nil {
		t.Fatal("expected error for unnamed schema")
	}
}

func TestBuildParams_StrictSchemaDropsUnsupportedKeywords(t *testing.T) {
	feedback := map[string]any{"type": "string", "minLength": 1}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fluency":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"short_feedback": feedback,
			"minLength":      map[string]any{"type": "string"},
		},
		"required":             []any{"fluency", "short_feedback", "minLength"},
		"additionalProperties": false,
	}
	p := &Provider{model: "gpt-4o-mini"}

	params, err := p.buildParams(llm.CompletionRequest{
		Messages:       []llm.Message{{Role: "user", Content: "x"}},
		ResponseSchema: &llm.ResponseSchema{Name: "interview_evaluation", Schema: schema, Strict: true},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	sent, ok := params.ResponseFormat.OfJSONSchema.JSONSchema.Schema.(map[string]any)
	if !ok {
		t.Fatalf("schema = %T", params.ResponseFormat.OfJSONSchema.JSONSchema.Schema)
	}
	props := sent["properties"].(map[string]any)
	if _, has := props["short_feedback"].(map[string]any)["minLength"]; has {
		t.Error("minLength sent in strict mode")
	}
	if _, has := props["minLength"]; !has {
		t.Error("property named minLength was dropped")
	}
	if fl := props["fluency"].(map[string]any); fl["minimum"] != 0 || fl["maximum"] != 1 {
		t.Errorf("fluency bounds = %v", fl)
	}
	if _, has := feedback["minLength"]; !has {
		t.Error("caller schema was modified")
	}

	params, err = p.buildParams(llm.CompletionRequest{
		Messages:       []llm.Message{{Role: "user", Content: "x"}},
		ResponseSchema: &llm.ResponseSchema{Name: "loose", Schema: schema},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	loose := params.ResponseFormat.OfJSONSchema.JSONSchema.Schema.(map[string]any)
	if _, has := loose["properties"].(map[string]any)["short_feedback"].(map[string]any)["minLength"]; !has {
		t.Error("non-strict schema lost minLength")
	}
}

// TestComplete_SendsJSONSchema runs a full request against a fake chat
// completions endpoint and inspects the wire payload.
func TestComplete_SendsJSONSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop",
    "message": {"role": "assistant", "content": "{\"fluency\":0.5}"}}],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "be objective",
		Temperature:  0.2,
		Messages:     []llm.Message{{Role: "user", Content: "score this"}},
		ResponseSchema: &llm.ResponseSchema{
			Name:   "interview_evaluation",
			Schema: map[string]any{"type": "object"},
			Strict: true,
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"fluency":0.5}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}

	if got["temperature"] != 0.2 {
		t.Errorf("temperature = %v, want 0.2", got["temperature"])
	}
	rf, ok := got["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("response_format missing: %v", got)
	}
	if rf["type"] != "json_schema" {
		t.Errorf("response_format.type = %v", rf["type"])
	}
	js, _ := rf["json_schema"].(map[string]any)
	if js["name"] != "interview_evaluation" || js["strict"] != true {
		t.Errorf("json_schema = %v", js)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
}

func TestComplete_TruncatedIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "id": "chatcmpl-2",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "length",
    "message": {"role": "assistant", "content": "{\"content_relevance\":0.7,\"vocal_"}}],
  "usage": {"prompt_tokens": 900, "completion_tokens": 16, "total_tokens": 916}
}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		MaxTokens: 16,
		Messages:  []llm.Message{{Role: "user", Content: "score this"}},
	})
	if !errors.Is(err, llm.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestComplete_MaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "score this"}},
	})
	if err == nil {
		t.Fatal("expected an error from a 503")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 with retries disabled", got)
	}
}

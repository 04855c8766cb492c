// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// any-llm-go has no portable structured-output switch, so a request's
// [llm.ResponseSchema] is rendered into the system prompt and the caller
// validates the returned JSON.
//
//	p, err := anyllm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/vocahire/vocahire/pkg/provider/llm"
)

// Provider is an [llm.Provider] over one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) { return fn(opts...) }
}

var backends = map[string]constructor{
	"openai":    wrap(anyllmoai.New),
	"anthropic": wrap(anthropic.New),
	"gemini":    wrap(gemini.New),
	"ollama":    wrap(ollama.New),
	"deepseek":  wrap(deepseek.New),
	"mistral":   wrap(mistral.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
}

// SupportedBackends lists the backend names accepted by [New], sorted.
func SupportedBackends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// New creates a Provider for backend (case-insensitive, one of
// [SupportedBackends]) and model. Without an API key option the backend
// reads its usual environment variable, e.g. GEMINI_API_KEY; local backends
// such as ollama need none.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	ctor, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s",
			backend, strings.Join(SupportedBackends(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements [llm.Provider]. A reply cut off at the token limit
// yields [llm.ErrTruncated].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: empty choices in response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "length" {
		return nil, fmt.Errorf("anyllm: %w (model %s)", llm.ErrTruncated, p.model)
	}

	out := &llm.CompletionResponse{Content: choice.Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens uses the shared estimate; any-llm-go has no tokenizer.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams converts our CompletionRequest into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	var messages []anyllmlib.Message

	sys := req.SystemPrompt
	if req.ResponseSchema != nil {
		block, err := schemaInstructions(req.ResponseSchema)
		if err != nil {
			return anyllmlib.CompletionParams{}, err
		}
		if sys != "" {
			sys += "\n\n"
		}
		sys += block
	}
	if sys != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: sys,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}

	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	return params, nil
}

// schemaInstructions renders a response schema as a prompt suffix.
func schemaInstructions(rs *llm.ResponseSchema) (string, error) {
	raw, err := json.MarshalIndent(rs.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("anyllm: encode response schema %q: %w", rs.Name, err)
	}
	var sb strings.Builder
	sb.WriteString("Respond with ONLY a JSON object (no markdown, no prose) that validates against this JSON Schema")
	if rs.Description != "" {
		sb.WriteString(" (")
		sb.WriteString(rs.Description)
		sb.WriteString(")")
	}
	sb.WriteString(":\n")
	sb.Write(raw)
	return sb.String(), nil
}

// knownModels maps a lower-cased model name pattern to its limits. The
// first matching row wins; unknown models get the conservative default.
var knownModels = []struct {
	match  func(model string) bool
	window int
	output int
}{
	{prefix("gpt-4o"), 128_000, 16_384},
	{prefix("gpt-4"), 8_192, 4_096},
	{prefix("claude"), 200_000, 8_192},
	{contains("gemini-1.5-pro"), 2_097_152, 8_192},
	{contains("gemini-2.0-flash"), 1_048_576, 8_192},
	{contains("gemini-1.5-flash"), 1_048_576, 8_192},
	{prefix("gemini"), 128_000, 8_192},
}

func prefix(p string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, p) }
}

func contains(sub string) func(string) bool {
	return func(m string) bool { return strings.Contains(m, sub) }
}

// modelCapabilities never claims native structured output: schemas are
// inlined into the prompt.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, km := range knownModels {
		if km.match(lower) {
			return llm.ModelCapabilities{ContextWindow: km.window, MaxOutputTokens: km.output}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

// Package openai provides an LLM provider backed by the OpenAI API.
//
// Requests carrying an [llm.ResponseSchema] are sent with the json_schema
// response format so the model output is constrained server-side.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/vocahire/vocahire/pkg/provider/llm"
)

// Provider is an [llm.Provider] for the OpenAI chat completions API and
// compatible servers.
type Provider struct {
	client oai.Client
	model  string
}

// Option adjusts the SDK client built by [New].
type Option func(*[]option.RequestOption)

func with(o option.RequestOption) Option {
	return func(opts *[]option.RequestOption) { *opts = append(*opts, o) }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return with(option.WithBaseURL(url)) }

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option { return with(option.WithOrganization(org)) }

// WithTimeout bounds each HTTP attempt. Evaluation prompts carry a whole
// interview transcript, so keep this generous.
func WithTimeout(d time.Duration) Option { return with(option.WithRequestTimeout(d)) }

// WithMaxRetries sets how often the SDK retries rate-limited and 5xx
// responses before the error reaches the failover group. The SDK default
// is 2.
func WithMaxRetries(n int) Option { return with(option.WithMaxRetries(n)) }

// New creates a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: apiKey must not be empty")
	case model == "":
		return nil, errors.New("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements [llm.Provider]. Refusals and replies cut off at the
// token limit are errors; the latter wraps [llm.ErrTruncated].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	switch {
	case choice.Message.Refusal != "":
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	case choice.FinishReason == "length":
		return nil, fmt.Errorf("openai: %w (max %d)", llm.ErrTruncated, req.MaxTokens)
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// CountTokens uses the shared estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelFamilies is matched by prefix in order, so longer prefixes come
// first. Unknown models are assumed to be current gpt-4o class models.
var modelFamilies = []struct {
	prefix     string
	window     int
	output     int
	structured bool
}{
	{"gpt-4o", 128_000, 16_384, true},
	{"gpt-4.1", 128_000, 16_384, true},
	{"gpt-4-turbo", 128_000, 4_096, false},
	{"gpt-4", 8_192, 4_096, false},
	{"gpt-3.5-turbo", 16_385, 4_096, false},
	{"o1-mini", 128_000, 65_536, false},
	{"o1", 200_000, 100_000, true},
	{"o3", 200_000, 100_000, true},
}

func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range modelFamilies {
		if strings.HasPrefix(lower, f.prefix) {
			return llm.ModelCapabilities{
				ContextWindow:            f.window,
				MaxOutputTokens:          f.output,
				SupportsStructuredOutput: f.structured,
			}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsStructuredOutput: true}
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}

	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	if rs := req.ResponseSchema; rs != nil {
		if rs.Name == "" {
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: response schema name must not be empty")
		}
		body := rs.Schema
		if rs.Strict {
			body = strictSchema(rs.Schema)
		}
		schema := oai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   rs.Name,
			Schema: body,
			Strict: oai.Bool(rs.Strict),
		}
		if rs.Description != "" {
			schema.Description = oai.String(rs.Description)
		}
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		}
	}

	return params, nil
}

// strictUnsupported are JSON Schema keywords the API rejects in strict
// mode. Callers validate these constraints on the decoded reply instead.
var strictUnsupported = map[string]bool{
	"minLength":             true,
	"maxLength":             true,
	"minProperties":         true,
	"maxProperties":         true,
	"patternProperties":     true,
	"propertyNames":         true,
	"unevaluatedProperties": true,
	"unevaluatedItems":      true,
	"contains":              true,
	"minContains":           true,
	"maxContains":           true,
	"uniqueItems":           true,
}

// strictSchema returns a copy of schema without strictUnsupported keywords
// at any depth. The input is not modified. Keys under "properties" are
// property names, not keywords, and are always kept.
func strictSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if strictUnsupported[k] {
			continue
		}
		if k == "properties" {
			if props, ok := v.(map[string]any); ok {
				kept := make(map[string]any, len(props))
				for name, sub := range props {
					kept[name] = stripValue(sub)
				}
				out[k] = kept
				continue
			}
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return strictSchema(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = stripValue(e)
		}
		return out
	default:
		return v
	}
}

// convertMessage converts an llm.Message to an OpenAI SDK message param.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil

	case "user":
		return oai.UserMessage(m.Content), nil

	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

var _ llm.Provider = (*Provider)(nil)

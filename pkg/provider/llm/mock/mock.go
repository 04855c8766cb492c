// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: `{"fluency": 0.5}`},
//	}
//
// Configure the fields before the first call; the recorded CompleteCalls
// may be read once the code under test has returned.
package mock

import (
	"context"
	"sync"

	"github.com/vocahire/vocahire/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a scripted [llm.Provider]. The zero value answers every
// completion with (nil, nil) and counts zero tokens.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, if set, answers Complete instead of CompleteResponse
	// and CompleteErr.
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the request, then answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

func (p *Provider) CountTokens([]llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CountTokensErr != nil {
		return 0, p.CountTokensErr
	}
	return p.TokenCount, nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

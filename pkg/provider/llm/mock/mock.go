// Package mock is an [llm.Provider] test double.
//
//	p := mock.Returning("[00:01] [Alice] Hi")
//	out, _ := diarizer.Diarize(ctx, "hi", nil)
//	req := p.Calls()[0].Req
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribe/pkg/provider/llm"
	"github.com/MrWong99/scribe/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers from its fields. The zero value returns a nil response
// and nil error.
type Provider struct {
	// CompleteFunc, when set, answers instead of CompleteResponse and
	// CompleteErr.
	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount is what CountTokens reports; zero means [llm.EstimateTokens].
	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	mu    sync.Mutex
	calls []CompleteCall
}

// Returning is a Provider that answers every call with content.
func Returning(content string) *Provider {
	return &Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

// Complete records the call and answers.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens reports TokenCount or an estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	switch {
	case p.CountTokensErr != nil:
		return 0, p.CountTokensErr
	case p.TokenCount > 0:
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities { return p.ModelCapabilities }

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompleteCall(nil), p.calls...)
}

// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify prompts and feed controlled replies
// without a live backend. All fields are safe to set before calling any
// method; mutating them during a concurrent call is the caller's
// responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Responses: []string{`{"summary":"..."}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/aulavox/aulavox/pkg/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls in order. The
	// last element repeats once the slice is exhausted.
	Responses []string

	// Usages optionally pairs token accounting with Responses by index.
	Usages []llm.Usage

	// CompleteErr, if non-nil, is returned by every Complete call.
	CompleteErr error

	// TokenCount is returned by CountTokens. Zero falls back to the
	// shared estimate so chunking logic still sees realistic numbers.
	TokenCount int

	// ModelInfo is returned by Info.
	ModelInfo llm.ModelInfo

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next configured response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}

	idx := len(p.CompleteCalls) - 1
	resp := &llm.CompletionResponse{}
	if len(p.Responses) > 0 {
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		resp.Content = p.Responses[idx]
	}
	if idx < len(p.Usages) {
		resp.Usage = p.Usages[idx]
	}
	return resp, nil
}

// CountTokens returns TokenCount or the shared estimate when unset.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// Info returns the configured ModelInfo, defaulting the context window so
// chunking code does not divide by zero.
func (p *Provider) Info() llm.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.ModelInfo
	if info.ContextWindow == 0 {
		info.ContextWindow = 128_000
	}
	if info.MaxOutputTokens == 0 {
		info.MaxOutputTokens = 4_096
	}
	if info.Provider == "" {
		info.Provider = "mock"
	}
	return info
}

// LastRequest returns the most recent Complete request, or a zero value.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req
}

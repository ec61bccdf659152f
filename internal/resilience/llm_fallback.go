package resilience

import (
	"context"

	"github.com/aulavox/aulavox/pkg/llm"
)

var _ llm.Provider = (*LLMChain)(nil)

// LLMChain is an [llm.Provider] backed by an ordered group of providers,
// typically a hosted model with a local one behind it. Completions fail over
// per call; token counting and model metadata always come from the primary so
// the analyzer's chunking stays stable regardless of which backend served.
type LLMChain struct {
	group   *FallbackGroup[llm.Provider]
	primary llm.Provider
}

// NewLLMChain chains primary and fallbacks in order. Entries are labelled by
// their model info for breaker logs.
func NewLLMChain(cfg FallbackConfig, primary llm.Provider, fallbacks ...llm.Provider) *LLMChain {
	group := NewFallbackGroup(primary, providerLabel(primary), cfg)
	for _, f := range fallbacks {
		group.AddFallback(providerLabel(f), f)
	}
	return &LLMChain{group: group, primary: primary}
}

func providerLabel(p llm.Provider) string {
	info := p.Info()
	if info.Model == "" {
		return info.Provider
	}
	return info.Provider + "/" + info.Model
}

// Complete implements [llm.Provider].
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(c.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens implements [llm.Provider].
func (c *LLMChain) CountTokens(messages []llm.Message) (int, error) {
	return c.primary.CountTokens(messages)
}

// Info implements [llm.Provider].
func (c *LLMChain) Info() llm.ModelInfo {
	return c.primary.Info()
}

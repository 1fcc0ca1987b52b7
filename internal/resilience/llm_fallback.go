package resilience

import (
	"context"

	"github.com/nova-voice/callengine/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across
// response-generation backends. Each backend sits behind its own breaker;
// when the primary fails or its breaker is open, the next healthy fallback
// is tried.
type LLMFallback struct {
	chain *FallbackChain[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback with primary as the preferred
// backend.
func NewLLMFallback(name string, primary llm.Provider, breaker BreakerConfig) *LLMFallback {
	return &LLMFallback{chain: NewFallbackChain(name, primary, breaker)}
}

// Add registers an additional backend as a fallback.
func (f *LLMFallback) Add(name string, provider llm.Provider) {
	f.chain.Add(name, provider)
}

// Complete sends the request to the first healthy backend and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.Request) (string, error) {
	return Run(f.chain, func(p llm.Provider) (string, error) {
		return p.Complete(ctx, req)
	})
}

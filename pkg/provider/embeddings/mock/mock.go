// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned speaker vectors without a live model and
// to verify which clips were submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedResult:     []float32{0.1, 0.2, 0.3},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-ecapa",
//	}
//	vec, _ := p.Embed(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	Ctx  context.Context
	Clip audio.Clip
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedFunc, if set, computes the result from the clip. It takes
	// precedence over EmbedResult but not over EmbedErr.
	EmbedFunc func(clip audio.Clip) []float32

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the configured result. The returned
// slice is a copy so callers may normalize it in place.
func (p *Provider) Embed(ctx context.Context, clip audio.Clip) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Clip: clip})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	src := p.EmbedResult
	if p.EmbedFunc != nil {
		src = p.EmbedFunc(clip)
	}
	if src == nil {
		return nil, nil
	}
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// CallCount returns the number of Embed calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
}

var _ embeddings.Provider = (*Provider)(nil)

// Package identity turns audio into unit-norm speaker embeddings and decides
// whether a new embedding belongs to a known speaker.
//
// Verification is best-match: a sample is accepted when its cosine
// similarity to at least one stored reference reaches the threshold. The
// package never substitutes a placeholder embedding; extraction failures
// surface as [ErrEmbeddingExtraction].
package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
)

// DefaultThreshold is the identity-grade cosine threshold for ECAPA vectors.
const DefaultThreshold = 0.75

// ErrEmbeddingExtraction wraps every failure to obtain a usable embedding.
var ErrEmbeddingExtraction = errors.New("identity: embedding extraction failed")

// Embedding is a speaker vector. Values produced by this package are unit
// norm to within 1e-6.
type Embedding []float32

// Normalize returns v scaled to unit L2 norm. Input that is already unit norm
// to within 1e-6 is copied unchanged, which makes Normalize idempotent. It
// fails for empty, zero-norm or non-finite input.
func Normalize(v []float32) (Embedding, error) {
	if len(v) == 0 {
		return nil, errors.New("identity: empty embedding")
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.New("identity: non-finite embedding")
		}
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, errors.New("identity: zero-norm embedding")
	}
	out := make(Embedding, len(v))
	if math.Abs(norm-1) <= 1e-6 {
		copy(out, v)
		return out, nil
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Normalizer extracts normalized embeddings through an embeddings.Provider.
type Normalizer struct {
	provider embeddings.Provider
	timeout  time.Duration
	metrics  *observe.Metrics
}

// NormalizerOption configures a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithTimeout bounds each extraction call. Zero means the caller's context
// alone applies.
func WithTimeout(d time.Duration) NormalizerOption {
	return func(n *Normalizer) { n.timeout = d }
}

// WithMetrics records extraction latency and provider errors.
func WithMetrics(m *observe.Metrics) NormalizerOption {
	return func(n *Normalizer) { n.metrics = m }
}

// NewNormalizer wraps p.
func NewNormalizer(p embeddings.Provider, opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{provider: p}
	for _, o := range opts {
		o(n)
	}
	return n
}

// ModelID reports the underlying extractor model.
func (n *Normalizer) ModelID() string { return n.provider.ModelID() }

// Embed extracts and normalizes the speaker embedding of clip.
func (n *Normalizer) Embed(ctx context.Context, clip audio.Clip) (emb Embedding, err error) {
	ctx, span := observe.StartSpan(ctx, "identity.embed")
	defer func() { observe.EndSpan(span, err) }()

	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := n.provider.Embed(ctx, clip)
	n.record(ctx, start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingExtraction, err)
	}
	emb, err = Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingExtraction, err)
	}
	return emb, nil
}

func (n *Normalizer) record(ctx context.Context, start time.Time, err error) {
	if n.metrics == nil {
		return
	}
	model := n.provider.ModelID()
	n.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		n.metrics.RecordProviderError(ctx, model, "embeddings")
	}
	n.metrics.RecordProviderRequest(ctx, model, "embeddings", status)
}

// Package embeddings defines the Provider interface for speaker-embedding
// backends.
//
// A speaker-embedding provider wraps a neural model (e.g., an ECAPA-TDNN
// network served by SpeechBrain) that maps a whole utterance to a dense
// float32 vector characterising the speaker's voice. The identity layer
// compares these vectors by cosine similarity, so every vector a Provider
// returns must live in the same space.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// Provider is the abstraction over any speaker-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different models are
// not comparable; callers must never mix them in one similarity computation.
type Provider interface {
	// Embed computes the speaker embedding for clip. The clip is passed at
	// its native sample rate; implementations that need a specific rate
	// resample internally. The returned vector is not necessarily
	// normalized.
	//
	// Returns an error if the request fails or ctx is cancelled.
	Embed(ctx context.Context, clip audio.Clip) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID identifies the embedding model (e.g.,
	// "speechbrain/spkrec-ecapa-voxceleb"). Stored alongside profiles so a
	// model change can be detected.
	ModelID() string
}

// Package tts defines the Provider interface for neural speech synthesis
// conditioned on a reference voice.
//
// A TTS provider renders text in the voice of a reference speaker. The
// reference is supplied as a short recording plus, when the backend can use
// it, the speaker embedding already computed by the identity layer.
// Synthesis is batch: one request yields one finished clip.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/chronovox/pkg/audio"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the utterance to speak. Must not be empty.
	Text string

	// Reference is the recording whose voice is cloned.
	Reference audio.Clip

	// VoiceKey identifies Reference across calls (e.g., "alice_1718000000000")
	// so backends that register cloned voices can reuse them. Empty disables
	// reuse.
	VoiceKey string

	// Embedding is the unit-norm speaker embedding of Reference. Backends
	// that condition on their own speaker encoder may ignore it.
	Embedding []float32

	// Language is a BCP-47 code. Empty means the provider default.
	Language string
}

// Provider is the abstraction over any voice-cloning TTS backend.
type Provider interface {
	// Synthesize renders req.Text in the reference voice and returns the
	// resulting clip at the provider's output rate.
	//
	// Returns an error if the backend fails or ctx is cancelled. A partial
	// clip is never returned.
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)

	// Name identifies the backend in logs and metrics (e.g., "coqui").
	Name() string
}

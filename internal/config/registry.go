package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/chronovox/internal/playback/textshape"
	"github.com/MrWong99/chronovox/pkg/provider/embeddings"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds as used in error messages and [Registry.Names].
const (
	KindEmbeddings = "embeddings"
	KindTTS        = "tts"
	KindText       = "text"
)

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is the name to factory table of one provider kind.
type factories[T any] struct {
	kind   string
	byName map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byName: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s provider %q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

// Registry maps provider names to factories for each provider kind. A later
// registration under the same name replaces the earlier one. It is safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	embeddings factories[embeddings.Provider]
	tts        factories[tts.Provider]
	text       factories[textshape.Shaper]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddings: newFactories[embeddings.Provider](KindEmbeddings),
		tts:        newFactories[tts.Provider](KindTTS),
		text:       newFactories[textshape.Shaper](KindText),
	}
}

func (r *Registry) RegisterEmbeddings(name string, f Factory[embeddings.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings.byName[name] = f
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = f
}

func (r *Registry) RegisterText(name string, f Factory[textshape.Shaper]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text.byName[name] = f
}

// CreateEmbeddings builds the embeddings provider named by entry.Name. It
// returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.embeddings.create(entry)
}

func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

func (r *Registry) CreateText(entry ProviderEntry) (textshape.Shaper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.text.create(entry)
}

// Names returns the sorted provider names registered for kind, or nil for
// an unknown kind.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindEmbeddings:
		return slices.Sorted(maps.Keys(r.embeddings.byName))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts.byName))
	case KindText:
		return slices.Sorted(maps.Keys(r.text.byName))
	}
	return nil
}

package resilience

import (
	"context"
	"log/slog"

	"github.com/MrWong99/chronovox/pkg/audio"
	"github.com/MrWong99/chronovox/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends, each behind its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
	log   *slog.Logger
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, cfg FallbackConfig) *TTSFallback {
	f := &TTSFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
	f.log = f.group.log
	return f
}

// AddFallback registers an additional backend, tried after those already
// added.
func (f *TTSFallback) AddFallback(provider tts.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Synthesize renders req with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (audio.Clip, error) {
	clip, served, err := ExecuteNamed(f.group, func(p tts.Provider) (audio.Clip, error) {
		if err := ctx.Err(); err != nil {
			return audio.Clip{}, err
		}
		return p.Synthesize(ctx, req)
	})
	if err != nil {
		return audio.Clip{}, err
	}
	if primary := f.group.entries[0].name; served != primary {
		f.log.Info("tts: served by fallback", "provider", served, "primary", primary)
	}
	return clip, nil
}

// Name reports the backends in try order, e.g. "coqui|backup".
func (f *TTSFallback) Name() string {
	names := f.group.Names()
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

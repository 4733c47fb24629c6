// Package pipeline orchestrates enrollment and sample submission: it runs a
// submitted recording through the quality gate, the embedding extractor, the
// speaker verification gate, the device fingerprint matcher and the
// confidence engine, lets the version decision state machine decide, and
// persists accepted samples as new profile versions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/MrWong99/chronovox/internal/artifact"
	"github.com/MrWong99/chronovox/internal/confidence"
	"github.com/MrWong99/chronovox/internal/decision"
	"github.com/MrWong99/chronovox/internal/fingerprint"
	"github.com/MrWong99/chronovox/internal/identity"
	"github.com/MrWong99/chronovox/internal/observe"
	"github.com/MrWong99/chronovox/internal/profile"
	"github.com/MrWong99/chronovox/internal/quality"
	"github.com/MrWong99/chronovox/pkg/audio"
)

// MinDuration is the default hard minimum sample length.
const MinDuration = 10 * time.Second

// Settings are the tunable verification parameters. They can be swapped at
// runtime with [Verifier.SetSettings].
type Settings struct {
	// Threshold is the minimum best-match cosine similarity.
	Threshold float64

	// MinDuration hard-rejects shorter samples before any embedding work.
	MinDuration time.Duration

	// Quality is the advisory quality gate.
	Quality quality.Gate

	// Policy is the version decision policy.
	Policy decision.Policy
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Threshold:   identity.DefaultThreshold,
		MinDuration: MinDuration,
		Quality:     quality.DefaultGate(),
		Policy:      decision.DefaultPolicy(),
	}
}

// Verifier processes submitted samples. It is safe for concurrent use;
// submissions for the same user are serialized.
type Verifier struct {
	repo     profile.Repository
	store    *artifact.Store
	embedder *identity.Normalizer
	matcher  *fingerprint.Matcher
	clock    decision.Clock
	settings atomic.Pointer[Settings]
	locks    keyLock
	log      *slog.Logger
	metrics  *observe.Metrics
}

// VerifierOption configures a [Verifier].
type VerifierOption func(*Verifier)

// WithSettings replaces [DefaultSettings].
func WithSettings(s Settings) VerifierOption {
	return func(v *Verifier) { v.settings.Store(&s) }
}

// WithClock sets the version id clock.
func WithClock(c decision.Clock) VerifierOption {
	return func(v *Verifier) { v.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.log = l }
}

// WithMetrics enables decision and latency metrics.
func WithMetrics(m *observe.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier wires a verifier.
func NewVerifier(repo profile.Repository, store *artifact.Store, embedder *identity.Normalizer, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		repo:     repo,
		store:    store,
		embedder: embedder,
		log:      slog.Default(),
	}
	def := DefaultSettings()
	v.settings.Store(&def)
	for _, o := range opts {
		o(v)
	}
	v.matcher = fingerprint.NewMatcher(v.log)
	return v
}

// Settings returns the active settings.
func (v *Verifier) Settings() Settings { return *v.settings.Load() }

// SetSettings atomically replaces the active settings. Submissions already
// in flight keep the settings they started with.
func (v *Verifier) SetSettings(s Settings) { v.settings.Store(&s) }

// ProcessFile reads a recording from disk and submits it. Missing files and
// undecodable audio are reported as rejections.
func (v *Verifier) ProcessFile(ctx context.Context, userID, path string) Outcome {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return v.reject(ctx, Rejected{Reason: ReasonFileNotFound})
	}
	clip, _, err := audio.ReadFile(path)
	if err != nil {
		return v.reject(ctx, Rejected{Reason: ReasonPreprocess, Err: err})
	}
	return v.Process(ctx, userID, clip)
}

// Process runs one sample through verification and, if accepted, persists it
// as a new version of userID's profile.
func (v *Verifier) Process(ctx context.Context, userID string, clip audio.Clip) Outcome {
	ctx, span := observe.StartUserSpan(ctx, "pipeline.process", userID)
	defer span.End()
	log := observe.Logger(ctx, v.log).With("user_id", userID)
	set := v.Settings()

	if v.metrics != nil {
		v.metrics.InflightSubmissions.Add(ctx, 1)
		defer v.metrics.InflightSubmissions.Add(ctx, -1)
		start := time.Now()
		defer func() { v.metrics.VerifyDuration.Record(ctx, time.Since(start).Seconds()) }()
	}

	clean, err := audio.Standardize(clip, audio.DefaultSampleRate)
	if err != nil || len(clean.Samples) == 0 {
		if err == nil {
			err = errors.New("empty clip")
		}
		return v.reject(ctx, Rejected{Reason: ReasonPreprocess, Err: err})
	}

	if d := clean.Duration(); d < set.MinDuration {
		return v.reject(ctx, Rejected{Reason: ReasonTooShort, DurationSec: ptr(round(clean.Seconds(), 2))})
	}

	unlock := v.locks.Lock(userID)
	defer unlock()

	p, err := v.repo.Load(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return v.reject(ctx, Rejected{Reason: ReasonUnknownUser, Err: err})
	}
	if err != nil {
		return v.reject(ctx, Rejected{Reason: ReasonStorage, Err: err})
	}

	report := set.Quality.Check(clean)
	softFail := !report.Accepted
	if softFail {
		log.Info("pipeline: quality soft fail", "reasons", report.Reasons)
		if v.metrics != nil {
			v.metrics.QualitySoftFails.Add(ctx, 1)
		}
	}

	emb, err := v.embedder.Embed(ctx, clean)
	if err != nil {
		return v.reject(ctx, Rejected{Reason: ReasonEmbedding, Err: err})
	}

	if len(p.Versions) == 0 {
		d := decision.Decide(decision.Input{}, set.Policy)
		id, err := v.persist(ctx, p, clean, emb, 1.0)
		if err != nil {
			return v.reject(ctx, persistRejection(err))
		}
		v.recordDecision(ctx, d)
		log.Info("pipeline: baseline stored", "version_id", id)
		return Accepted{
			Decision:        d,
			VersionID:       id,
			Confidence:      1.0,
			Similarity:      1.0,
			QualitySoftFail: softFail,
		}
	}

	result, nrefs := v.verify(ctx, log, p, emb, set.Threshold)
	if !result.Accepted {
		log.Info("pipeline: speaker mismatch", "similarity", result.BestSimilarity, "reason", result.Reason, "references", nrefs)
		v.recordDecision(ctx, decision.Decide(decision.Input{HistoryCount: len(p.Versions), Verification: result}, set.Policy))
		return v.reject(ctx, Rejected{Reason: ReasonDifferentSpeaker, Similarity: ptr(round(result.BestSimilarity, 4))})
	}

	conf := confidence.Compute(confidence.Signals{
		Duration:     report.Duration,
		SNRDB:        report.SNRDB,
		Similarity:   result.BestSimilarity,
		DeviceMatch:  v.deviceScore(p, clean),
		HistoryCount: nrefs,
	})
	if softFail {
		conf = confidence.ApplySoftFail(conf)
	}

	d := decision.Decide(decision.Input{
		HistoryCount: len(p.Versions),
		Verification: result,
		Confidence:   conf,
	}, set.Policy)
	v.recordDecision(ctx, d)
	if !d.Action.Persists() {
		return v.reject(ctx, Rejected{Reason: ReasonLowConfidence, Similarity: ptr(round(result.BestSimilarity, 4))})
	}

	id, err := v.persist(ctx, p, clean, emb, conf)
	if err != nil {
		return v.reject(ctx, persistRejection(err))
	}
	log.Info("pipeline: version stored", "version_id", id, "confidence", conf, "similarity", result.BestSimilarity)
	return Accepted{
		Decision:        d,
		VersionID:       id,
		Confidence:      round(conf, 3),
		Similarity:      round(result.BestSimilarity, 4),
		QualitySoftFail: softFail,
	}
}

// verify finds the best reference match for emb and reports how many
// references took part. A backend implementing [profile.NearestFinder]
// searches the embeddings itself when every loaded version carries one, so
// its nearest version is the best match over the loaded history. Otherwise,
// or if the search fails, the embedding artifacts are read and compared.
func (v *Verifier) verify(ctx context.Context, log *slog.Logger, p *profile.Profile, emb identity.Embedding, threshold float64) (identity.Result, int) {
	if nf, ok := v.repo.(profile.NearestFinder); ok && allEmbedded(p) {
		ver, _, err := nf.NearestVersion(ctx, p.UserID, emb)
		if err == nil {
			if _, known := p.Version(ver.ID); !known {
				err = fmt.Errorf("version %d is newer than the loaded history", ver.ID)
			}
		}
		var ref identity.Embedding
		if err == nil {
			ref, err = identity.Normalize(ver.Embedding)
		}
		if err == nil {
			return identity.Verify(emb, []identity.Embedding{ref}, threshold), len(p.Versions)
		}
		log.Debug("pipeline: nearest search unavailable, comparing artifacts", "error", err)
	}
	refs := v.references(log, p)
	return identity.Verify(emb, refs, threshold), len(refs)
}

func allEmbedded(p *profile.Profile) bool {
	for _, ver := range p.Versions {
		if len(ver.Embedding) == 0 {
			return false
		}
	}
	return len(p.Versions) > 0
}

// references loads and re-normalizes every stored embedding. Unreadable
// artifacts are skipped.
func (v *Verifier) references(log *slog.Logger, p *profile.Profile) []identity.Embedding {
	refs := make([]identity.Embedding, 0, len(p.Versions))
	for _, ver := range p.Versions {
		if ver.EmbeddingPath == "" {
			continue
		}
		raw, err := v.store.LoadEmbedding(ver.EmbeddingPath)
		if err != nil {
			log.Warn("pipeline: skipping reference embedding", "version_id", ver.ID, "error", err)
			continue
		}
		e, err := identity.Normalize(raw)
		if err != nil {
			log.Warn("pipeline: skipping reference embedding", "version_id", ver.ID, "error", err)
			continue
		}
		refs = append(refs, e)
	}
	return refs
}

// deviceScore compares the new sample's channel against the latest stored
// recording. Any failure yields 1.0.
func (v *Verifier) deviceScore(p *profile.Profile, clip audio.Clip) float64 {
	latest, ok := p.Latest()
	if !ok || latest.AudioPath == "" {
		return 1.0
	}
	ref, err := v.store.LoadAudio(latest.AudioPath)
	if err != nil {
		v.log.Warn("pipeline: device reference unavailable", "version_id", latest.ID, "error", err)
		return 1.0
	}
	return v.matcher.Score(clip, ref)
}

// persist writes the artifacts and appends the version. Artifacts are
// removed again if the append fails.
func (v *Verifier) persist(ctx context.Context, p *profile.Profile, clip audio.Clip, emb identity.Embedding, conf float64) (int64, error) {
	id := v.clock.Next(p.LastID())

	audioRel, err := v.store.PutAudio(p.UserID, id, clip)
	if err != nil {
		return 0, fmt.Errorf("pipeline: persist: %w", err)
	}
	embRel, err := v.store.PutEmbedding(p.UserID, id, emb)
	if err != nil {
		_ = v.store.Remove(audioRel)
		return 0, fmt.Errorf("pipeline: persist: %w", err)
	}

	ver := profile.Version{
		ID:            id,
		AudioPath:     audioRel,
		EmbeddingPath: embRel,
		Confidence:    conf,
		Type:          profile.VoiceRecorded,
		Created:       time.UnixMilli(id).UTC(),
		Embedding:     emb,
	}
	if err := v.repo.AppendVersion(ctx, p.UserID, p.LastID(), ver); err != nil {
		if rmErr := v.store.Remove(audioRel, embRel); rmErr != nil {
			v.log.Error("pipeline: rollback artifacts", "user_id", p.UserID, "version_id", id, "error", rmErr)
		}
		return 0, fmt.Errorf("pipeline: append version: %w", err)
	}
	return id, nil
}

// persistRejection classifies a persist failure. A conflict means another
// process appended to the profile, or claimed the same version id, after it
// was loaded. The sample may be resubmitted.
func persistRejection(err error) Rejected {
	if errors.Is(err, profile.ErrConflict) || errors.Is(err, artifact.ErrExists) {
		return Rejected{Reason: ReasonConflict, Err: err}
	}
	return Rejected{Reason: ReasonStorage, Err: err}
}

func (v *Verifier) reject(ctx context.Context, r Rejected) Rejected {
	if r.Err != nil {
		observe.Logger(ctx, v.log).Warn("pipeline: sample rejected", "reason", r.Reason, "error", r.Err)
	}
	if v.metrics != nil {
		v.metrics.RecordRejection(ctx, r.Reason)
	}
	return r
}

func (v *Verifier) recordDecision(ctx context.Context, d decision.Decision) {
	if v.metrics != nil {
		v.metrics.RecordDecision(ctx, string(d.Action))
	}
}

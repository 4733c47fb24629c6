package identity

import (
	"math"
)

// Verification reasons.
const (
	ReasonNoReference       = "no_reference_embeddings"
	ReasonInvalidSimilarity = "invalid_similarity"
	ReasonSpeakerMismatch   = "speaker_mismatch_detected"
	ReasonAccepted          = "accepted"
)

// Result is the outcome of [Verify]. Every field is always set.
type Result struct {
	Accepted bool

	// BestSimilarity is the highest cosine against any reference, or 0 when
	// there were no references or the value was not finite.
	BestSimilarity float64

	Reason string
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1]. It
// returns exactly 0 when the lengths differ, either norm is zero, or the
// result is not finite.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / math.Sqrt(na*nb)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}

// Verify compares emb against every reference and accepts when the best
// similarity reaches threshold.
func Verify(emb Embedding, refs []Embedding, threshold float64) Result {
	if len(refs) == 0 {
		return Result{Reason: ReasonNoReference}
	}

	best := math.Inf(-1)
	for _, ref := range refs {
		best = math.Max(best, Cosine(emb, ref))
	}
	if math.IsNaN(best) || math.IsInf(best, 0) {
		return Result{Reason: ReasonInvalidSimilarity}
	}
	if best < threshold {
		return Result{BestSimilarity: best, Reason: ReasonSpeakerMismatch}
	}
	return Result{Accepted: true, BestSimilarity: best, Reason: ReasonAccepted}
}

package pipeline

import (
	"encoding/json"
	"math"

	"github.com/MrWong99/chronovox/internal/decision"
)

// Rejection reasons reported in [Rejected.Reason].
const (
	ReasonFileNotFound     = "Audio file not found"
	ReasonPreprocess       = "Audio preprocessing failed"
	ReasonTooShort         = "Audio too short"
	ReasonDifferentSpeaker = "Different speaker detected"
	ReasonEmbedding        = "Embedding extraction failed"
	ReasonUnknownUser      = "Unknown user"
	ReasonStorage          = "Storage failure"
	ReasonLowConfidence    = "Confidence below floor"
	ReasonConflict         = "Profile changed concurrently"
)

// Outcome is the result of submitting a sample: either [Accepted] or
// [Rejected].
type Outcome interface {
	// IsAccepted reports whether the sample was accepted.
	IsAccepted() bool

	outcome()
}

// Accepted is returned when a sample was stored as a baseline or a new
// version.
type Accepted struct {
	// ChangeDetected is reserved for voice change tracking and is currently
	// always false.
	ChangeDetected bool

	Decision decision.Decision

	// VersionID is the id of the stored version.
	VersionID int64

	// Confidence is rounded to 3 decimals.
	Confidence float64

	// Similarity is the best reference similarity rounded to 4 decimals,
	// 1.0 for a baseline.
	Similarity float64

	// QualitySoftFail is set when the quality gate failed and confidence
	// was penalized.
	QualitySoftFail bool
}

// Rejected is returned when nothing was stored.
type Rejected struct {
	Reason string

	// Similarity is set for speaker mismatches.
	Similarity *float64

	// DurationSec is set for samples that were too short.
	DurationSec *float64

	// Err carries the underlying failure for infrastructure errors.
	Err error
}

func (Accepted) IsAccepted() bool { return true }
func (Accepted) outcome()         {}
func (Rejected) IsAccepted() bool { return false }
func (Rejected) outcome()         {}

// MarshalJSON encodes the outcome as
// {"accepted":true,"change_detected":…,"decision":…,"confidence":…,…}.
func (a Accepted) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Accepted        bool              `json:"accepted"`
		ChangeDetected  bool              `json:"change_detected"`
		Decision        decision.Decision `json:"decision"`
		VersionID       int64             `json:"version_id"`
		Confidence      float64           `json:"confidence"`
		Similarity      float64           `json:"similarity"`
		QualitySoftFail bool              `json:"audio_quality_soft_fail"`
	}{true, a.ChangeDetected, a.Decision, a.VersionID, a.Confidence, a.Similarity, a.QualitySoftFail})
}

// MarshalJSON encodes the outcome as {"accepted":false,"reason":…}, adding
// similarity, duration_sec and error when present.
func (r Rejected) MarshalJSON() ([]byte, error) {
	out := struct {
		Accepted    bool     `json:"accepted"`
		Reason      string   `json:"reason"`
		Similarity  *float64 `json:"similarity,omitempty"`
		DurationSec *float64 `json:"duration_sec,omitempty"`
		Error       string   `json:"error,omitempty"`
	}{Reason: r.Reason, Similarity: r.Similarity, DurationSec: r.DurationSec}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func ptr(v float64) *float64 { return &v }

// Package confidence fuses the advisory signals gathered for a sample into a
// single score in [0, 1]. The score is recorded with stored versions and
// reported to callers; it does not decide acceptance on its own.
package confidence

import (
	"math"
	"time"
)

// Signal weights. They sum to 1.
const (
	similarityWeight = 0.55
	deviceWeight     = 0.20
	qualityWeight    = 0.15
	historyWeight    = 0.10
)

const (
	// fullDuration is where the duration score saturates.
	fullDuration = 30 * time.Second

	// fullSNRDB is where the SNR score saturates.
	fullSNRDB = 30.0

	// fullHistory is the number of references at which history stops
	// adding confidence.
	fullHistory = 5

	// SoftFailPenalty multiplies confidence when the quality gate fails.
	SoftFailPenalty = 0.6
)

// Signals are the inputs to [Compute].
type Signals struct {
	Duration time.Duration

	// SNRDB may be NaN when unknown; it then scores 0.5.
	SNRDB float64

	// Similarity is the best cosine against stored references.
	Similarity float64

	// DeviceMatch is the fingerprint score in [0, 1].
	DeviceMatch float64

	// HistoryCount is the number of references the sample was checked
	// against.
	HistoryCount int
}

// Compute returns the weighted confidence. It is monotone non-decreasing in
// Similarity and DeviceMatch.
func Compute(s Signals) float64 {
	sim := clamp01((s.Similarity - 0.5) / 0.5)
	device := clamp01(s.DeviceMatch)
	quality := QualityScore(s.Duration, s.SNRDB)
	history := math.Min(1, float64(max(s.HistoryCount, 0))/fullHistory)

	c := similarityWeight*sim + deviceWeight*device + qualityWeight*quality + historyWeight*history
	return clamp01(c)
}

// QualityScore averages the duration and SNR scores.
func QualityScore(d time.Duration, snrDB float64) float64 {
	dur := clamp01(d.Seconds() / fullDuration.Seconds())
	snr := 0.5
	if !math.IsNaN(snrDB) {
		snr = clamp01(snrDB / fullSNRDB)
	}
	return 0.5*dur + 0.5*snr
}

// ApplySoftFail applies [SoftFailPenalty].
func ApplySoftFail(c float64) float64 {
	return c * SoftFailPenalty
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

// Package playback chooses how to voice a speaker at a requested age and
// produces the audio.
//
// [Decide] is a pure function over a profile's version history: it either
// replays a stored recording verbatim, ages a base recording, or reports
// that nothing can be played. [Service] carries out the plan against the
// artifact store, the age transformation engine and an optional neural
// synthesizer.
package playback

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MrWong99/chronovox/internal/age"
	"github.com/MrWong99/chronovox/internal/profile"
)

// Mode is the kind of playback a request resolves to.
type Mode string

// Playback modes.
const (
	ModeRecorded Mode = "RECORDED"
	ModeAged     Mode = "AGED"
	ModeNone     Mode = "NONE"
	ModeError    Mode = "ERROR"
)

// BasePolicy selects the version an aged rendering starts from.
type BasePolicy string

const (
	// PolicyNearestAge picks the version whose speaker age at recording is
	// closest to the target age. Ties go to the most recent version.
	PolicyNearestAge BasePolicy = "nearest_age"

	// PolicyMostRecent always picks the latest version.
	PolicyMostRecent BasePolicy = "most_recent"
)

// DefaultPolicy is the base policy used when none is configured.
const DefaultPolicy = PolicyNearestAge

// ParsePolicy converts a config string to a [BasePolicy]. The empty string
// yields [DefaultPolicy].
func ParsePolicy(s string) (BasePolicy, error) {
	switch BasePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case PolicyNearestAge:
		return PolicyNearestAge, nil
	case PolicyMostRecent:
		return PolicyMostRecent, nil
	}
	return "", fmt.Errorf("playback: unknown base policy %q", s)
}

// Relation of the target age to the base version's age.
const (
	RelationYounger = "younger"
	RelationOlder   = "older"
	RelationSame    = "same"
)

// sameAgeTolerance is how close (in years) two ages must be to count as the
// same age.
const sameAgeTolerance = 0.5

// Reasons reported in a [Plan] or [Result].
const (
	ReasonNoVoice         = "No voice available"
	ReasonRecorded        = "Using real recorded voice"
	ReasonRecordedMissing = "Recorded version missing"
	ReasonAged            = "Age-evolved voice"
	ReasonAgedNeural      = "Age-evolved voice (neural, artifact-free)"
	ReasonBaseMissing     = "Base version missing for aging"
	ReasonSynthFailed     = "Voice synthesis failed"
	ReasonRenderFailed    = "Age rendering failed"
)

// Request is a playback request against one profile.
type Request struct {
	// TargetAge is the requested speaker age in years.
	TargetAge float64

	// VersionID requests a specific stored recording. Zero means none.
	VersionID int64

	// Policy overrides the base policy. Empty means [DefaultPolicy].
	Policy BasePolicy
}

// Plan is the outcome of [Decide].
type Plan struct {
	Mode    Mode
	Version profile.Version

	// SourceAge is the speaker's age when Version was recorded. It is NaN
	// when the date of birth cannot be parsed.
	SourceAge float64

	// Alpha is the distance between target and source age normalized to the
	// supported age range, in [0, 1].
	Alpha float64

	// Relation is one of the Relation constants, empty unless Mode is AGED.
	Relation string

	Reason string
}

// Decide plans playback of p at req. It never fails: an empty history
// yields [ModeNone].
func Decide(p *profile.Profile, req Request) Plan {
	if p == nil || len(p.Versions) == 0 {
		return Plan{Mode: ModeNone, Reason: ReasonNoVoice, SourceAge: math.NaN()}
	}

	if req.VersionID != 0 {
		if v, ok := p.Version(req.VersionID); ok {
			return Plan{
				Mode:      ModeRecorded,
				Version:   v,
				SourceAge: ageAt(p, v.Created),
				Reason:    ReasonRecorded,
			}
		}
	}

	policy := req.Policy
	if policy == "" {
		policy = DefaultPolicy
	}
	base := selectBase(p, req.TargetAge, policy)
	src := ageAt(p, base.Created)

	plan := Plan{
		Mode:      ModeAged,
		Version:   base,
		SourceAge: src,
		Reason:    ReasonAged,
		Relation:  RelationSame,
	}
	if !math.IsNaN(src) {
		d := req.TargetAge - src
		plan.Alpha = math.Min(1, math.Abs(d)/(age.MaxAge-age.MinAge))
		switch {
		case d < -sameAgeTolerance:
			plan.Relation = RelationYounger
		case d > sameAgeTolerance:
			plan.Relation = RelationOlder
		}
	}
	return plan
}

func selectBase(p *profile.Profile, target float64, policy BasePolicy) profile.Version {
	latest, _ := p.Latest()
	if policy == PolicyMostRecent {
		return latest
	}

	best := latest
	bestDist := math.Inf(1)
	// Iterate newest first so ties keep the more recent version.
	for i := len(p.Versions) - 1; i >= 0; i-- {
		v := p.Versions[i]
		a := ageAt(p, v.Created)
		if math.IsNaN(a) {
			return latest
		}
		if d := math.Abs(a - target); d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}

func ageAt(p *profile.Profile, t time.Time) float64 {
	a, err := p.AgeAt(t)
	if err != nil {
		return math.NaN()
	}
	return a
}

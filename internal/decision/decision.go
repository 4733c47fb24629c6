// Package decision is the version decision state machine: the single place
// that turns a verification outcome and a confidence score into an action on
// a speaker's version history.
package decision

import (
	"fmt"
	"time"

	"github.com/MrWong99/chronovox/internal/identity"
)

// Action is what the caller must do with the sample.
type Action string

const (
	ActionCreateBaseline Action = "CREATE_BASELINE"
	ActionCreateVersion  Action = "CREATE_VERSION"
	ActionReject         Action = "REJECT"
)

// Persists reports whether the action appends a version.
func (a Action) Persists() bool {
	return a == ActionCreateBaseline || a == ActionCreateVersion
}

// State is the state the profile's history is in after the decision.
type State string

const (
	StateNoHistory State = "NO_HISTORY"
	StateVerified  State = "VERIFIED"
	StateRejected  State = "REJECTED"
)

// Audit reasons.
const (
	ReasonFirstVoice      = "First voice stored"
	ReasonVerified        = "speaker_verified"
	ReasonSpeakerMismatch = "speaker_mismatch"
	ReasonBelowFloor      = "confidence_below_floor"
)

// Policy holds the tunable decision constants.
type Policy struct {
	// ConfidenceFloor rejects verified samples whose confidence is below it.
	// Zero disables the floor: every verified sample becomes a version.
	ConfidenceFloor float64
}

// DefaultPolicy has no confidence floor.
func DefaultPolicy() Policy { return Policy{} }

// Input is everything [Decide] looks at.
type Input struct {
	// HistoryCount is the number of stored versions.
	HistoryCount int

	// Verification is ignored when HistoryCount is zero.
	Verification identity.Result

	Confidence float64
}

// Decision is the outcome, always carrying an audit reason.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	State  State  `json:"state"`
}

// Decide runs the state machine.
func Decide(in Input, p Policy) Decision {
	if in.HistoryCount == 0 {
		return Decision{Action: ActionCreateBaseline, Reason: ReasonFirstVoice, State: StateNoHistory}
	}
	if !in.Verification.Accepted {
		return Decision{Action: ActionReject, Reason: ReasonSpeakerMismatch, State: StateRejected}
	}
	if p.ConfidenceFloor > 0 && in.Confidence < p.ConfidenceFloor {
		return Decision{
			Action: ActionReject,
			Reason: fmt.Sprintf("%s: %.3f < %.3f", ReasonBelowFloor, in.Confidence, p.ConfidenceFloor),
			State:  StateRejected,
		}
	}
	return Decision{
		Action: ActionCreateVersion,
		Reason: fmt.Sprintf("%s: similarity %.4f", ReasonVerified, in.Verification.BestSimilarity),
		State:  StateVerified,
	}
}

// Clock issues version ids: Unix milliseconds, bumped past the previous id
// when the wall clock has not advanced (or went backwards).
type Clock struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// Next returns an id strictly greater than last.
func (c Clock) Next(last int64) int64 {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return max(now().UnixMilli(), last+1)
}

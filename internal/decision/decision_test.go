package decision

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/chronovox/internal/identity"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	accepted := identity.Result{Accepted: true, BestSimilarity: 0.91, Reason: identity.ReasonAccepted}
	rejected := identity.Result{BestSimilarity: 0.40, Reason: identity.ReasonSpeakerMismatch}

	tests := []struct {
		name       string
		in         Input
		policy     Policy
		wantAction Action
		wantState  State
		wantReason string
	}{
		{
			name:       "empty history is baseline even when unverified",
			in:         Input{Verification: rejected},
			wantAction: ActionCreateBaseline,
			wantState:  StateNoHistory,
			wantReason: ReasonFirstVoice,
		},
		{
			name:       "verified sample becomes version",
			in:         Input{HistoryCount: 1, Verification: accepted, Confidence: 0.2},
			wantAction: ActionCreateVersion,
			wantState:  StateVerified,
			wantReason: ReasonVerified,
		},
		{
			name:       "mismatch rejected",
			in:         Input{HistoryCount: 3, Verification: rejected, Confidence: 0.9},
			wantAction: ActionReject,
			wantState:  StateRejected,
			wantReason: ReasonSpeakerMismatch,
		},
		{
			name:       "floor rejects low confidence",
			in:         Input{HistoryCount: 1, Verification: accepted, Confidence: 0.3},
			policy:     Policy{ConfidenceFloor: 0.5},
			wantAction: ActionReject,
			wantState:  StateRejected,
			wantReason: ReasonBelowFloor,
		},
		{
			name:       "floor passes high confidence",
			in:         Input{HistoryCount: 1, Verification: accepted, Confidence: 0.7},
			policy:     Policy{ConfidenceFloor: 0.5},
			wantAction: ActionCreateVersion,
			wantState:  StateVerified,
			wantReason: ReasonVerified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Decide(tt.in, tt.policy)
			if d.Action != tt.wantAction || d.State != tt.wantState {
				t.Errorf("Decide = %+v, want action %s state %s", d, tt.wantAction, tt.wantState)
			}
			if !strings.HasPrefix(d.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want prefix %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecide_AlwaysReasoned(t *testing.T) {
	t.Parallel()

	for n := range 3 {
		for _, ok := range []bool{true, false} {
			d := Decide(Input{HistoryCount: n, Verification: identity.Result{Accepted: ok}}, DefaultPolicy())
			if d.Reason == "" {
				t.Errorf("history %d accepted %v: empty reason", n, ok)
			}
			if n == 0 && d.Action != ActionCreateBaseline {
				t.Errorf("history 0: action %s, want baseline", d.Action)
			}
		}
	}
}

func TestAction_Persists(t *testing.T) {
	t.Parallel()

	if !ActionCreateBaseline.Persists() || !ActionCreateVersion.Persists() {
		t.Error("create actions must persist")
	}
	if ActionReject.Persists() {
		t.Error("reject must not persist")
	}
}

func TestClock_Next(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1_700_000_000_000)
	c := Clock{Now: func() time.Time { return fixed }}

	if got := c.Next(0); got != fixed.UnixMilli() {
		t.Errorf("Next(0) = %d, want wall clock %d", got, fixed.UnixMilli())
	}
	// Rapid submissions within the same millisecond stay strictly increasing.
	last := c.Next(0)
	for range 5 {
		next := c.Next(last)
		if next <= last {
			t.Fatalf("Next(%d) = %d, not increasing", last, next)
		}
		last = next
	}
	// A clock that went backwards still moves forward.
	if got := c.Next(fixed.UnixMilli() + 1000); got != fixed.UnixMilli()+1001 {
		t.Errorf("Next after clock skew = %d", got)
	}
}

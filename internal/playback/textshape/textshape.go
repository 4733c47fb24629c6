// Package textshape rewrites playback text so that it sounds like something a
// speaker of the target age would say. [Rules] is a fixed rule set; [LLM]
// asks an OpenAI-compatible chat model and falls back to the rules on error.
package textshape

import (
	"context"
	"strings"
)

// Shaper rewrites text for a target age.
type Shaper interface {
	Shape(ctx context.Context, text string, age float64) (string, error)
}

// Age bounds for the rule shaper.
const (
	ChildMaxAge = 8
	ElderMinAge = 70
)

var _ Shaper = Rules{}

// Rules is the deterministic shaper. Children (age ≤ 8) get an exclamatory
// rewrite, elders (age ≥ 70) a reflective tail, everyone else the text
// unchanged.
type Rules struct{}

// Shape implements [Shaper]. It never fails.
func (Rules) Shape(_ context.Context, text string, age float64) (string, error) {
	switch {
	case age <= ChildMaxAge:
		return "Hi! " + strings.ReplaceAll(text, ".", "! ") + " I like talking. ", nil
	case age >= ElderMinAge:
		return text + " ... I have lived a long life.", nil
	}
	return text, nil
}

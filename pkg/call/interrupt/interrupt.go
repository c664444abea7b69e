// Package interrupt flags caller-initiated interruption and reschedule
// signals in transcript fragments. It mirrors the intent classifier's shape
// but stays narrow: callers depend on the Classifier interface, not the
// pattern implementation.
package interrupt

import (
	"regexp"
	"time"
)

// Signal is one detected interruption cue.
type Signal struct {
	Kind        string
	Confidence  float64
	Instruction string
	Timestamp   time.Time
}

// Classifier detects interruption signals in a caller transcript fragment.
type Classifier interface {
	Classify(text string) (Signal, bool)
}

type pattern struct {
	kind        string
	re          *regexp.Regexp
	weight      float64
	instruction string
}

// PatternClassifier is the default regexp-backed implementation.
type PatternClassifier struct {
	patterns []pattern
	now      func() time.Time
}

func NewPatternClassifier(now func() time.Time) *PatternClassifier {
	if now == nil {
		now = time.Now
	}
	return &PatternClassifier{now: now, patterns: []pattern{
		{
			kind:        "stop_talking",
			re:          regexp.MustCompile(`(?i)\b(stop|wait|hold on|hang on|let me (talk|speak|finish))\b`),
			weight:      0.9,
			instruction: "The caller interrupted you. Stop speaking immediately and let them finish.",
		},
		{
			kind:        "reschedule",
			re:          regexp.MustCompile(`(?i)\b(call (me )?back|another time|not a good time|busy right now|in a meeting)\b`),
			weight:      0.8,
			instruction: "The caller asked to talk another time. Offer to call back and confirm a time.",
		},
	}}
}

// Classify returns the first matching signal. Single-match semantics are
// intentional: an interruption cue needs one reaction, not a ranking.
func (c *PatternClassifier) Classify(text string) (Signal, bool) {
	for _, p := range c.patterns {
		if p.re.MatchString(text) {
			return Signal{
				Kind:        p.kind,
				Confidence:  p.weight,
				Instruction: p.instruction,
				Timestamp:   c.now(),
			}, true
		}
	}
	return Signal{}, false
}

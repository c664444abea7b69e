// Package intent classifies caller transcript fragments into prioritized
// intent categories that drive live agent instructions.
package intent

import (
	"sort"
	"time"
)

const defaultLogLimit = 50

// Detection is one matched intent category for a transcript fragment.
type Detection struct {
	Name         string    `json:"name"`
	Priority     int       `json:"priority"`
	Confidence   float64   `json:"confidence"`
	Instructions string    `json:"-"`
	Timestamp    time.Time `json:"timestamp"`
}

// Result reports the outcome of classifying one fragment.
type Result struct {
	// Detected holds every category whose pattern-match count met the
	// minimum, sorted by priority then confidence, both descending.
	Detected []Detection
	// Ambiguous is set when the top two candidates' confidence differs by
	// less than the configured threshold. It annotates the result and never
	// blocks the primary-intent update.
	Ambiguous bool
	// PrimaryChanged is set when this call replaced the stored primary.
	PrimaryChanged bool
}

// Config tunes classification. Zero values take the documented defaults.
type Config struct {
	// MinimumMatches is the number of category patterns a fragment must hit
	// before the category counts as detected. Default 1.
	MinimumMatches int
	// AmbiguityThreshold is the confidence gap under which the top two
	// candidates are flagged ambiguous. Default 0.2.
	AmbiguityThreshold float64
	// LogLimit bounds the per-call classification log. Default 50.
	LogLimit int
}

func (c Config) withDefaults() Config {
	if c.MinimumMatches <= 0 {
		c.MinimumMatches = 1
	}
	if c.AmbiguityThreshold <= 0 {
		c.AmbiguityThreshold = 0.2
	}
	if c.LogLimit <= 0 {
		c.LogLimit = defaultLogLimit
	}
	return c
}

// LogEntry is one bounded-log record of a classification call.
type LogEntry struct {
	Text      string
	Detected  []string
	Timestamp time.Time
}

// Classifier holds per-call intent state. It is single-writer: only the
// call's relay task invokes it.
type Classifier struct {
	catalog Catalog
	cfg     Config
	now     func() time.Time

	detected map[string]Detection
	primary  *Detection
	log      []LogEntry
}

func NewClassifier(catalog Catalog, cfg Config, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{
		catalog:  catalog,
		cfg:      cfg.withDefaults(),
		now:      now,
		detected: make(map[string]Detection),
	}
}

// Classify evaluates one transcript fragment against the catalog and applies
// the primary-intent update rule. Classifying the same text twice yields the
// same detected set; only the primary transition is order-dependent.
func (c *Classifier) Classify(text string) Result {
	now := c.now()
	var candidates []Detection
	for _, cat := range c.catalog.Categories {
		matches := 0
		for _, p := range cat.patterns {
			if p.MatchString(text) {
				matches++
			}
		}
		if matches < c.cfg.MinimumMatches {
			continue
		}
		denom := len(cat.patterns)
		if denom > 3 {
			denom = 3
		}
		confidence := float64(matches) / float64(denom)
		if confidence > 1.0 {
			confidence = 1.0
		}
		candidates = append(candidates, Detection{
			Name:         cat.Name,
			Priority:     cat.Priority,
			Confidence:   confidence,
			Instructions: cat.Instructions,
			Timestamp:    now,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})

	res := Result{Detected: candidates}
	if len(candidates) >= 2 {
		gap := candidates[0].Confidence - candidates[1].Confidence
		if gap < c.cfg.AmbiguityThreshold {
			res.Ambiguous = true
		}
	}

	names := make([]string, 0, len(candidates))
	for _, d := range candidates {
		c.detected[d.Name] = d
		names = append(names, d.Name)
	}
	c.appendLog(LogEntry{Text: text, Detected: names, Timestamp: now})

	if len(candidates) > 0 {
		res.PrimaryChanged = c.updatePrimary(candidates[0])
	}
	return res
}

// Apply records a pre-built detection (external-criteria variant) under the
// same primary-update rule.
func (c *Classifier) Apply(d Detection) Result {
	if d.Timestamp.IsZero() {
		d.Timestamp = c.now()
	}
	c.detected[d.Name] = d
	c.appendLog(LogEntry{Detected: []string{d.Name}, Timestamp: d.Timestamp})
	return Result{
		Detected:       []Detection{d},
		PrimaryChanged: c.updatePrimary(d),
	}
}

// updatePrimary replaces the stored primary only when none is stored yet or
// the candidate's priority strictly exceeds it. Confidence is not compared
// once a primary exists.
func (c *Classifier) updatePrimary(candidate Detection) bool {
	if c.primary == nil || candidate.Priority > c.primary.Priority {
		d := candidate
		c.primary = &d
		return true
	}
	return false
}

// Primary returns the current primary intent, if any.
func (c *Classifier) Primary() (Detection, bool) {
	if c.primary == nil {
		return Detection{}, false
	}
	return *c.primary, true
}

// Detected returns every intent seen so far on this call.
func (c *Classifier) Detected() []Detection {
	out := make([]Detection, 0, len(c.detected))
	for _, d := range c.detected {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Log returns the bounded classification log, oldest first.
func (c *Classifier) Log() []LogEntry {
	return append([]LogEntry(nil), c.log...)
}

func (c *Classifier) appendLog(entry LogEntry) {
	c.log = append(c.log, entry)
	if len(c.log) > c.cfg.LogLimit {
		c.log = c.log[len(c.log)-c.cfg.LogLimit:]
	}
}

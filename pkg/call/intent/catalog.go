package intent

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Category defines one intent: its rank, the phrases that signal it, and the
// directive sent to the live agent when it becomes primary.
type Category struct {
	Name         string
	Priority     int
	Patterns     []string
	Instructions string

	patterns []*regexp.Regexp
}

// Catalog is a compiled set of intent categories.
type Catalog struct {
	Categories []Category
}

// Compile builds a catalog from category definitions, compiling every
// pattern case-insensitively.
func Compile(categories []Category) (Catalog, error) {
	out := make([]Category, 0, len(categories))
	for _, cat := range categories {
		if cat.Name == "" {
			return Catalog{}, fmt.Errorf("intent category missing name")
		}
		if len(cat.Patterns) == 0 {
			return Catalog{}, fmt.Errorf("intent category %q has no patterns", cat.Name)
		}
		compiled := make([]*regexp.Regexp, 0, len(cat.Patterns))
		for _, p := range cat.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return Catalog{}, fmt.Errorf("intent category %q pattern %q: %w", cat.Name, p, err)
			}
			compiled = append(compiled, re)
		}
		cat.patterns = compiled
		out = append(out, cat)
	}
	return Catalog{Categories: out}, nil
}

// DefaultCatalog returns the built-in intent categories for outbound
// follow-up calls.
func DefaultCatalog() Catalog {
	catalog, err := Compile(defaultCategories())
	if err != nil {
		// Built-in patterns are fixed literals; a compile failure is a
		// programming error.
		panic(err)
	}
	return catalog
}

func defaultCategories() []Category {
	return []Category{
		{
			Name:     "wrong_person",
			Priority: 100,
			Patterns: []string{
				`wrong (person|number)`,
				`no one (here )?by that name`,
				`i('m| am) not (him|her|them|that person)`,
				`you have the wrong`,
			},
			Instructions: "You are speaking with the wrong person. Apologize briefly, confirm who you reached, and end the call politely without sharing any details.",
		},
		{
			Name:     "do_not_call",
			Priority: 95,
			Patterns: []string{
				`do ?n.t call( me)? again`,
				`stop calling`,
				`take me off (your|the) list`,
				`remove (me|my number)`,
			},
			Instructions: "The caller asked not to be contacted. Acknowledge the request, confirm their number will be removed, and end the call immediately.",
		},
		{
			Name:     "urgent_assistance",
			Priority: 90,
			Patterns: []string{
				`urgent`,
				`immediately`,
				`emergency`,
				`right away`,
			},
			Instructions: "The caller signaled urgency. Skip pleasantries, address the urgent need directly, and offer to connect them with a person now.",
		},
		{
			Name:     "schedule_callback",
			Priority: 80,
			Patterns: []string{
				`call (me )?back`,
				`(busy|can.t talk) right now`,
				`(later today|tomorrow|next week)`,
				`(another|better) time`,
			},
			Instructions: "The caller wants to reschedule. Agree to a callback, ask for a preferred time, confirm it back to them, and close the call.",
		},
		{
			Name:     "not_interested",
			Priority: 70,
			Patterns: []string{
				`not interested`,
				`no,? thank(s| you)`,
				`stop bothering`,
				`don.t need (this|it|anything)`,
			},
			Instructions: "The caller declined. Do not push back. Thank them for their time and end the call courteously.",
		},
		{
			Name:     "needs_more_info",
			Priority: 60,
			Patterns: []string{
				`(tell|send) me more`,
				`what('s| is) this (about|regarding)`,
				`more (information|details)`,
				`how does (this|it) work`,
			},
			Instructions: "The caller wants details. Give a concise explanation, check for understanding, and offer to send written information.",
		},
		{
			Name:     "positive_interest",
			Priority: 50,
			Patterns: []string{
				`(yes|yeah),? i('m| am) interested`,
				`sounds (good|great)`,
				`sign me up`,
				`let('s| us) do (it|that)`,
			},
			Instructions: "The caller is interested. Move to next steps: confirm their details and describe what happens after this call.",
		},
	}
}

type yamlCategory struct {
	Name         string   `yaml:"name"`
	Priority     int      `yaml:"priority"`
	Patterns     []string `yaml:"patterns"`
	Instructions string   `yaml:"instructions"`
}

type yamlCatalog struct {
	Intents []yamlCategory `yaml:"intents"`
}

// CatalogFromYAML parses an operator-provided catalog override.
func CatalogFromYAML(data []byte) (Catalog, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Catalog{}, fmt.Errorf("parse intent catalog: %w", err)
	}
	if len(doc.Intents) == 0 {
		return Catalog{}, fmt.Errorf("intent catalog is empty")
	}
	categories := make([]Category, 0, len(doc.Intents))
	for _, y := range doc.Intents {
		categories = append(categories, Category{
			Name:         y.Name,
			Priority:     y.Priority,
			Patterns:     y.Patterns,
			Instructions: y.Instructions,
		})
	}
	return Compile(categories)
}

package intent

import (
	"testing"
	"time"
)

func testClock() func() time.Time {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base }
}

func TestClassifySingleCategory(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{}, testClock())

	res := c.Classify("please stop calling me")
	if len(res.Detected) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(res.Detected))
	}
	if res.Detected[0].Name != "do_not_call" {
		t.Fatalf("expected do_not_call, got %q", res.Detected[0].Name)
	}
	primary, ok := c.Primary()
	if !ok || primary.Name != "do_not_call" {
		t.Fatalf("expected primary do_not_call, got %+v ok=%v", primary, ok)
	}
}

func TestClassifyWrongPersonScenario(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{}, testClock())

	res := c.Classify("I'm wrong person, you have the wrong number")
	if len(res.Detected) == 0 {
		t.Fatal("expected a detection")
	}
	primary, ok := c.Primary()
	if !ok {
		t.Fatal("expected a primary intent")
	}
	if primary.Name != "wrong_person" {
		t.Fatalf("expected primary wrong_person, got %q", primary.Name)
	}
	if primary.Confidence <= 0 || primary.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", primary.Confidence)
	}
}

func TestPriorityMonotonicity(t *testing.T) {
	// The stored primary must end up as the higher-priority intent no
	// matter which order the detections arrive in.
	orders := [][]string{
		{"i am not interested", "you have the wrong number"},
		{"you have the wrong number", "i am not interested"},
	}
	for _, texts := range orders {
		c := NewClassifier(DefaultCatalog(), Config{}, testClock())
		for _, text := range texts {
			c.Classify(text)
		}
		primary, ok := c.Primary()
		if !ok || primary.Name != "wrong_person" {
			t.Fatalf("order %v: expected primary wrong_person, got %+v ok=%v", texts, primary, ok)
		}
	}
}

func TestPrimaryNotReplacedByEqualPriority(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{}, testClock())
	c.Classify("you have the wrong number")

	res := c.Apply(Detection{Name: "other_high", Priority: 100, Confidence: 1.0})
	if res.PrimaryChanged {
		t.Fatal("equal priority must not replace the primary")
	}
	primary, _ := c.Primary()
	if primary.Name != "wrong_person" {
		t.Fatalf("expected wrong_person to stay primary, got %q", primary.Name)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{}, testClock())

	first := c.Classify("call me back another time")
	second := c.Classify("call me back another time")
	if len(first.Detected) != len(second.Detected) {
		t.Fatalf("detected sets differ: %d vs %d", len(first.Detected), len(second.Detected))
	}
	for i := range first.Detected {
		if first.Detected[i].Name != second.Detected[i].Name {
			t.Fatalf("detection %d differs: %q vs %q", i, first.Detected[i].Name, second.Detected[i].Name)
		}
		if first.Detected[i].Confidence != second.Detected[i].Confidence {
			t.Fatalf("confidence %d differs", i)
		}
	}
}

func TestAmbiguityAnnotation(t *testing.T) {
	catalog, err := Compile([]Category{
		{Name: "a", Priority: 10, Patterns: []string{`alpha`}},
		{Name: "b", Priority: 5, Patterns: []string{`bravo`}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	c := NewClassifier(catalog, Config{}, testClock())

	res := c.Classify("alpha bravo")
	if !res.Ambiguous {
		t.Fatal("expected ambiguity flag for equal confidences")
	}
	// Ambiguity never blocks the primary update.
	primary, ok := c.Primary()
	if !ok || primary.Name != "a" {
		t.Fatalf("expected primary a despite ambiguity, got %+v ok=%v", primary, ok)
	}
}

func TestConfidenceSaturates(t *testing.T) {
	catalog, err := Compile([]Category{
		{Name: "many", Priority: 10, Patterns: []string{`one`, `two`, `three`, `four`, `five`}},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	c := NewClassifier(catalog, Config{}, testClock())

	res := c.Classify("one two three four five")
	if len(res.Detected) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(res.Detected))
	}
	if got := res.Detected[0].Confidence; got != 1.0 {
		t.Fatalf("expected saturated confidence 1.0, got %v", got)
	}
}

func TestBoundedLog(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{LogLimit: 3}, testClock())
	for i := 0; i < 10; i++ {
		c.Classify("hello there")
	}
	if got := len(c.Log()); got != 3 {
		t.Fatalf("expected log bounded to 3, got %d", got)
	}
}

func TestApplyCriteria(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), Config{}, testClock())

	results := c.ApplyCriteria(map[string]bool{
		"is_interested":   true,
		"is_wrong_person": true,
		"unknown_flag":    true,
		"do_not_call":     false,
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 applied criteria, got %d", len(results))
	}
	primary, ok := c.Primary()
	if !ok || primary.Name != "wrong_person" {
		t.Fatalf("expected primary wrong_person, got %+v ok=%v", primary, ok)
	}
	if primary.Confidence != externalConfidence {
		t.Fatalf("expected fixed confidence %v, got %v", externalConfidence, primary.Confidence)
	}
}

func TestCatalogFromYAML(t *testing.T) {
	data := []byte(`
intents:
  - name: custom
    priority: 42
    patterns:
      - "custom phrase"
    instructions: "Do the custom thing."
`)
	catalog, err := CatalogFromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := NewClassifier(catalog, Config{}, testClock())
	res := c.Classify("that Custom Phrase again")
	if len(res.Detected) != 1 || res.Detected[0].Name != "custom" {
		t.Fatalf("expected custom detection, got %+v", res.Detected)
	}
}

func TestCatalogFromYAMLRejectsEmpty(t *testing.T) {
	if _, err := CatalogFromYAML([]byte("intents: []")); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

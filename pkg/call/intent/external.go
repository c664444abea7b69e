package intent

// externalConfidence is the fixed confidence assigned to criteria resolved
// by an external classification service; those arrive pre-classified rather
// than pattern-scored.
const externalConfidence = 0.9

// criterionBinding maps an external service's criterion id onto this
// system's intent names.
type criterionBinding struct {
	intent   string
	priority int
}

var criterionBindings = map[string]criterionBinding{
	"is_wrong_person":   {intent: "wrong_person", priority: 100},
	"do_not_call":       {intent: "do_not_call", priority: 95},
	"wants_callback":    {intent: "schedule_callback", priority: 80},
	"is_not_interested": {intent: "not_interested", priority: 70},
	"is_interested":     {intent: "positive_interest", priority: 50},
}

// ApplyCriteria feeds pre-classified boolean signals through the classifier
// under the standard primary-update rule. Unknown criteria are skipped.
func (c *Classifier) ApplyCriteria(criteria map[string]bool) []Result {
	var results []Result
	for id, met := range criteria {
		if !met {
			continue
		}
		binding, ok := criterionBindings[id]
		if !ok {
			continue
		}
		instructions := ""
		for _, cat := range c.catalog.Categories {
			if cat.Name == binding.intent {
				instructions = cat.Instructions
				break
			}
		}
		results = append(results, c.Apply(Detection{
			Name:         binding.intent,
			Priority:     binding.priority,
			Confidence:   externalConfidence,
			Instructions: instructions,
		}))
	}
	return results
}

package recommendation

import "github.com/labopti/labopti/pkg/sets"

// Selector turns symptoms and age into candidate tests.
type Selector struct {
	store GuidelineStore
}

func NewSelector(store GuidelineStore) *Selector {
	return &Selector{store: store}
}

// Select unions the tests of every mapped symptom with the tests of the
// applicable age bracket. An empty union falls back to the store's default
// test, so the result is never empty.
func (s *Selector) Select(symptoms []string, age int) sets.Set[string] {
	out := sets.New[string]()
	for _, sym := range symptoms {
		out.Union(s.store.TestsForSymptom(sym))
	}
	out.Union(s.store.AgeBracketTests(age))
	if out.Len() == 0 {
		out.Add(s.store.DefaultTest())
	}
	return out
}

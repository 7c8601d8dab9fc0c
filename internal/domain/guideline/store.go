// Package guideline holds the read-only medical guideline knowledge base used
// to map symptoms and age to candidate laboratory tests.
package guideline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/labopti/labopti/pkg/sets"
)

const (
	DefaultTestName     = "CBC"
	DefaultValidityDays = 90

	agePrefix = "above_"
)

// ErrInvalidGuidelines wraps every configuration error found while loading.
var ErrInvalidGuidelines = errors.New("invalid guidelines")

type bracket struct {
	minAge int
	key    string
	tests  sets.Set[string]
	AgeBracket
}

// Store is an immutable, validated view of a guideline document. It is safe
// for concurrent use.
type Store struct {
	defaultTest     string
	defaultValidity int
	tests           map[string]TestInfo
	symptoms        map[string]SymptomMapping
	symptomTests    map[string]sets.Set[string]
	brackets        []bracket // descending by minAge
}

// Load reads a guideline file. Files ending in .yaml or .yml are parsed as
// YAML, everything else as JSON.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read guidelines %s: %w", path, err)
	}
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
	}
	return Parse(data, format)
}

// Parse decodes a guideline document in the given format ("json" or "yaml").
func Parse(data []byte, format string) (*Store, error) {
	var doc Document
	switch format {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidGuidelines, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: decode yaml: %v", ErrInvalidGuidelines, err)
		}
	default:
		return nil, fmt.Errorf("unsupported guideline format %q", format)
	}
	return New(doc)
}

// New validates doc and builds a Store. All problems are reported together;
// nothing is silently repaired.
func New(doc Document) (*Store, error) {
	var problems []string

	s := &Store{
		defaultTest:     DefaultTestName,
		defaultValidity: DefaultValidityDays,
		tests:           make(map[string]TestInfo, len(doc.Tests)),
		symptoms:        make(map[string]SymptomMapping, len(doc.SymptomMappings)),
		symptomTests:    make(map[string]sets.Set[string], len(doc.SymptomMappings)),
	}

	if doc.DefaultTest != nil {
		if p := testNameProblem(*doc.DefaultTest); p != "" {
			problems = append(problems, "default_test "+p)
		}
		s.defaultTest = *doc.DefaultTest
	}
	if doc.DefaultValidityDays != nil {
		if *doc.DefaultValidityDays < 0 {
			problems = append(problems, fmt.Sprintf("default_validity_days must be >= 0, got %d", *doc.DefaultValidityDays))
		}
		s.defaultValidity = *doc.DefaultValidityDays
	}

	for name, info := range doc.Tests {
		if strings.TrimSpace(name) == "" {
			problems = append(problems, "test with empty name")
			continue
		}
		if p := testNameProblem(name); p != "" {
			problems = append(problems, fmt.Sprintf("tests.%q %s", name, p))
			continue
		}
		if info.ValidityDays != nil && *info.ValidityDays < 0 {
			problems = append(problems, fmt.Sprintf("tests.%s.validity_days must be >= 0, got %d", name, *info.ValidityDays))
		}
		info.Name = name
		s.tests[name] = info
	}

	for key, mapping := range doc.SymptomMappings {
		norm := normalizeSymptom(key)
		if norm == "" {
			problems = append(problems, "symptom mapping with empty key")
			continue
		}
		if _, dup := s.symptoms[norm]; dup {
			problems = append(problems, fmt.Sprintf("symptom %q defined more than once", norm))
			continue
		}
		for _, t := range mapping.Tests {
			if p := testNameProblem(t); p != "" {
				problems = append(problems, fmt.Sprintf("symptom_mappings.%s test %q %s", key, t, p))
			}
		}
		s.symptoms[norm] = mapping
		s.symptomTests[norm] = sets.New(mapping.Tests...)
	}

	for key, ab := range doc.AgeSpecific {
		if !strings.HasPrefix(key, agePrefix) {
			problems = append(problems, fmt.Sprintf("age bracket %q must be named above_<age>", key))
			continue
		}
		minAge, err := strconv.Atoi(strings.TrimPrefix(key, agePrefix))
		if err != nil || minAge < 0 {
			problems = append(problems, fmt.Sprintf("age bracket %q has an invalid age", key))
			continue
		}
		for _, t := range ab.AdditionalTests {
			if p := testNameProblem(t); p != "" {
				problems = append(problems, fmt.Sprintf("age_specific_recommendations.%s test %q %s", key, t, p))
			}
		}
		s.brackets = append(s.brackets, bracket{minAge: minAge, key: key, tests: sets.New(ab.AdditionalTests...), AgeBracket: ab})
	}
	sort.Slice(s.brackets, func(i, j int) bool { return s.brackets[i].minAge > s.brackets[j].minAge })

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%w: %s", ErrInvalidGuidelines, strings.Join(problems, "; "))
	}
	return s, nil
}

// testNameProblem describes why name cannot be used as a test name, or
// returns "". Test names are matched exactly against history, so surrounding
// whitespace is an error rather than something to trim.
func testNameProblem(name string) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "is an empty test name"
	case strings.TrimSpace(name) != name:
		return "has surrounding whitespace"
	}
	return ""
}

func normalizeSymptom(symptom string) string {
	return strings.ToLower(strings.TrimSpace(symptom))
}

// TestsForSymptom returns the tests mapped to symptom, matched
// case-insensitively. Unknown symptoms yield an empty set. The caller owns
// the returned set.
func (s *Store) TestsForSymptom(symptom string) sets.Set[string] {
	tests, ok := s.symptomTests[normalizeSymptom(symptom)]
	if !ok {
		return sets.New[string]()
	}
	return tests.Clone()
}

// SymptomReasoning returns the guideline rationale for a symptom, or "".
func (s *Store) SymptomReasoning(symptom string) string {
	return s.symptoms[normalizeSymptom(symptom)].Reasoning
}

// ValidityDays returns how many days a result for testName stays current.
// Tests missing from the knowledge base, or without an explicit window, get
// the document default.
func (s *Store) ValidityDays(testName string) int {
	info, ok := s.tests[testName]
	if !ok || info.ValidityDays == nil {
		return s.defaultValidity
	}
	return *info.ValidityDays
}

// AgeBracketTests returns the tests of the single bracket with the highest
// threshold not above age. Brackets are never combined.
func (s *Store) AgeBracketTests(age int) sets.Set[string] {
	if b, ok := s.bracketFor(age); ok {
		return b.tests.Clone()
	}
	return sets.New[string]()
}

// AgeBracketReasoning returns the rationale of the bracket applying to age.
func (s *Store) AgeBracketReasoning(age int) string {
	if b, ok := s.bracketFor(age); ok {
		return b.Reasoning
	}
	return ""
}

func (s *Store) bracketFor(age int) (bracket, bool) {
	for _, b := range s.brackets {
		if age >= b.minAge {
			return b, true
		}
	}
	return bracket{}, false
}

// DefaultTest is the baseline panel used when nothing else applies.
func (s *Store) DefaultTest() string { return s.defaultTest }

func (s *Store) TestInfo(name string) (TestInfo, bool) {
	info, ok := s.tests[name]
	return info, ok
}

// NormalRange returns the reference range of a parameter, resolving
// gender-specific ranges when gender is given.
func (s *Store) NormalRange(testName, parameter, gender string) string {
	info, ok := s.tests[testName]
	if !ok {
		return "No reference range available"
	}
	r, ok := info.NormalRanges[parameter]
	if !ok {
		return ""
	}
	if len(r.ByGender) > 0 {
		if gender == "" {
			return ""
		}
		return r.ByGender[strings.ToLower(gender)]
	}
	return r.Value
}

func (s *Store) TestNames() []string {
	names := make([]string, 0, len(s.tests))
	for n := range s.tests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Symptoms returns the normalized symptom keys in sorted order.
func (s *Store) Symptoms() []string {
	out := make([]string, 0, len(s.symptoms))
	for k := range s.symptoms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

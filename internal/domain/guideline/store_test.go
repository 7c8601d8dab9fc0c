package guideline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const sampleJSON = `{
  "tests": {
    "CBC": {"full_name": "Complete Blood Count", "validity_days": 90,
            "normal_ranges": {"Hemoglobin": {"male": "13.5-17.5 g/dL", "female": "12.0-15.5 g/dL"},
                              "WBC": "4.5-11.0 x10^9/L"}},
    "CRP": {"full_name": "C-Reactive Protein", "validity_days": 30},
    "Lipid Panel": {"full_name": "Lipid Profile"},
    "HbA1c": {"validity_days": 0}
  },
  "symptom_mappings": {
    "Fever": {"tests": ["CBC", "CRP"], "reasoning": "Infection screen"},
    "fatigue": {"tests": ["CBC", "TSH"]}
  },
  "age_specific_recommendations": {
    "above_40": {"additional_tests": ["Lipid Panel"], "reasoning": "Cardiovascular risk"},
    "above_50": {"additional_tests": ["HbA1c", "PSA"], "reasoning": "Screening"}
  }
}`

func mustParse(t *testing.T, data, format string) *Store {
	t.Helper()
	s, err := Parse([]byte(data), format)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return s
}

func TestStore_TestsForSymptom(t *testing.T) {
	s := mustParse(t, sampleJSON, "json")

	tests := []struct {
		symptom string
		want    []string
	}{
		{"fever", []string{"CBC", "CRP"}},
		{"  FEVER ", []string{"CBC", "CRP"}},
		{"Fatigue", []string{"CBC", "TSH"}},
		{"headache", []string{}},
	}
	for _, tt := range tests {
		got := s.TestsForSymptom(tt.symptom).Sorted()
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("TestsForSymptom(%q) mismatch (-want +got):\n%s", tt.symptom, diff)
		}
	}
}

func TestStore_ValidityDays(t *testing.T) {
	s := mustParse(t, sampleJSON, "json")

	cases := map[string]int{
		"CBC":         90,
		"CRP":         30,
		"Lipid Panel": DefaultValidityDays,
		"HbA1c":       0,
		"Unknown":     DefaultValidityDays,
	}
	for name, want := range cases {
		if got := s.ValidityDays(name); got != want {
			t.Errorf("ValidityDays(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestStore_AgeBracketTests(t *testing.T) {
	s := mustParse(t, sampleJSON, "json")

	tests := []struct {
		age  int
		want []string
	}{
		{0, []string{}},
		{39, []string{}},
		{40, []string{"Lipid Panel"}},
		{49, []string{"Lipid Panel"}},
		{50, []string{"HbA1c", "PSA"}},
		{55, []string{"HbA1c", "PSA"}},
	}
	for _, tt := range tests {
		got := s.AgeBracketTests(tt.age).Sorted()
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("AgeBracketTests(%d) mismatch (-want +got):\n%s", tt.age, diff)
		}
	}
	if got := s.AgeBracketReasoning(60); got != "Screening" {
		t.Errorf("AgeBracketReasoning(60) = %q", got)
	}
}

func TestStore_ReturnedSetsAreCopies(t *testing.T) {
	s := mustParse(t, `{
		"symptom_mappings": {"fever": {"tests": ["CBC", "CRP"]}},
		"age_specific_recommendations": {"above_40": {"additional_tests": ["Lipid Panel"]}}
	}`, "json")

	s.TestsForSymptom("fever").Add("TSH")
	s.AgeBracketTests(45).Add("TSH")

	if s.TestsForSymptom("fever").Has("TSH") {
		t.Error("mutating the symptom set changed the store")
	}
	if s.AgeBracketTests(45).Has("TSH") {
		t.Error("mutating the bracket set changed the store")
	}
}

func TestStore_Defaults(t *testing.T) {
	s := mustParse(t, `{}`, "json")
	if s.DefaultTest() != "CBC" {
		t.Errorf("expected CBC default, got %q", s.DefaultTest())
	}
	if s.ValidityDays("anything") != 90 {
		t.Errorf("expected 90 day default")
	}

	s = mustParse(t, `{"default_test": "BMP", "default_validity_days": 60}`, "json")
	if s.DefaultTest() != "BMP" || s.ValidityDays("x") != 60 {
		t.Errorf("overrides not applied: %q %d", s.DefaultTest(), s.ValidityDays("x"))
	}
}

func TestStore_NormalRange(t *testing.T) {
	s := mustParse(t, sampleJSON, "json")

	if got := s.NormalRange("CBC", "Hemoglobin", "Female"); got != "12.0-15.5 g/dL" {
		t.Errorf("got %q", got)
	}
	if got := s.NormalRange("CBC", "Hemoglobin", ""); got != "" {
		t.Errorf("gendered range without gender should be empty, got %q", got)
	}
	if got := s.NormalRange("CBC", "WBC", "male"); got != "4.5-11.0 x10^9/L" {
		t.Errorf("got %q", got)
	}
	if got := s.NormalRange("Nope", "WBC", ""); got != "No reference range available" {
		t.Errorf("got %q", got)
	}
}

func TestNew_RejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"negative test validity", `{"tests": {"CBC": {"validity_days": -1}}}`, "tests.CBC.validity_days"},
		{"negative default validity", `{"default_validity_days": -5}`, "default_validity_days"},
		{"empty default test", `{"default_test": " "}`, "default_test"},
		{"bad bracket key", `{"age_specific_recommendations": {"over_40": {"additional_tests": ["X"]}}}`, "over_40"},
		{"bad bracket age", `{"age_specific_recommendations": {"above_abc": {"additional_tests": ["X"]}}}`, "above_abc"},
		{"duplicate symptom", `{"symptom_mappings": {"Fever": {"tests": ["CBC"]}, "fever": {"tests": ["CRP"]}}}`, "more than once"},
		{"empty mapped test", `{"symptom_mappings": {"fever": {"tests": [""]}}}`, "empty test name"},
		{"untrimmed mapped test", `{"symptom_mappings": {"fever": {"tests": [" CBC"]}}}`, "surrounding whitespace"},
		{"untrimmed bracket test", `{"age_specific_recommendations": {"above_40": {"additional_tests": ["TSH "]}}}`, "surrounding whitespace"},
		{"untrimmed test key", `{"tests": {"CRP ": {"validity_days": 30}}}`, "surrounding whitespace"},
		{"untrimmed default test", `{"default_test": " CBC"}`, "default_test"},
		{"malformed json", `{"tests": [`, "decode json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "json")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidGuidelines) {
				t.Errorf("expected ErrInvalidGuidelines, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestNew_CollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`{"default_validity_days": -1, "tests": {"CRP": {"validity_days": -2}}}`), "json")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"default_validity_days", "tests.CRP"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_YAML(t *testing.T) {
	const doc = `
default_test: CBC
tests:
  CBC:
    full_name: Complete Blood Count
    validity_days: 90
    normal_ranges:
      Hemoglobin:
        male: 13.5-17.5 g/dL
        female: 12.0-15.5 g/dL
      Platelets: 150-400 x10^9/L
symptom_mappings:
  fever:
    tests: [CBC, CRP]
age_specific_recommendations:
  above_50:
    additional_tests: [HbA1c]
`
	path := filepath.Join(t.TempDir(), "guidelines.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff([]string{"CBC", "CRP"}, s.TestsForSymptom("Fever").Sorted()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got := s.NormalRange("CBC", "Hemoglobin", "male"); got != "13.5-17.5 g/dL" {
		t.Errorf("got %q", got)
	}
	if got := s.NormalRange("CBC", "Platelets", ""); got != "150-400 x10^9/L" {
		t.Errorf("got %q", got)
	}
	info, ok := s.TestInfo("CBC")
	if !ok || info.Name != "CBC" || info.FullName != "Complete Blood Count" {
		t.Errorf("unexpected test info %+v", info)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_BundledGuidelines(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "..", "data", "guidelines.json"))
	if err != nil {
		t.Fatalf("bundled guidelines failed to load: %v", err)
	}
	if len(s.TestNames()) == 0 {
		t.Error("expected bundled tests")
	}
	for _, sym := range s.Symptoms() {
		if s.TestsForSymptom(sym).Len() == 0 {
			t.Errorf("symptom %q maps to no tests", sym)
		}
	}
}

package guideline

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// TestInfo describes one laboratory test in the knowledge base.
type TestInfo struct {
	Name                string                 `json:"name" yaml:"-"`
	FullName            string                 `json:"full_name,omitempty" yaml:"full_name"`
	Description         string                 `json:"description,omitempty" yaml:"description"`
	Indications         string                 `json:"indications,omitempty" yaml:"indications"`
	InterpretationGuide string                 `json:"interpretation_guide,omitempty" yaml:"interpretation_guide"`
	ValidityDays        *int                   `json:"validity_days,omitempty" yaml:"validity_days"`
	NormalRanges        map[string]NormalRange `json:"normal_ranges,omitempty" yaml:"normal_ranges"`
}

// SymptomMapping lists the tests indicated by a symptom.
type SymptomMapping struct {
	Tests     []string `json:"tests" yaml:"tests"`
	Reasoning string   `json:"reasoning,omitempty" yaml:"reasoning"`
}

// AgeBracket lists tests added for patients at or above an age threshold.
type AgeBracket struct {
	AdditionalTests []string `json:"additional_tests" yaml:"additional_tests"`
	Reasoning       string   `json:"reasoning,omitempty" yaml:"reasoning"`
}

// Document is the on-disk layout of a guideline file.
type Document struct {
	DefaultTest         *string                   `json:"default_test,omitempty" yaml:"default_test"`
	DefaultValidityDays *int                      `json:"default_validity_days,omitempty" yaml:"default_validity_days"`
	Tests               map[string]TestInfo       `json:"tests" yaml:"tests"`
	SymptomMappings     map[string]SymptomMapping `json:"symptom_mappings" yaml:"symptom_mappings"`
	AgeSpecific         map[string]AgeBracket     `json:"age_specific_recommendations" yaml:"age_specific_recommendations"`
}

// NormalRange is either a single range string or a per-gender map.
type NormalRange struct {
	Value    string
	ByGender map[string]string
}

func (n NormalRange) String() string {
	if n.Value != "" || len(n.ByGender) == 0 {
		return n.Value
	}
	b, _ := json.Marshal(n.ByGender)
	return string(b)
}

func (n *NormalRange) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.Value = s
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("normal range must be a string or a gender map: %w", err)
	}
	n.ByGender = m
	return nil
}

func (n NormalRange) MarshalJSON() ([]byte, error) {
	if len(n.ByGender) > 0 {
		return json.Marshal(n.ByGender)
	}
	return json.Marshal(n.Value)
}

func (n *NormalRange) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&n.Value)
	}
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("normal range must be a string or a gender map: %w", err)
	}
	n.ByGender = m
	return nil
}

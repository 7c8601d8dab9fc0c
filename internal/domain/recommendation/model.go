package recommendation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/labopti/labopti/pkg/sets"
)

// Kind tags a Decision as one of the two outcomes of a decision run.
type Kind string

const (
	KindRecommended Kind = "recommended"
	KindSkipped     Kind = "skipped"
)

// ValidityStatus describes whether a prior result still covers a test.
type ValidityStatus string

const (
	StatusValid   ValidityStatus = "valid"
	StatusStale   ValidityStatus = "stale"
	StatusUnknown ValidityStatus = "unknown"
)

// Validity is the outcome of evaluating one candidate against history.
type Validity struct {
	Status       ValidityStatus
	LastDate     *time.Time
	ValidityDays int
}

// Decision is a single recommended or skipped test. Build it with
// NewRecommended or NewSkipped so the kind-specific fields stay consistent.
type Decision struct {
	Kind              Kind           `json:"kind"`
	TestName          string         `json:"test_name"`
	Reason            string         `json:"reason"`
	Status            string         `json:"status,omitempty"`
	LastTestDate      *time.Time     `json:"last_test_date,omitempty"`
	Validity          ValidityStatus `json:"validity"`
	ValidityDays      int            `json:"validity_days"`
	NarrativeDegraded bool           `json:"narrative_degraded,omitempty"`
}

// NewRecommended builds a Recommended decision. It never carries a last
// result date.
func NewRecommended(testName, reason string, v Validity) Decision {
	return Decision{
		Kind:         KindRecommended,
		TestName:     testName,
		Reason:       reason,
		Status:       string(KindRecommended),
		Validity:     v.Status,
		ValidityDays: v.ValidityDays,
	}
}

// NewSkipped builds a Skipped decision carrying the date of the covering
// result.
func NewSkipped(testName, reason string, lastDate time.Time, v Validity) Decision {
	d := lastDate
	return Decision{
		Kind:         KindSkipped,
		TestName:     testName,
		Reason:       reason,
		LastTestDate: &d,
		Validity:     v.Status,
		ValidityDays: v.ValidityDays,
	}
}

func (d Decision) validate() error {
	switch d.Kind {
	case KindRecommended:
		if d.LastTestDate != nil {
			return fmt.Errorf("recommended test %q carries a last test date", d.TestName)
		}
	case KindSkipped:
		if d.LastTestDate == nil {
			return fmt.Errorf("skipped test %q has no last test date", d.TestName)
		}
	default:
		return fmt.Errorf("test %q has unknown decision kind %q", d.TestName, d.Kind)
	}
	return nil
}

// Plan is the ordered result of one decision run.
type Plan struct {
	Decisions []Decision
}

func (p *Plan) Recommended() []Decision { return p.ofKind(KindRecommended) }

func (p *Plan) Skipped() []Decision { return p.ofKind(KindSkipped) }

func (p *Plan) ofKind(k Kind) []Decision {
	out := make([]Decision, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		if d.Kind == k {
			out = append(out, d)
		}
	}
	return out
}

// TestNames returns every test named in the plan, in plan order.
func (p *Plan) TestNames() []string {
	out := make([]string, 0, len(p.Decisions))
	for _, d := range p.Decisions {
		out = append(out, d.TestName)
	}
	return out
}

// Validate checks per-decision consistency and that no test appears twice.
func (p *Plan) Validate() error {
	seen := sets.New[string]()
	for _, d := range p.Decisions {
		if err := d.validate(); err != nil {
			return err
		}
		if seen.Has(d.TestName) {
			return fmt.Errorf("test %q decided more than once", d.TestName)
		}
		seen.Add(d.TestName)
	}
	return nil
}

type planJSON struct {
	Recommended []Decision `json:"recommended_tests"`
	Skipped     []Decision `json:"skipped_tests"`
}

func (p Plan) MarshalJSON() ([]byte, error) {
	out := planJSON{Recommended: []Decision{}, Skipped: []Decision{}}
	for _, d := range p.Decisions {
		switch d.Kind {
		case KindRecommended:
			out.Recommended = append(out.Recommended, d)
		case KindSkipped:
			out.Skipped = append(out.Skipped, d)
		default:
			return nil, fmt.Errorf("marshal plan: unknown decision kind %q", d.Kind)
		}
	}
	return json.Marshal(out)
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var in planJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Decisions = make([]Decision, 0, len(in.Recommended)+len(in.Skipped))
	for _, d := range in.Recommended {
		d.Kind = KindRecommended
		p.Decisions = append(p.Decisions, d)
	}
	for _, d := range in.Skipped {
		d.Kind = KindSkipped
		p.Decisions = append(p.Decisions, d)
	}
	return p.Validate()
}

// Narrative is the outcome of asking the explanation generator for text.
// A degraded narrative carries deterministic fallback text and the cause.
type Narrative struct {
	Text  string
	Cause error
}

func Success(text string) Narrative { return Narrative{Text: text} }

func Degraded(fallback string, cause error) Narrative {
	return Narrative{Text: fallback, Cause: cause}
}

func (n Narrative) IsDegraded() bool { return n.Cause != nil }

// Parameter is one measured value of a lab result. IsAbnormal is set by the
// uploader and is never recomputed here.
type Parameter struct {
	Name           string  `json:"name"`
	Value          float64 `json:"value"`
	Unit           string  `json:"unit"`
	ReferenceRange string  `json:"reference_range"`
	IsAbnormal     bool    `json:"is_abnormal"`
}

type LabResult struct {
	TestName   string      `json:"test_name"`
	TestDate   time.Time   `json:"test_date"`
	Parameters []Parameter `json:"parameters"`
}

type Interpretation struct {
	PatientFriendly  string `json:"patient_friendly"`
	ClinicianSummary string `json:"clinician_summary"`
}

// Outcome records how an interpretation was produced.
type Outcome string

const (
	OutcomeCanned    Outcome = "canned"
	OutcomeGenerated Outcome = "generated"
	OutcomeDegraded  Outcome = "degraded"
)

// TestInterpretation is the interpretation of a single uploaded test.
type TestInterpretation struct {
	TestName       string
	Interpretation Interpretation
	Outcome        Outcome
}

// CombineInterpretations labels each interpretation with its test name and
// joins them in the given order.
func CombineInterpretations(items []TestInterpretation) Interpretation {
	patient := make([]string, 0, len(items))
	clinician := make([]string, 0, len(items))
	for _, it := range items {
		patient = append(patient, fmt.Sprintf("**%s**: %s", it.TestName, it.Interpretation.PatientFriendly))
		clinician = append(clinician, fmt.Sprintf("**%s**: %s", it.TestName, it.Interpretation.ClinicianSummary))
	}
	return Interpretation{
		PatientFriendly:  strings.Join(patient, "\n\n"),
		ClinicianSummary: strings.Join(clinician, "\n\n"),
	}
}

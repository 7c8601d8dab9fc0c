package patient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/labopti/labopti/internal/domain/recommendation"
)

var (
	ErrNotFound         = errors.New("patient not found")
	ErrVisitNotFound    = errors.New("visit not found")
	ErrInvalidProfile   = errors.New("invalid profile")
	ErrInvalidLabResult = errors.New("invalid lab result")
)

// Profile is the demographic part of a patient record.
type Profile struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

func (p *Profile) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.Age < 0 {
		return fmt.Errorf("%w: age must be a non-negative integer", ErrInvalidProfile)
	}
	return nil
}

type Patient struct {
	ID        uuid.UUID `json:"patient_id"`
	Profile   Profile   `json:"profile"`
	Visits    []*Visit  `json:"visits,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Visit is one encounter: the symptoms presented, the decision plan made for
// them and, once uploaded, the lab results with their combined interpretation.
type Visit struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	Seq            int64
	Date           time.Time
	Symptoms       []string
	Plan           recommendation.Plan
	LabResults     []recommendation.LabResult
	Interpretation *recommendation.Interpretation
}

type visitJSON struct {
	ID               uuid.UUID                      `json:"visit_id"`
	PatientID        uuid.UUID                      `json:"patient_id"`
	Date             time.Time                      `json:"date"`
	Symptoms         []string                       `json:"symptoms"`
	RecommendedTests []recommendation.Decision      `json:"recommended_tests"`
	SkippedTests     []recommendation.Decision      `json:"skipped_tests"`
	LabResults       []recommendation.LabResult     `json:"lab_results"`
	Interpretation   *recommendation.Interpretation `json:"interpretations,omitempty"`
}

func (v Visit) MarshalJSON() ([]byte, error) {
	plan := v.Plan
	out := visitJSON{
		ID:               v.ID,
		PatientID:        v.PatientID,
		Date:             v.Date,
		Symptoms:         orEmpty(v.Symptoms),
		RecommendedTests: plan.Recommended(),
		SkippedTests:     plan.Skipped(),
		LabResults:       orEmpty(v.LabResults),
		Interpretation:   v.Interpretation,
	}
	return json.Marshal(out)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// validateLabResults rejects uploads that could not later be matched against
// history: every result needs a test name and a collection date.
func validateLabResults(results []recommendation.LabResult) error {
	if len(results) == 0 {
		return recommendation.ErrNoResults
	}
	for i, r := range results {
		if strings.TrimSpace(r.TestName) == "" {
			return fmt.Errorf("%w: result %d has no test_name", ErrInvalidLabResult, i)
		}
		if r.TestDate.IsZero() {
			return fmt.Errorf("%w: result %d (%s) has no test_date", ErrInvalidLabResult, i, r.TestName)
		}
	}
	return nil
}

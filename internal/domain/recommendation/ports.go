package recommendation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/labopti/labopti/pkg/sets"
)

// GuidelineStore is the read-only knowledge base consulted by the selector
// and the validity evaluator.
type GuidelineStore interface {
	TestsForSymptom(symptom string) sets.Set[string]
	ValidityDays(testName string) int
	AgeBracketTests(age int) sets.Set[string]
	DefaultTest() string
}

// HistoryLookup returns the date of the most recent recorded result of a
// test for a patient, or nil when there is none.
type HistoryLookup interface {
	LastResultDate(ctx context.Context, patientID uuid.UUID, testName string) (*time.Time, error)
}

// RecommendRequest is the input to a recommendation narrative.
type RecommendRequest struct {
	TestName string
	Symptoms []string
	Age      int
	Gender   string
}

// Explainer produces narratives. Implementations never fail: they return a
// Degraded narrative carrying fallback text instead.
type Explainer interface {
	ExplainRecommendation(ctx context.Context, req RecommendRequest) Narrative
	ExplainSkip(ctx context.Context, testName string, lastDate time.Time, validityDays int) Narrative
	ExplainInterpretation(ctx context.Context, testName string, abnormal []Parameter) (patient, clinician Narrative)
}

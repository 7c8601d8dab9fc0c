package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labopti/labopti/internal/domain/recommendation"
)

// Template is an offline explainer that renders narratives from guideline
// reasoning text. It is used when no model endpoint is configured.
type Template struct {
	guidelines Guidelines
}

var _ recommendation.Explainer = (*Template)(nil)

func NewTemplate(g Guidelines) *Template {
	return &Template{guidelines: g}
}

func (t *Template) ExplainRecommendation(_ context.Context, req recommendation.RecommendRequest) recommendation.Narrative {
	var reasons []string
	for _, s := range req.Symptoms {
		if !t.guidelines.TestsForSymptom(s).Has(req.TestName) {
			continue
		}
		if r := t.guidelines.SymptomReasoning(s); r != "" {
			reasons = append(reasons, r)
		}
	}
	if t.guidelines.AgeBracketTests(req.Age).Has(req.TestName) {
		if r := t.guidelines.AgeBracketReasoning(req.Age); r != "" {
			reasons = append(reasons, r)
		}
	}
	if len(reasons) == 0 {
		return recommendation.Success(recommendation.RecommendFallback(req.TestName))
	}
	return recommendation.Success(fmt.Sprintf("%s is recommended. %s", displayName(t.guidelines, req.TestName), strings.Join(reasons, " ")))
}

func (t *Template) ExplainSkip(_ context.Context, _ string, lastDate time.Time, validityDays int) recommendation.Narrative {
	return recommendation.Success(recommendation.SkipFallback(lastDate, validityDays))
}

func (t *Template) ExplainInterpretation(_ context.Context, testName string, abnormal []recommendation.Parameter) (recommendation.Narrative, recommendation.Narrative) {
	names := make([]string, 0, len(abnormal))
	for _, p := range abnormal {
		names = append(names, p.Name)
	}
	patient := fmt.Sprintf("%d value(s) in your %s are outside the normal range: %s. Please discuss these results with your doctor.",
		len(abnormal), displayName(t.guidelines, testName), strings.Join(names, ", "))

	clinician := "Abnormal findings:\n" + abnormalSummary(abnormal)
	if info, ok := t.guidelines.TestInfo(testName); ok && info.InterpretationGuide != "" {
		clinician += "\nGuideline: " + info.InterpretationGuide
	}
	return recommendation.Success(patient), recommendation.Success(clinician)
}

func displayName(g Guidelines, testName string) string {
	if info, ok := g.TestInfo(testName); ok && info.FullName != "" {
		return fmt.Sprintf("%s (%s)", info.FullName, testName)
	}
	return testName
}

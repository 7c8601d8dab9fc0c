package llm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labopti/labopti/internal/domain/recommendation"
)

const (
	systemRecommend = "You are a medical assistant explaining lab test recommendations to patients."
	systemSkip      = "You are a medical assistant explaining to patients why lab tests can be skipped."
	systemPatient   = "You are a medical assistant explaining lab results to patients in simple language."
	systemClinician = "You are providing technical medical summaries for clinicians."
)

// testContext renders the guideline entry for a test. withRanges adds the
// reference ranges used when interpreting results.
func testContext(g Guidelines, testName string, withRanges bool) string {
	info, ok := g.TestInfo(testName)
	if !ok {
		return fmt.Sprintf("No guideline information available for %s", testName)
	}
	name := info.FullName
	if name == "" {
		name = testName
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Test Name: %s\n", name)
	fmt.Fprintf(&sb, "Description: %s\n", info.Description)
	fmt.Fprintf(&sb, "Indications: %s\n", info.Indications)
	fmt.Fprintf(&sb, "Interpretation Guide: %s", info.InterpretationGuide)

	if withRanges && len(info.NormalRanges) > 0 {
		params := make([]string, 0, len(info.NormalRanges))
		for p := range info.NormalRanges {
			params = append(params, p)
		}
		sort.Strings(params)
		sb.WriteString("\nNormal Ranges:")
		for _, p := range params {
			fmt.Fprintf(&sb, "\n- %s: %s", p, info.NormalRanges[p].String())
		}
	}
	return sb.String()
}

func recommendPrompt(g Guidelines, req recommendation.RecommendRequest) string {
	var reasons strings.Builder
	for _, s := range req.Symptoms {
		if r := g.SymptomReasoning(s); r != "" {
			fmt.Fprintf(&reasons, "- %s: %s\n", s, r)
		}
	}
	if g.AgeBracketTests(req.Age).Has(req.TestName) {
		if r := g.AgeBracketReasoning(req.Age); r != "" {
			fmt.Fprintf(&reasons, "- age %d: %s\n", req.Age, r)
		}
	}

	var sb strings.Builder
	sb.WriteString("CONTEXT FROM MEDICAL GUIDELINES:\n")
	sb.WriteString(testContext(g, req.TestName, false))
	sb.WriteString("\n\nSYMPTOM-BASED REASONING:\n")
	sb.WriteString(reasons.String())
	sb.WriteString("\nPATIENT INFORMATION:\n")
	fmt.Fprintf(&sb, "- Age: %d years\n", req.Age)
	fmt.Fprintf(&sb, "- Gender: %s\n", req.Gender)
	fmt.Fprintf(&sb, "- Symptoms: %s\n\n", strings.Join(req.Symptoms, ", "))
	fmt.Fprintf(&sb, "Based STRICTLY on the provided context, explain in 2-3 sentences why %s is recommended for this patient.\n", req.TestName)
	sb.WriteString("Use simple, patient-friendly language. Do not add information beyond the context provided.")
	return sb.String()
}

func skipPrompt(g Guidelines, testName string, lastDate time.Time, validityDays int) string {
	var sb strings.Builder
	sb.WriteString("TEST INFORMATION:\n")
	sb.WriteString(testContext(g, testName, false))
	sb.WriteString("\n\nPATIENT HISTORY:\n")
	fmt.Fprintf(&sb, "- Last %s was done on: %s\n", testName, lastDate.Format("2006-01-02"))
	fmt.Fprintf(&sb, "- Test validity period: %d days\n", validityDays)
	sb.WriteString("- Current recommendation: Skip this test\n\n")
	sb.WriteString("Explain in 2-3 sentences why this test can be skipped based on the recent test history.\n")
	sb.WriteString("Use simple, reassuring language. Mention that the previous test is still valid.")
	return sb.String()
}

// interpretationContext is shared by the patient and clinician prompts.
func interpretationContext(g Guidelines, testName string, abnormal []recommendation.Parameter) string {
	var sb strings.Builder
	sb.WriteString("TEST INFORMATION:\n")
	sb.WriteString(testContext(g, testName, true))
	sb.WriteString("\n\nABNORMAL VALUES:\n")
	sb.WriteString(abnormalSummary(abnormal))
	return sb.String()
}

func abnormalSummary(abnormal []recommendation.Parameter) string {
	lines := make([]string, 0, len(abnormal))
	for _, p := range abnormal {
		lines = append(lines, fmt.Sprintf("- %s: %g %s (Normal: %s)", p.Name, p.Value, p.Unit, p.ReferenceRange))
	}
	return strings.Join(lines, "\n")
}

func patientPrompt(ref string) string {
	return ref + "\n\nProvide a patient-friendly explanation (3-4 sentences) of what these abnormal values mean.\n" +
		"Use simple language, avoid medical jargon. Be reassuring but accurate.\n" +
		"Based STRICTLY on the provided context."
}

func clinicianPrompt(ref string) string {
	return ref + "\n\nProvide a concise clinical summary (3-4 sentences) of the findings and their significance.\n" +
		"Use medical terminology. Suggest possible differential diagnoses if relevant.\n" +
		"Based STRICTLY on the provided context."
}

package recommendation

import (
	"fmt"
	"time"
)

const (
	AllNormalPatient   = "All test values are within normal range. This is a good result."
	AllNormalClinician = "All parameters within reference ranges. No abnormalities detected."

	DegradedPatient = "Some test values are outside the normal range. Please consult your doctor for detailed interpretation."
)

// CannedInterpretation is returned for results without abnormal parameters.
func CannedInterpretation() Interpretation {
	return Interpretation{PatientFriendly: AllNormalPatient, ClinicianSummary: AllNormalClinician}
}

// DegradedInterpretation is returned when narration of abnormal values fails.
func DegradedInterpretation(cause error) Interpretation {
	return Interpretation{
		PatientFriendly:  DegradedPatient,
		ClinicianSummary: fmt.Sprintf("Error generating interpretation: %v", cause),
	}
}

func RecommendFallback(testName string) string {
	return fmt.Sprintf("%s is recommended based on the reported symptoms and current guidelines.", testName)
}

func SkipFallback(lastDate time.Time, validityDays int) string {
	return fmt.Sprintf("Test was recently done on %s and is still valid for %d days.", lastDate.Format("2006-01-02"), validityDays)
}

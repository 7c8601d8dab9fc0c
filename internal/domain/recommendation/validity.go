package recommendation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const day = 24 * time.Hour

// maxWindowDays is the largest window expressible as a time.Duration. Longer
// windows cover any elapsed time, since time.Sub saturates below them.
const maxWindowDays = int(math.MaxInt64 / int64(day))

// Evaluator decides whether a patient's prior result still covers a test.
type Evaluator struct {
	store   GuidelineStore
	history HistoryLookup
}

func NewEvaluator(store GuidelineStore, history HistoryLookup) *Evaluator {
	return &Evaluator{store: store, history: history}
}

func (e *Evaluator) Evaluate(ctx context.Context, patientID uuid.UUID, testName string, now time.Time) (Validity, error) {
	days := e.store.ValidityDays(testName)
	last, err := e.history.LastResultDate(ctx, patientID, testName)
	if err != nil {
		return Validity{}, fmt.Errorf("last result date for %s: %w", testName, err)
	}
	return AssessValidity(last, days, now), nil
}

// AssessValidity applies the validity window to a last result date. A result is
// valid while now-last is strictly below the window; a zero window is never
// valid.
func AssessValidity(last *time.Time, validityDays int, now time.Time) Validity {
	v := Validity{ValidityDays: validityDays, LastDate: last}
	switch {
	case last == nil:
		v.Status = StatusUnknown
	case validityDays <= 0:
		v.Status = StatusStale
	case validityDays > maxWindowDays:
		v.Status = StatusValid
	case now.Sub(*last) < time.Duration(validityDays)*day:
		v.Status = StatusValid
	default:
		v.Status = StatusStale
	}
	return v
}

package patient

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/labopti/labopti/internal/domain/recommendation"
)

// History answers "when was this test last done" from stored visits.
type History struct {
	repo Repository
}

var _ recommendation.HistoryLookup = (*History)(nil)

func NewHistory(repo Repository) *History {
	return &History{repo: repo}
}

func (h *History) LastResultDate(ctx context.Context, patientID uuid.UUID, testName string) (*time.Time, error) {
	visits, err := h.repo.ListVisits(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return LatestResultDate(visits, testName), nil
}

// LatestResultDate walks visits newest-inserted first and, inside a visit,
// results in upload order, returning the collection date of the first result
// for testName. Insertion order decides recency, not the dates themselves.
func LatestResultDate(visits []*Visit, testName string) *time.Time {
	for i := len(visits) - 1; i >= 0; i-- {
		for _, r := range visits[i].LabResults {
			if r.TestName == testName {
				d := r.TestDate
				return &d
			}
		}
	}
	return nil
}

package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/labopti/labopti/internal/domain/recommendation"
)

// Repository persists patients and their visits. Lookups of unknown records
// return ErrNotFound or ErrVisitNotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) error

	// Visits
	AddVisit(ctx context.Context, v *Visit) error
	GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error)
	// ListVisits returns a patient's visits in insertion order.
	ListVisits(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
	AttachLabResults(ctx context.Context, patientID, visitID uuid.UUID, results []recommendation.LabResult, interp recommendation.Interpretation) error
}

package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/db"
)

var ErrInvalidPatch = errors.New("invalid merge patch")

// Decider produces the recommend/skip plan for a visit.
type Decider interface {
	Decide(ctx context.Context, req recommendation.DecideRequest) (*recommendation.Plan, error)
}

// Interpreter classifies uploaded lab results.
type Interpreter interface {
	ClassifyBatch(ctx context.Context, results []recommendation.LabResult) []recommendation.TestInterpretation
}

type Service struct {
	repo        Repository
	tx          db.Beginner
	decider     Decider
	interpreter Interpreter
	now         func() time.Time
	log         zerolog.Logger
}

// NewService wires the patient workflows. tx may be nil, in which case
// multi-step writes run without a surrounding transaction.
func NewService(repo Repository, tx db.Beginner, decider Decider, interpreter Interpreter, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		tx:          tx,
		decider:     decider,
		interpreter: interpreter,
		now:         time.Now,
		log:         logger.With().Str("component", "patient").Logger(),
	}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.tx, fn)
}

// Registration is the outcome of registering a patient with their first visit.
type Registration struct {
	PatientID uuid.UUID
	VisitID   uuid.UUID
	Plan      *recommendation.Plan
}

func (r Registration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PatientID        uuid.UUID                 `json:"patient_id"`
		VisitID          uuid.UUID                 `json:"visit_id"`
		RecommendedTests []recommendation.Decision `json:"recommended_tests"`
		SkippedTests     []recommendation.Decision `json:"skipped_tests"`
	}{r.PatientID, r.VisitID, r.Plan.Recommended(), r.Plan.Skipped()})
}

// Register creates a patient and their first visit. The decision run happens
// before anything is written; patient and visit are stored together.
func (s *Service) Register(ctx context.Context, profile Profile, symptoms []string) (*Registration, error) {
	profile.normalize()
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Patient{ID: uuid.New(), Profile: profile}
	plan, err := s.decider.Decide(ctx, recommendation.DecideRequest{
		PatientID: p.ID,
		Symptoms:  symptoms,
		Age:       profile.Age,
		Gender:    profile.Gender,
		Now:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	v := &Visit{ID: uuid.New(), PatientID: p.ID, Date: now, Symptoms: orEmpty(symptoms), Plan: *plan}
	err = s.inTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		return s.repo.AddVisit(ctx, v)
	})
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Info().
		Str("patient_id", p.ID.String()).
		Str("visit_id", v.ID.String()).
		Int("recommended", len(plan.Recommended())).
		Int("skipped", len(plan.Skipped())).
		Msg("patient registered")
	return &Registration{PatientID: p.ID, VisitID: v.ID, Plan: plan}, nil
}

// NewVisit runs a decision for a returning patient using the stored profile.
// The visit is appended only after the decision run has completed.
func (s *Service) NewVisit(ctx context.Context, patientID uuid.UUID, symptoms []string) (*Visit, error) {
	p, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	plan, err := s.decider.Decide(ctx, recommendation.DecideRequest{
		PatientID: p.ID,
		Symptoms:  symptoms,
		Age:       p.Profile.Age,
		Gender:    p.Profile.Gender,
		Now:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("new visit: %w", err)
	}

	v := &Visit{ID: uuid.New(), PatientID: p.ID, Date: now, Symptoms: orEmpty(symptoms), Plan: *plan}
	if err := s.repo.AddVisit(ctx, v); err != nil {
		return nil, fmt.Errorf("new visit: %w", err)
	}
	s.log.Info().
		Str("patient_id", p.ID.String()).
		Str("visit_id", v.ID.String()).
		Int("recommended", len(plan.Recommended())).
		Int("skipped", len(plan.Skipped())).
		Msg("visit created")
	return v, nil
}

// UploadResult reports the combined interpretation of an upload together
// with how each test's interpretation was produced.
type UploadResult struct {
	Interpretation recommendation.Interpretation
	Tests          []recommendation.TestInterpretation
}

type testOutcome struct {
	TestName string                 `json:"test_name"`
	Outcome  recommendation.Outcome `json:"outcome"`
}

func (u UploadResult) MarshalJSON() ([]byte, error) {
	tests := make([]testOutcome, 0, len(u.Tests))
	for _, t := range u.Tests {
		tests = append(tests, testOutcome{TestName: t.TestName, Outcome: t.Outcome})
	}
	return json.Marshal(struct {
		Message         string                        `json:"message"`
		Interpretations recommendation.Interpretation `json:"interpretations"`
		Tests           []testOutcome                 `json:"tests"`
	}{"Lab results uploaded successfully", u.Interpretation, tests})
}

// UploadLabResults interprets each result independently, combines the
// interpretations in upload order and attaches both to the visit. A second
// upload for the same visit replaces the first.
func (s *Service) UploadLabResults(ctx context.Context, patientID, visitID uuid.UUID, results []recommendation.LabResult) (*UploadResult, error) {
	if err := validateLabResults(results); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetVisit(ctx, patientID, visitID); err != nil {
		return nil, err
	}

	items := s.interpreter.ClassifyBatch(ctx, results)
	combined := recommendation.CombineInterpretations(items)

	if err := s.repo.AttachLabResults(ctx, patientID, visitID, results, combined); err != nil {
		return nil, fmt.Errorf("upload lab results: %w", err)
	}

	degraded := 0
	for _, it := range items {
		if it.Outcome == recommendation.OutcomeDegraded {
			degraded++
		}
	}
	s.log.Info().
		Str("patient_id", patientID.String()).
		Str("visit_id", visitID.String()).
		Int("results", len(results)).
		Int("degraded", degraded).
		Msg("lab results uploaded")
	return &UploadResult{Interpretation: combined, Tests: items}, nil
}

// GetPatient returns the patient with every visit in insertion order.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	visits, err := s.repo.ListVisits(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Visits = visits
	return p, nil
}

func (s *Service) GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	if _, err := s.repo.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.GetVisit(ctx, patientID, visitID)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// PatchProfile applies an RFC 7386 merge patch to the patient's profile and
// stores the result if it still validates.
func (s *Service) PatchProfile(ctx context.Context, id uuid.UUID, patch []byte) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	current, err := json.Marshal(p.Profile)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var next Profile
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	next.normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateProfile(ctx, id, next); err != nil {
		return nil, err
	}
	p.Profile = next
	p.UpdatedAt = s.now()
	return p, nil
}

package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, name, age, gender, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, name, age, gender)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		p.ID, p.Profile.Name, p.Profile.Age, p.Profile.Gender,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient get: %w", err)
	}
	return p, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) UpdateProfile(ctx context.Context, id uuid.UUID, profile Profile) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET name = $2, age = $3, gender = $4, updated_at = NOW()
		WHERE id = $1`,
		id, profile.Name, profile.Age, profile.Gender,
	)
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const visitCols = `id, patient_id, seq, visit_date, symptoms, plan, lab_results, interpretation`

func (r *repoPG) AddVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	plan, err := json.Marshal(v.Plan)
	if err != nil {
		return fmt.Errorf("visit encode plan: %w", err)
	}
	results, err := json.Marshal(orEmpty(v.LabResults))
	if err != nil {
		return fmt.Errorf("visit encode lab results: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (id, patient_id, visit_date, symptoms, plan, lab_results)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq`,
		v.ID, v.PatientID, v.Date, orEmpty(v.Symptoms), plan, results,
	).Scan(&v.Seq)
	if err != nil {
		return fmt.Errorf("visit create: %w", err)
	}
	return nil
}

func (r *repoPG) GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE patient_id = $1 AND id = $2`, patientID, visitID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVisitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("visit get: %w", err)
	}
	return v, nil
}

func (r *repoPG) ListVisits(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("visit list: %w", err)
	}
	defer rows.Close()

	var out []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *repoPG) AttachLabResults(ctx context.Context, patientID, visitID uuid.UUID, results []recommendation.LabResult, interp recommendation.Interpretation) error {
	rb, err := json.Marshal(orEmpty(results))
	if err != nil {
		return fmt.Errorf("visit encode lab results: %w", err)
	}
	ib, err := json.Marshal(interp)
	if err != nil {
		return fmt.Errorf("visit encode interpretation: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET lab_results = $3, interpretation = $4, updated_at = NOW()
		WHERE patient_id = $1 AND id = $2`,
		patientID, visitID, rb, ib,
	)
	if err != nil {
		return fmt.Errorf("visit attach lab results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVisitNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Profile.Name, &p.Profile.Age, &p.Profile.Gender, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var (
		v                     Visit
		plan, results, interp []byte
	)
	if err := row.Scan(&v.ID, &v.PatientID, &v.Seq, &v.Date, &v.Symptoms, &plan, &results, &interp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plan, &v.Plan); err != nil {
		return nil, fmt.Errorf("visit %s: decode plan: %w", v.ID, err)
	}
	if err := json.Unmarshal(results, &v.LabResults); err != nil {
		return nil, fmt.Errorf("visit %s: decode lab results: %w", v.ID, err)
	}
	if len(interp) > 0 {
		var in recommendation.Interpretation
		if err := json.Unmarshal(interp, &in); err != nil {
			return nil, fmt.Errorf("visit %s: decode interpretation: %w", v.ID, err)
		}
		v.Interpretation = &in
	}
	return &v, nil
}

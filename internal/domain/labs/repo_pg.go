package labs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckdcare/ckdcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Lab Test Repository ===========

type labTestRepoPG struct{ pool *pgxpool.Pool }

func NewLabTestRepoPG(pool *pgxpool.Pool) LabTestRepository {
	return &labTestRepoPG{pool: pool}
}

const testCols = `id, test_name, code, description, unit, normal_min, normal_max`

func scanTest(row pgx.Row) (*LabTest, error) {
	var t LabTest
	if err := row.Scan(&t.ID, &t.Name, &t.Code, &t.Description, &t.Unit, &t.NormalMin, &t.NormalMax); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *labTestRepoPG) Create(ctx context.Context, t *LabTest) error {
	t.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_tests (id, test_name, code, description, unit, normal_min, normal_max)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Code, t.Description, t.Unit, t.NormalMin, t.NormalMax)
	return err
}

func (r *labTestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return scanTest(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+testCols+` FROM lab_tests WHERE id = $1`, id))
}

func (r *labTestRepoPG) GetByName(ctx context.Context, name string) (*LabTest, error) {
	return scanTest(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+testCols+` FROM lab_tests WHERE lower(test_name) = lower($1)`, name))
}

func (r *labTestRepoPG) Update(ctx context.Context, t *LabTest) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE lab_tests SET test_name = $2, code = $3, description = $4, unit = $5,
			normal_min = $6, normal_max = $7
		WHERE id = $1`,
		t.ID, t.Name, t.Code, t.Description, t.Unit, t.NormalMin, t.NormalMax)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labTestRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM lab_tests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labTestRepoPG) List(ctx context.Context) ([]*LabTest, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+testCols+` FROM lab_tests ORDER BY test_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabTest
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// =========== Lab Result Repository ===========

type labResultRepoPG struct{ pool *pgxpool.Pool }

func NewLabResultRepoPG(pool *pgxpool.Pool) LabResultRepository {
	return &labResultRepoPG{pool: pool}
}

const resultFrom = `patient_lab_results r JOIN lab_tests t ON t.id = r.lab_test_id`

const resultCols = `r.id, r.patient_id, r.doctor_id, r.lab_test_id, r.result_value, r.result_date, r.created_at,
	t.id, t.test_name, t.code, t.description, t.unit, t.normal_min, t.normal_max`

func scanResult(row pgx.Row) (*LabResult, error) {
	var r LabResult
	var t LabTest
	if err := row.Scan(&r.ID, &r.PatientID, &r.DoctorID, &r.LabTestID, &r.Value, &r.ResultDate, &r.CreatedAt,
		&t.ID, &t.Name, &t.Code, &t.Description, &t.Unit, &t.NormalMin, &t.NormalMax); err != nil {
		return nil, notFound(err)
	}
	r.Test = &t
	return &r, nil
}

func (r *labResultRepoPG) Create(ctx context.Context, res *LabResult) error {
	res.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_lab_results (id, patient_id, doctor_id, lab_test_id, result_value, result_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		res.ID, res.PatientID, res.DoctorID, res.LabTestID, res.Value, res.ResultDate).Scan(&res.CreatedAt)
}

func (r *labResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return scanResult(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+resultCols+` FROM `+resultFrom+` WHERE r.id = $1`, id))
}

func (r *labResultRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient_lab_results WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *labResultRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f ResultFilter, limit, offset int) ([]*LabResult, int, error) {
	q := db.NewQuery(resultFrom, resultCols)
	q.Eq("r.patient_id", patientID)
	if f.LabTestID != nil {
		q.Eq("r.lab_test_id", *f.LabTestID)
	}
	if f.Code != "" {
		q.Eq("t.code", f.Code)
	}
	if name := strings.TrimSpace(f.TestName); name != "" {
		q.Add(fmt.Sprintf("lower(t.name) = lower($%d)", q.Idx()), name)
	}
	if f.From != nil {
		q.Add(fmt.Sprintf("r.result_date >= $%d", q.Idx()), *f.From)
	}
	if f.To != nil {
		q.Add(fmt.Sprintf("r.result_date <= $%d", q.Idx()), *f.To)
	}
	q.OrderBy("r.result_date DESC, r.created_at DESC")

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}

func (r *labResultRepoPG) LatestDate(ctx context.Context, patientID, labTestID uuid.UUID) (*time.Time, error) {
	var latest *time.Time
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT MAX(result_date) FROM patient_lab_results
		WHERE patient_id = $1 AND lab_test_id = $2`, patientID, labTestID).Scan(&latest)
	return latest, err
}

func (r *labResultRepoPG) MonthlyAverages(ctx context.Context, code TestCode, since time.Time) ([]MonthlyValue, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT to_char(date_trunc('month', r.result_date), 'YYYY-MM') AS month,
			ROUND(AVG(r.result_value)::numeric, 2)::float8
		FROM `+resultFrom+`
		WHERE t.code = $1 AND r.result_date >= $2
		GROUP BY month
		ORDER BY month`, code, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MonthlyValue
	for rows.Next() {
		var mv MonthlyValue
		if err := rows.Scan(&mv.Month, &mv.Value); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

func (r *labResultRepoPG) CountPatientsWithoutResultSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM patients p
		WHERE NOT EXISTS (
			SELECT 1 FROM patient_lab_results r
			WHERE r.patient_id = p.id AND r.result_date >= $1
		)`, since).Scan(&n)
	return n, err
}

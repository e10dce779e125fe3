package identity

import (
	"context"
	"errors"
	"fmt"

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

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, first_name, last_name, email, role, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, first_name, last_name, email, role)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		u.ID, u.FirstName, u.LastName, u.Email, u.Role).Scan(&u.CreatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	return affected(conn(ctx, r.pool).Exec(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, email=$4 WHERE id = $1`,
		u.ID, u.FirstName, u.LastName, u.Email))
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id))
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const (
	patientFrom = `patients p JOIN users u ON u.id = p.user_id`
	patientCols = `p.id, p.user_id, p.birth_date, p.gender, p.address, p.phone,
	p.ckd_stage, p.proteinuria_level, p.last_egfr_value, p.last_proteinuria_value, p.updated_at,
	u.id, u.first_name, u.last_name, u.email, u.role, u.created_at`
)

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var u User
	err := row.Scan(&p.ID, &p.UserID, &p.BirthDate, &p.Gender, &p.Address, &p.Phone,
		&p.CKDStage, &p.ProteinuriaLevel, &p.LastEGFR, &p.LastACR, &p.UpdatedAt,
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.User = &u
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, user_id, birth_date, gender, address, phone,
			ckd_stage, proteinuria_level, last_egfr_value, last_proteinuria_value)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING updated_at`,
		p.ID, p.UserID, p.BirthDate, p.Gender, p.Address, p.Phone,
		p.CKDStage, p.ProteinuriaLevel, p.LastEGFR, p.LastACR).Scan(&p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM `+patientFrom+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return scanPatient(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM `+patientFrom+` WHERE p.user_id = $1`, userID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	return affected(conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET birth_date=$2, gender=$3, address=$4, phone=$5,
			ckd_stage=$6, proteinuria_level=$7, last_egfr_value=$8, last_proteinuria_value=$9,
			updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.BirthDate, p.Gender, p.Address, p.Phone,
		p.CKDStage, p.ProteinuriaLevel, p.LastEGFR, p.LastACR))
}

func (r *patientRepoPG) UpdateMeasurements(ctx context.Context, p *Patient) error {
	return affected(conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET ckd_stage=$2, proteinuria_level=$3,
			last_egfr_value=$4, last_proteinuria_value=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.CKDStage, p.ProteinuriaLevel, p.LastEGFR, p.LastACR))
}

// Delete removes the patient's user row; the patient row follows by cascade.
func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM users WHERE id = (SELECT user_id FROM patients WHERE id = $1)`, id))
}

func (r *patientRepoPG) List(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	q := db.NewQuery(patientFrom, patientCols).OrderBy("u.last_name, u.first_name")
	if f.Name != "" {
		q.Add(fmt.Sprintf("(u.first_name ILIKE $%d OR u.last_name ILIKE $%d)", q.Idx(), q.Idx()), "%"+f.Name+"%")
	}
	if f.Stage.Valid() {
		q.Eq("p.ckd_stage", f.Stage)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const (
	doctorFrom = `doctors d JOIN users u ON u.id = d.user_id`
	doctorCols = `d.id, d.user_id, d.specialty, d.hospital,
	u.id, u.first_name, u.last_name, u.email, u.role, u.created_at`
)

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var u User
	err := row.Scan(&d.ID, &d.UserID, &d.Specialty, &d.Hospital,
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	d.User = &u
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO doctors (id, user_id, specialty, hospital) VALUES ($1,$2,$3,$4)`,
		d.ID, d.UserID, d.Specialty, d.Hospital)
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM `+doctorFrom+` WHERE d.id = $1`, id))
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return scanDoctor(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM `+doctorFrom+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	return affected(conn(ctx, r.pool).Exec(ctx, `
		UPDATE doctors SET specialty=$2, hospital=$3 WHERE id = $1`,
		d.ID, d.Specialty, d.Hospital))
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affected(conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM users WHERE id = (SELECT user_id FROM doctors WHERE id = $1)`, id))
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	q := db.NewQuery(doctorFrom, doctorCols).OrderBy("u.last_name, u.first_name")

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, q.CountSQL()).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

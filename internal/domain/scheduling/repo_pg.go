package scheduling

import (
	"context"
	"errors"
	"fmt"
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

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, appointment_date, purpose, status`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentDate, &a.Purpose, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, purpose, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.Purpose, a.Status)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments SET doctor_id = $2, appointment_date = $3, purpose = $4, status = $5
		WHERE id = $1`,
		a.ID, a.DoctorID, a.AppointmentDate, a.Purpose, a.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	q := db.NewQuery("appointments", apptCols)
	if f.PatientID != nil {
		q.Eq("patient_id", *f.PatientID)
	}
	if f.DoctorID != nil {
		q.Eq("doctor_id", *f.DoctorID)
	}
	if f.Status != "" {
		q.Eq("status", f.Status)
	}
	if f.From != nil {
		q.Add(fmt.Sprintf("appointment_date >= $%d", q.Idx()), *f.From)
		q.Add(fmt.Sprintf("status <> $%d", q.Idx()), StatusCancelled)
	}
	q.OrderBy("appointment_date")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.PageSQL(), q.PageArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CountUpcoming(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE appointment_date >= $1 AND status <> 'cancelled'`, now).Scan(&n)
	return n, err
}

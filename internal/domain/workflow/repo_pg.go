package workflow

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ckdcare/ckdcare/internal/platform/db"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type workflowRepoPG struct{ pool *pgxpool.Pool }

func NewWorkflowRepoPG(pool *pgxpool.Pool) WorkflowRepository {
	return &workflowRepoPG{pool: pool}
}

func (r *workflowRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const (
	wfCols  = `id, name, description, ckd_stage, created_by, created_at`
	reqCols = `id, workflow_id, test_name, frequency, alert_comparator, alert_value, alert_unit, action`
)

func scanWorkflow(row pgx.Row) (*Workflow, error) {
	var w Workflow
	var stage *string
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &stage, &w.CreatedBy, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if stage != nil {
		st, err := ckd.ParseStage(*stage)
		if err != nil {
			return nil, err
		}
		w.CKDStage = &st
	}
	return &w, nil
}

func scanRequirement(row pgx.Row) (*Requirement, error) {
	var req Requirement
	var comparator, unit *string
	var value *float64
	if err := row.Scan(&req.ID, &req.WorkflowID, &req.TestName, &req.Frequency,
		&comparator, &value, &unit, &req.Action); err != nil {
		return nil, err
	}
	if comparator != nil && value != nil {
		req.Alert = &Alert{Comparator: Comparator(*comparator), Value: *value}
		if unit != nil {
			req.Alert.Unit = *unit
		}
	}
	return &req, nil
}

func (r *workflowRepoPG) insertRequirements(ctx context.Context, w *Workflow) error {
	for _, req := range w.Requirements {
		req.ID = uuid.New()
		req.WorkflowID = w.ID
		var comparator, unit *string
		var value *float64
		if req.Alert != nil {
			c := string(req.Alert.Comparator)
			comparator, value = &c, &req.Alert.Value
			if req.Alert.Unit != "" {
				unit = &req.Alert.Unit
			}
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO workflow_requirements (`+reqCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			req.ID, req.WorkflowID, req.TestName, req.Frequency, comparator, value, unit, req.Action)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *workflowRepoPG) Create(ctx context.Context, w *Workflow) error {
	w.ID = uuid.New()
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO workflows (id, name, description, ckd_stage, created_by)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING created_at`,
			w.ID, w.Name, w.Description, w.CKDStage, w.CreatedBy).Scan(&w.CreatedAt)
		if err != nil {
			return err
		}
		return r.insertRequirements(ctx, w)
	})
}

func (r *workflowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	w, err := scanWorkflow(r.conn(ctx).QueryRow(ctx, `SELECT `+wfCols+` FROM workflows WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.attachRequirements(ctx, []*Workflow{w}); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *workflowRepoPG) Update(ctx context.Context, w *Workflow) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE workflows SET name=$2, description=$3, ckd_stage=$4 WHERE id = $1`,
			w.ID, w.Name, w.Description, w.CKDStage)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM workflow_requirements WHERE workflow_id = $1`, w.ID); err != nil {
			return err
		}
		return r.insertRequirements(ctx, w)
	})
}

func (r *workflowRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *workflowRepoPG) List(ctx context.Context, limit, offset int) ([]*Workflow, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workflows`).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, `SELECT `+wfCols+` FROM workflows ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *workflowRepoPG) ListForStage(ctx context.Context, stage ckd.Stage) ([]*Workflow, error) {
	return r.query(ctx, `SELECT `+wfCols+` FROM workflows
		WHERE ckd_stage IS NULL OR ckd_stage = $1 ORDER BY name`, stage)
}

func (r *workflowRepoPG) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (r *workflowRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Workflow, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachRequirements(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *workflowRepoPG) attachRequirements(ctx context.Context, workflows []*Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Workflow, len(workflows))
	ids := make([]uuid.UUID, 0, len(workflows))
	for _, w := range workflows {
		byID[w.ID] = w
		ids = append(ids, w.ID)
		w.Requirements = []*Requirement{}
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reqCols+` FROM workflow_requirements
		WHERE workflow_id = ANY($1) ORDER BY test_name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return err
		}
		if w, ok := byID[req.WorkflowID]; ok {
			w.Requirements = append(w.Requirements, req)
		}
	}
	return rows.Err()
}

package dashboard

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type statsRepoPG struct{ pool *pgxpool.Pool }

func NewStatsRepoPG(pool *pgxpool.Pool) StatsRepository {
	return &statsRepoPG{pool: pool}
}

func (r *statsRepoPG) CountPatients(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, err
}

func (r *statsRepoPG) ClassificationCounts(ctx context.Context) ([]ClassificationCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ckd_stage, proteinuria_level, COUNT(*)
		FROM patients
		GROUP BY ckd_stage, proteinuria_level`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClassificationCount
	for rows.Next() {
		var c ClassificationCount
		if err := rows.Scan(&c.Stage, &c.Level, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *statsRepoPG) RunMeasure(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

package dashboard

import "context"

type StatsRepository interface {
	CountPatients(ctx context.Context) (int, error)
	ClassificationCounts(ctx context.Context) ([]ClassificationCount, error)
	// RunMeasure executes a measure query and returns its rows keyed by
	// column name.
	RunMeasure(ctx context.Context, sql string) ([]map[string]interface{}, error)
}

package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// PoolStats is the JSON view of pgxpool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Health statuses. Degraded means the database answers but the schema is
// behind the migrations shipped with the binary.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type Health struct {
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	LatencyMS         int64      `json:"latency_ms"`
	SchemaVersion     int        `json:"schema_version"`
	PendingMigrations int        `json:"pending_migrations"`
	Pool              *PoolStats `json:"pool,omitempty"`
}

// Check pings the database and compares applied migrations with the known
// ones. migrations may be nil to skip the schema check.
func Check(ctx context.Context, ping func(context.Context) error, migrations func(context.Context) ([]MigrationStatus, error)) *Health {
	start := time.Now()
	err := ping(ctx)
	h := &Health{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		h.Status = StatusUnhealthy
		h.Error = err.Error()
		return h
	}
	if migrations == nil {
		return h
	}

	statuses, err := migrations(ctx)
	if err != nil {
		h.Status = StatusDegraded
		h.Error = "migration status: " + err.Error()
		return h
	}
	for _, s := range statuses {
		if s.Applied {
			if s.Version > h.SchemaVersion {
				h.SchemaVersion = s.Version
			}
		} else {
			h.PendingMigrations++
		}
	}
	if h.PendingMigrations > 0 {
		h.Status = StatusDegraded
	}
	return h
}

// HealthHandler serves Check for the pool. Only an unreachable database
// answers 503.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator) echo.HandlerFunc {
	var migrations func(context.Context) ([]MigrationStatus, error)
	if migrator != nil {
		migrations = migrator.Status
	}
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		h := Check(ctx, pool.Ping, migrations)
		h.Pool = GetPoolStats(pool)
		code := http.StatusOK
		if h.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, h)
	}
}

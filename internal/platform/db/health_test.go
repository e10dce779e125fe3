package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func okPing(context.Context) error { return nil }

func TestCheck_Healthy(t *testing.T) {
	h := Check(context.Background(), okPing, func(context.Context) ([]MigrationStatus, error) {
		return []MigrationStatus{{Version: 1, Applied: true}, {Version: 2, Applied: true}}, nil
	})
	if h.Status != StatusHealthy || h.SchemaVersion != 2 || h.PendingMigrations != 0 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestCheck_PendingMigrationsDegrade(t *testing.T) {
	h := Check(context.Background(), okPing, func(context.Context) ([]MigrationStatus, error) {
		return []MigrationStatus{{Version: 1, Applied: true}, {Version: 2}, {Version: 3}}, nil
	})
	if h.Status != StatusDegraded || h.SchemaVersion != 1 || h.PendingMigrations != 2 {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestCheck_PingFailure(t *testing.T) {
	called := false
	h := Check(context.Background(), func(context.Context) error { return errors.New("connection refused") },
		func(context.Context) ([]MigrationStatus, error) {
			called = true
			return nil, nil
		})
	if h.Status != StatusUnhealthy || h.Error != "connection refused" {
		t.Errorf("unexpected health %+v", h)
	}
	if called {
		t.Error("migrations should not be checked when the database is down")
	}
}

func TestCheck_NoMigrator(t *testing.T) {
	if h := Check(context.Background(), okPing, nil); h.Status != StatusHealthy {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestHealth_JSON(t *testing.T) {
	h := Health{Status: StatusHealthy, SchemaVersion: 1, Pool: &PoolStats{TotalConns: 10, MaxConns: 20, AcquireDuration: "1.5s"}}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"status":"healthy"`, `"schema_version":1`, `"total_conns":10`, `"acquire_duration":"1.5s"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in %s", key, data)
		}
	}
	if strings.Contains(string(data), `"error"`) {
		t.Errorf("error should be omitted when empty: %s", data)
	}
}

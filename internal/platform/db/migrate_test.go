package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
}

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"001_core.sql":      "CREATE TABLE users (id UUID PRIMARY KEY);",
		"002_labs.sql":      "CREATE TABLE lab_tests (id UUID PRIMARY KEY);",
		"003_workflows.sql": "CREATE TABLE workflows (id UUID PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "001_core.sql" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[0].SQL != "CREATE TABLE users (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 5, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("position %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"001_valid.sql": "SELECT 1;",
		"README.md":     "docs",
		"noprefix.sql":  "SELECT 2;",
		"abc_alpha.sql": "SELECT 3;",
	})
	if err := os.Mkdir(filepath.Join(dir, "002_dir.sql"), 0755); err != nil {
		t.Fatal(err)
	}

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"001_a.sql": "SELECT 1;",
		"01_b.sql":  "SELECT 1;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate versions")
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrations, err := NewMigrator(nil, t.TempDir()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/path").LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}
	applied := map[int]time.Time{1: time.Now()}

	all := pending(migrations, applied, 0)
	if len(all) != 3 || all[0].Version != 2 {
		t.Errorf("unexpected pending set: %+v", all)
	}

	upTo3 := pending(migrations, applied, 3)
	if len(upTo3) != 2 || upTo3[1].Version != 3 {
		t.Errorf("unexpected pending set up to 3: %+v", upTo3)
	}
}

func TestStatuses(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	migrations := []Migration{{Version: 1, Name: "001_core.sql"}, {Version: 2, Name: "002_seed.sql"}}

	got := statuses(migrations, map[int]time.Time{1: at})
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if !got[0].Applied || got[0].AppliedAt == nil || !got[0].AppliedAt.Equal(at) {
		t.Errorf("expected first migration applied at %v, got %+v", at, got[0])
	}
	if got[1].Applied || got[1].AppliedAt != nil {
		t.Errorf("expected second migration pending, got %+v", got[1])
	}
}

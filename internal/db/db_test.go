package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T, path string) *DB {
	t.Helper()
	d, err := New(path, nil)
	if err != nil {
		t.Fatalf("New(%s) error = %v", filepath.Base(path), err)
	}
	return d
}

func TestNew_SchemaAndPragmas(t *testing.T) {
	d := openTemp(t, filepath.Join(t.TempDir(), "nested", "registry.sqlite"))
	defer d.Close()

	for _, table := range []string{"projects", "clips", "_migrations"} {
		var name string
		err := d.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	var index string
	if err := d.Conn().QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_clips_state_updated'",
	).Scan(&index); err != nil {
		t.Errorf("state index missing: %v", err)
	}

	var mode string
	if err := d.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %s, want wal", mode)
	}

	var fk int
	if err := d.Conn().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestNew_ReopenDoesNotReapply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.sqlite")
	openTemp(t, path).Close()

	d := openTemp(t, path)
	defer d.Close()

	done, err := d.appliedScripts(context.Background())
	if err != nil {
		t.Fatalf("appliedScripts() error = %v", err)
	}
	for _, name := range []string{"001_init.sql", "002_clips.sql"} {
		if !done[name] {
			t.Errorf("%s not recorded", name)
		}
	}

	var count int
	if err := d.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("recorded scripts = %d, want 2", count)
	}
}

func TestInterruptedRenders_CountedNotReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.sqlite")
	first := openTemp(t, path)
	_, err := first.Conn().Exec(`
		INSERT INTO clips (project_id, clip_id, state, updated_at) VALUES
		('p1', 'A1_S1_SH1', 'rendering', '2026-01-01T00:00:00Z'),
		('p1', 'A1_S1_SH2', 'rendered', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("seed clips: %v", err)
	}
	first.Close()

	d := openTemp(t, path)
	defer d.Close()

	n, err := d.InterruptedRenders(context.Background())
	if err != nil {
		t.Fatalf("InterruptedRenders() error = %v", err)
	}
	if n != 1 {
		t.Errorf("InterruptedRenders() = %d, want 1", n)
	}

	var state string
	if err := d.Conn().QueryRow("SELECT state FROM clips WHERE clip_id = 'A1_S1_SH1'").Scan(&state); err != nil {
		t.Fatalf("query clip: %v", err)
	}
	if state != "rendering" {
		t.Errorf("state = %s, want rendering left as is", state)
	}
}

// Package db opens the SQLite registry database and applies its schema.
package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/vtxstudio/vtx/internal/logging"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// connPragmas are applied to the single registry connection on open.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// DB is the registry database handle. All access goes through one
// connection so writes from resume and the CLI never interleave.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the registry at path and brings its
// schema up to date.
func New(path string, logger *slog.Logger) (*DB, error) {
	logger = logging.WithComponent(logging.OrDiscard(logger), "registry-db")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create registry directory")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open registry %s", path)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	d := &DB{conn: conn, logger: logger}
	if err := d.prepare(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	d.warnInterrupted()
	return d, nil
}

func (d *DB) prepare(ctx context.Context) error {
	if err := d.conn.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to reach registry")
	}
	for _, p := range connPragmas {
		if _, err := d.conn.ExecContext(ctx, p); err != nil {
			return errors.Wrapf(err, "failed to apply %q", p)
		}
	}
	return errors.Wrap(d.applySchema(ctx), "failed to apply registry schema")
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the pool for repositories.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// applySchema runs every embedded script not yet recorded in _migrations,
// in file name order, each inside its own transaction.
func (d *DB) applySchema(ctx context.Context) error {
	scripts, err := fs.Glob(schemaFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(scripts)

	done, err := d.appliedScripts(ctx)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		name := filepath.Base(script)
		if done[name] {
			continue
		}
		body, err := schemaFS.ReadFile(script)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if err := d.runScript(ctx, name, string(body)); err != nil {
			return err
		}
		d.logger.Info("applied schema script", "name", name)
	}
	return nil
}

func (d *DB) runScript(ctx context.Context, name, body string) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return errors.Wrapf(err, "execute %s", name)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations (name) VALUES (?)`, name); err != nil {
		return errors.Wrapf(err, "record %s", name)
	}
	return tx.Commit()
}

// appliedScripts lists recorded scripts. A fresh database has no
// _migrations table yet, which reads as nothing applied.
func (d *DB) appliedScripts(ctx context.Context) (map[string]bool, error) {
	done := map[string]bool{}
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = '_migrations'`).Scan(&n)
	if err != nil || n == 0 {
		return done, err
	}

	rows, err := d.conn.QueryContext(ctx, `SELECT name FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

// InterruptedRenders counts clips left in the rendering state, which only
// happens when a process died mid-render. They stay untouched: an operator
// has to mark them planned or rejected before resume picks them up again.
func (d *DB) InterruptedRenders(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM clips WHERE state = 'rendering'`).Scan(&n)
	return n, err
}

func (d *DB) warnInterrupted() {
	n, err := d.InterruptedRenders(context.Background())
	switch {
	case err != nil:
		d.logger.Warn("failed to count interrupted renders", "error", err)
	case n > 0:
		d.logger.Warn("clips stuck in rendering state; mark them planned or rejected to resume", "count", n)
	}
}

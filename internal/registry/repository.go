// Package registry persists project and clip render state in SQLite so that
// interrupted batches can be resumed.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout keeps updated_at lexically sortable.
const timeLayout = time.RFC3339

type Repository interface {
	UpsertProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, projectID string) (*Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	UpsertClip(ctx context.Context, c *ClipRecord) error
	GetClip(ctx context.Context, projectID, clipID string) (*ClipRecord, error)
	ListClips(ctx context.Context, projectID string) ([]*ClipRecord, error)
	ListUnfinishedClips(ctx context.Context) ([]*ClipRecord, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertProject(ctx context.Context, p *Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (project_id, slug, title, path, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title,
			path = excluded.path,
			updated_at = excluded.updated_at
	`, p.ProjectID, p.Slug, p.Title, p.Path, formatTime(p.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetProject(ctx context.Context, projectID string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT project_id, slug, title, path, updated_at FROM projects WHERE project_id = ?
	`, projectID)
	return scanProject(row)
}

func (r *SQLiteRepository) GetProjectBySlug(ctx context.Context, slug string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT project_id, slug, title, path, updated_at FROM projects WHERE slug = ?
	`, slug)
	return scanProject(row)
}

func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, slug, title, path, updated_at FROM projects ORDER BY slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var updatedAt sql.NullString
	err := row.Scan(&p.ProjectID, &p.Slug, &p.Title, &p.Path, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = parseTime(updatedAt.String)
	return &p, nil
}

// UpsertClip writes the full record for (project_id, clip_id); a second
// upsert for the same key replaces the row rather than adding one.
func (r *SQLiteRepository) UpsertClip(ctx context.Context, c *ClipRecord) error {
	if !IsValidState(c.State) {
		return fmt.Errorf("invalid clip state %q", c.State)
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (project_id, clip_id, state, output_path, render_hash, updated_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, clip_id) DO UPDATE SET
			state = excluded.state,
			output_path = excluded.output_path,
			render_hash = excluded.render_hash,
			updated_at = excluded.updated_at,
			last_error = excluded.last_error
	`, c.ProjectID, c.ClipID, c.State, nullString(c.OutputPath), nullString(c.RenderHash),
		formatTime(updatedAt), nullString(c.LastError))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, projectID, clipID string) (*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, clip_id, state, output_path, render_hash, updated_at, last_error
		FROM clips WHERE project_id = ? AND clip_id = ?
	`, projectID, clipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clips, err := r.scanClips(rows)
	if err != nil || len(clips) == 0 {
		return nil, err
	}
	return clips[0], nil
}

func (r *SQLiteRepository) ListClips(ctx context.Context, projectID string) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, clip_id, state, output_path, render_hash, updated_at, last_error
		FROM clips WHERE project_id = ? ORDER BY clip_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanClips(rows)
}

// ListUnfinishedClips returns planned, queued and rejected clips across all
// projects, oldest update first.
func (r *SQLiteRepository) ListUnfinishedClips(ctx context.Context) ([]*ClipRecord, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(UnfinishedStates)), ",")
	args := make([]any, len(UnfinishedStates))
	for i, s := range UnfinishedStates {
		args[i] = s
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT project_id, clip_id, state, output_path, render_hash, updated_at, last_error
		FROM clips WHERE state IN (`+placeholders+`) ORDER BY updated_at ASC, project_id, clip_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanClips(rows)
}

func (r *SQLiteRepository) scanClips(rows *sql.Rows) ([]*ClipRecord, error) {
	var clips []*ClipRecord
	for rows.Next() {
		var c ClipRecord
		var outputPath, renderHash, updatedAt, lastError sql.NullString

		if err := rows.Scan(&c.ProjectID, &c.ClipID, &c.State, &outputPath, &renderHash, &updatedAt, &lastError); err != nil {
			return nil, err
		}
		c.OutputPath = outputPath.String
		c.RenderHash = renderHash.String
		c.UpdatedAt = parseTime(updatedAt.String)
		c.LastError = lastError.String
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime accepts RFC3339 and bare dates.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/registry"
)

var (
	// ErrNotFound is returned when a slug has no project directory.
	ErrNotFound = errors.New("project not found")
	// ErrExists is returned by Create when the directory is already taken.
	ErrExists = errors.New("project already exists")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

const projectEnvTemplate = `# Per-project overrides. Values here win over global.env, models.env and
# the process environment.
# VTX_DEFAULT_PIPELINE=ti2vid_two_stages
# VTX_FAIL_FAST=false
# LTX_DEFAULT_FPS=16
`

// Loader finds projects under the projects root and mirrors them into the
// registry.
type Loader struct {
	root   string
	repo   registry.Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewLoader(projectsRoot string, repo registry.Repository, logger *slog.Logger) *Loader {
	return &Loader{
		root:   projectsRoot,
		repo:   repo,
		logger: logging.WithComponent(logging.OrDiscard(logger), "project"),
		now:    time.Now,
	}
}

// Root returns the projects root directory.
func (l *Loader) Root() string { return l.root }

// Create lays out a new project skeleton with a fresh id, then syncs it
// into the registry.
func (l *Loader) Create(ctx context.Context, slug, title string) (*Project, *Metadata, error) {
	if !slugPattern.MatchString(slug) {
		return nil, nil, fmt.Errorf("invalid slug %q: use lowercase letters, digits, - and _", slug)
	}
	p := Project{Root: filepath.Join(l.root, slug)}
	if _, err := os.Stat(p.Root); err == nil {
		return nil, nil, fmt.Errorf("%s: %w", slug, ErrExists)
	}

	for _, dir := range []string{p.ClipsDir(), filepath.Dir(p.ShotlistPath()), p.RendersDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	if title == "" {
		title = slug
	}
	meta := &Metadata{
		ProjectID: uuid.New().String(),
		Slug:      slug,
		Title:     title,
		UpdatedAt: l.now().UTC().Format(time.RFC3339),
	}
	if err := p.SaveMetadata(meta); err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(p.EnvPath(), []byte(projectEnvTemplate), 0644); err != nil {
		return nil, nil, err
	}

	l.logger.Info("project created", "slug", slug, "project_id", meta.ProjectID)

	if err := l.SyncProject(ctx, p); err != nil {
		return nil, nil, err
	}
	return &p, meta, nil
}

// Load returns the project for slug.
func (l *Loader) Load(slug string) (*Project, error) {
	p := Project{Root: filepath.Join(l.root, slug)}
	info, err := os.Stat(p.Root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s under %s: %w", slug, l.root, ErrNotFound)
	}
	return &p, nil
}

// SyncAll registers every project with a metadata.yaml. A project that
// fails to sync is logged and skipped.
func (l *Loader) SyncAll(ctx context.Context) (int, error) {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	synced := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := Project{Root: filepath.Join(l.root, e.Name())}
		if _, err := os.Stat(p.MetadataPath()); err != nil {
			continue
		}
		if err := l.SyncProject(ctx, p); err != nil {
			if ctx.Err() != nil {
				return synced, ctx.Err()
			}
			l.logger.Warn("skipping project", "path", logging.SanitizePath(p.Root), "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

// SyncProject upserts the project row and one clip row per spec file.
func (l *Loader) SyncProject(ctx context.Context, p Project) error {
	meta, err := p.LoadMetadata()
	if err != nil {
		return err
	}
	if strings.TrimSpace(meta.ProjectID) == "" {
		return fmt.Errorf("metadata.yaml has no project_id")
	}

	updated := meta.UpdatedTime()
	if updated.IsZero() {
		updated = l.now()
	}
	if err := l.repo.UpsertProject(ctx, &registry.Project{
		ProjectID: meta.ProjectID,
		Slug:      meta.Slug,
		Title:     meta.Title,
		Path:      p.Root,
		UpdatedAt: updated,
	}); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	return l.syncClips(ctx, p, meta.ProjectID)
}

func (l *Loader) syncClips(ctx context.Context, p Project, projectID string) error {
	files, err := clipspec.List(p.ClipsDir())
	if err != nil {
		return err
	}

	for _, path := range files {
		spec, err := clipspec.Load(path)
		if err != nil {
			l.logger.Warn("skipping clip spec", "path", logging.SanitizePath(path), "error", err)
			continue
		}

		clipID := strings.TrimSpace(spec.ClipID)
		if clipID == "" {
			clipID = clipspec.IDFromFilename(path)
		}
		declared := strings.TrimSpace(spec.Status.State)
		if declared != "" && !registry.IsValidState(declared) {
			l.logger.Warn("skipping clip with unknown state", "clip_id", clipID, "state", declared)
			continue
		}

		existing, err := l.repo.GetClip(ctx, projectID, clipID)
		if err != nil {
			return err
		}
		if existing != nil && !overridesRegistry(declared, existing.State) {
			continue
		}
		state := declared
		if state == "" {
			state = registry.StatePlanned
		}

		if err := l.repo.UpsertClip(ctx, &registry.ClipRecord{
			ProjectID:  projectID,
			ClipID:     clipID,
			State:      state,
			OutputPath: spec.Outputs.MP4,
			UpdatedAt:  l.now(),
			LastError:  spec.Status.LastError,
		}); err != nil {
			return fmt.Errorf("upsert clip %s: %w", clipID, err)
		}
	}
	return nil
}

// overridesRegistry reports whether a spec's declared state replaces an
// existing registry row. The registry owns the lifecycle once a row exists:
// an empty or matching declaration leaves state, error and timestamp alone,
// and a declared planned never resets a rendering or rendered clip.
func overridesRegistry(declared, current string) bool {
	if declared == "" || declared == current {
		return false
	}
	if declared == registry.StatePlanned &&
		(current == registry.StateRendering || current == registry.StateRendered) {
		return false
	}
	return true
}

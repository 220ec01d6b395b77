package render

import (
	"context"
	"fmt"
	"os"

	"github.com/vtxstudio/vtx/internal/config"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/project"
)

// SettingsSource builds settings with a project's own layer applied.
type SettingsSource interface {
	ForProject(projectEnvPath string) (*config.Settings, error)
}

// Service creates per-project controllers and runs resume across all
// registered projects.
type Service struct {
	settings SettingsSource
	deps     Deps
}

func NewService(settings SettingsSource, deps Deps) *Service {
	deps.Logger = logging.OrDiscard(deps.Logger)
	return &Service{settings: settings, deps: deps}
}

// ForProject returns a controller for p using p's project.env.
func (s *Service) ForProject(p project.Project) (*Controller, error) {
	meta, err := p.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if meta.ProjectID == "" {
		return nil, fmt.Errorf("%s: metadata.yaml has no project_id", p.Root)
	}
	settings, err := s.settings.ForProject(p.EnvPath())
	if err != nil {
		return nil, fmt.Errorf("load settings for %s: %w", meta.Slug, err)
	}
	return NewController(p, meta.ProjectID, settings, s.deps), nil
}

// ResumeReport summarises a resume run.
type ResumeReport struct {
	Results []*Result `json:"results"`
	Skipped int       `json:"skipped"`
}

// Failed counts attempts that did not end rendered.
func (r *ResumeReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Resume renders up to maxJobs unfinished clips, oldest update first, one
// after another. Clips of projects missing from the registry or from disk
// are skipped. Configuration failures (missing spec, invalid spec, unknown
// pipeline, capability mismatch) always stop the run and are returned, as
// do registry errors. A backend failure stops it only when the clip's
// project is fail-fast; otherwise it is reported in the Result.
func (s *Service) Resume(ctx context.Context, maxJobs int) (*ResumeReport, error) {
	if maxJobs < 1 {
		maxJobs = 1
	}
	logger := logging.WithComponent(s.deps.Logger, "resume")

	clips, err := s.deps.Repo.ListUnfinishedClips(ctx)
	if err != nil {
		return nil, err
	}
	projects, err := s.deps.Repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(projects))
	for _, p := range projects {
		paths[p.ProjectID] = p.Path
	}

	report := &ResumeReport{}
	controllers := map[string]*Controller{}

	for _, rec := range clips {
		if len(report.Results) >= maxJobs {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		path, ok := paths[rec.ProjectID]
		if !ok {
			report.Skipped++
			continue
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			report.Skipped++
			continue
		}

		ctrl, ok := controllers[rec.ProjectID]
		if !ok {
			ctrl, err = s.ForProject(project.Project{Root: path})
			if err != nil {
				logger.Warn("cannot open project, skipping its clips", "project_id", rec.ProjectID, "error", err)
				report.Skipped++
				continue
			}
			controllers[rec.ProjectID] = ctrl
		}

		res, err := ctrl.RenderClip(ctx, rec.ClipID, Options{})
		if err != nil {
			if res == nil {
				res = &Result{ProjectID: rec.ProjectID, ClipID: rec.ClipID, State: rec.State}
			}
			res.Err = err
			report.Results = append(report.Results, res)
			logger.Error("resume stopped", "project_id", rec.ProjectID, "clip_id", rec.ClipID, "kind", Kind(err), "error", err)
			return report, err
		}
		if res.Err != nil {
			logger.Warn("clip not rendered", "project_id", rec.ProjectID, "clip_id", rec.ClipID, "error", res.Err)
		}
		report.Results = append(report.Results, res)
	}

	logger.Info("resume finished",
		"attempted", len(report.Results),
		"failed", report.Failed(),
		"skipped", report.Skipped,
	)
	return report, nil
}

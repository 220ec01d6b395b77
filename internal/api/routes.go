package api

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/pipelines"
	"github.com/vtxstudio/vtx/internal/registry"
)

// NewRouter builds the read-only status API. Nothing here starts a render.
func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	r := chi.NewRouter()

	r.Use(withRequestID, recoverPanics(cfg.Logger), accessLog(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/projects", listProjectsHandler(cfg))
	r.Get("/projects/{projectID}/clips", listProjectClipsHandler(cfg))
	r.Get("/projects/{projectID}/clips/{clipID}/video", clipVideoHandler(cfg))
	r.Get("/clips/unfinished", listUnfinishedHandler(cfg))
	r.Get("/capabilities", capabilitiesHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
			Started: humanize.Time(cfg.StartTime),
		})
	}
}

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.Repository.ListProjects(r.Context())
		if err != nil {
			cfg.Logger.Error("list projects failed", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// listProjectClipsHandler accepts either a project id or a slug.
func listProjectClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := chi.URLParam(r, "projectID")

		project, err := findProject(ctx, cfg.Repository, key)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if project == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		clips, err := cfg.Repository.ListClips(ctx, project.ProjectID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, clipsResponse(clips, func(string) string { return project.Slug }))
	}
}

func listUnfinishedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clips, err := cfg.Repository.ListUnfinishedClips(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		slugs := make(map[string]string)
		slugFor := func(projectID string) string {
			if s, ok := slugs[projectID]; ok {
				return s
			}
			var slug string
			if p, err := cfg.Repository.GetProject(ctx, projectID); err == nil && p != nil {
				slug = p.Slug
			}
			slugs[projectID] = slug
			return slug
		}
		WriteJSON(w, http.StatusOK, clipsResponse(clips, slugFor))
	}
}

func capabilitiesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := CapabilitiesResponse{}
		for _, key := range pipelines.KnownPipelines() {
			module, _ := pipelines.ModuleFor(key)
			entry := CapabilityResponse{Pipeline: key, Module: module, Flags: []string{}}
			if cfg.Prober != nil {
				if caps, ok := cfg.Prober.Peek(module); ok {
					entry.Probed = true
					entry.Flags = caps.List()
					if !caps.ProbedAt.IsZero() {
						entry.ProbedAt = caps.ProbedAt.Format(time.RFC3339)
					}
				}
			}
			resp.Pipelines = append(resp.Pipelines, entry)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func findProject(ctx context.Context, repo registry.Repository, key string) (*registry.Project, error) {
	p, err := repo.GetProject(ctx, key)
	if err != nil || p != nil {
		return p, err
	}
	return repo.GetProjectBySlug(ctx, key)
}

func clipsResponse(clips []*registry.ClipRecord, slugFor func(projectID string) string) ClipsResponse {
	resp := ClipsResponse{
		Clips:  make([]ClipResponse, len(clips)),
		Counts: make(map[string]int),
	}
	for i, c := range clips {
		resp.Clips[i] = ClipToResponse(c, slugFor(c.ProjectID))
		resp.Counts[c.State]++
	}
	return resp
}

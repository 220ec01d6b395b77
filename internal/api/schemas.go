package api

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vtxstudio/vtx/internal/registry"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	Started string `json:"started"`
}

type ProjectResponse struct {
	ProjectID  string `json:"project_id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	UpdatedAgo string `json:"updated_ago,omitempty"`
}

type ProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ClipResponse struct {
	ProjectID   string `json:"project_id"`
	ProjectSlug string `json:"project_slug,omitempty"`
	ClipID      string `json:"clip_id"`
	State       string `json:"state"`
	OutputPath  string `json:"output_path,omitempty"`
	OutputBytes int64  `json:"output_bytes,omitempty"`
	OutputSize  string `json:"output_size,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	UpdatedAgo  string `json:"updated_ago,omitempty"`
}

type ClipsResponse struct {
	Clips  []ClipResponse `json:"clips"`
	Counts map[string]int `json:"counts"`
}

type CapabilityResponse struct {
	Pipeline string   `json:"pipeline"`
	Module   string   `json:"module"`
	Probed   bool     `json:"probed"`
	ProbedAt string   `json:"probed_at,omitempty"`
	Flags    []string `json:"flags"`
}

type CapabilitiesResponse struct {
	Pipelines []CapabilityResponse `json:"pipelines"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *registry.Project) ProjectResponse {
	resp := ProjectResponse{
		ProjectID: p.ProjectID,
		Slug:      p.Slug,
		Title:     p.Title,
		Path:      p.Path,
	}
	if !p.UpdatedAt.IsZero() {
		resp.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
		resp.UpdatedAgo = humanize.Time(p.UpdatedAt)
	}
	return resp
}

// ClipToResponse converts a registry record. The output size is filled in
// only when the recorded file exists.
func ClipToResponse(c *registry.ClipRecord, slug string) ClipResponse {
	resp := ClipResponse{
		ProjectID:   c.ProjectID,
		ProjectSlug: slug,
		ClipID:      c.ClipID,
		State:       c.State,
		OutputPath:  c.OutputPath,
		LastError:   c.LastError,
	}
	if !c.UpdatedAt.IsZero() {
		resp.UpdatedAt = c.UpdatedAt.Format(time.RFC3339)
		resp.UpdatedAgo = humanize.Time(c.UpdatedAt)
	}
	if c.OutputPath != "" {
		if info, err := os.Stat(c.OutputPath); err == nil && !info.IsDir() {
			resp.OutputBytes = info.Size()
			resp.OutputSize = humanize.Bytes(uint64(info.Size()))
		}
	}
	return resp
}

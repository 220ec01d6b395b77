package api

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vtxstudio/vtx/internal/registry"
)

// clipVideoHandler streams a rendered clip for preview. Range requests are
// honoured so players can seek.
func clipVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		project, err := findProject(ctx, cfg.Repository, chi.URLParam(r, "projectID"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if project == nil {
			WriteError(w, http.StatusNotFound, "project not found", "NOT_FOUND")
			return
		}

		clipID := chi.URLParam(r, "clipID")
		rec, err := cfg.Repository.GetClip(ctx, project.ProjectID, clipID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if rec == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		if rec.State != registry.StateRendered || rec.OutputPath == "" {
			WriteError(w, http.StatusConflict, "clip is "+rec.State+", not rendered", "NOT_RENDERED")
			return
		}

		f, err := os.Open(rec.OutputPath)
		if err != nil {
			if os.IsNotExist(err) {
				WriteError(w, http.StatusNotFound, "rendered file is missing", "OUTPUT_MISSING")
				return
			}
			cfg.Logger.Error("open rendered clip failed", "clip_id", clipID, "error", err)
			WriteError(w, http.StatusInternalServerError, "cannot open rendered file", "INTERNAL_ERROR")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			WriteError(w, http.StatusNotFound, "rendered file is missing", "OUTPUT_MISSING")
			return
		}

		if ct := videoContentType(rec.OutputPath); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		http.ServeContent(w, r, filepath.Base(rec.OutputPath), info.ModTime(), f)
	}
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

// videoContentType maps common video extensions before consulting the host
// mime tables.
func videoContentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

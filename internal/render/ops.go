package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/registry"
)

// Render status values reported by Status.
const (
	StatusDone          = "done"
	StatusPending       = "pending"
	StatusMissingOutput = "missing-output"
	StatusError         = "error"
)

// Approval is the outcome of Approve.
type Approval struct {
	ClipID      string `json:"clip_id"`
	SpecPath    string `json:"spec_path"`
	Strategy    string `json:"strategy"`
	DraftExists bool   `json:"draft_exists"`
}

// Approve marks a clip approved and records its final render strategy in
// the spec file.
func (c *Controller) Approve(clipID, strategy string) (*Approval, error) {
	if strategy != clipspec.StrategyT2V && strategy != clipspec.StrategyV2V {
		return nil, newError(ErrValidation, clipID, fmt.Errorf("strategy %q is not t2v or v2v", strategy))
	}

	path, err := clipspec.Locate(c.project.ClipsDir(), clipID)
	if err != nil {
		return nil, newError(ErrNotFound, clipID, err)
	}
	spec, err := clipspec.Load(path)
	if err != nil {
		return nil, newError(ErrValidation, clipID, err)
	}

	draft := c.project.Resolve(spec.Outputs.MP4)
	approval := &Approval{
		ClipID:      clipID,
		SpecPath:    path,
		Strategy:    strategy,
		DraftExists: draft != "" && fileExists(draft),
	}
	if strategy == clipspec.StrategyV2V && !approval.DraftExists {
		c.logger.Warn("v2v approved without a draft render", "clip_id", clipID, "draft", spec.Outputs.MP4)
	}

	if spec.Render == nil {
		spec.Render = &clipspec.Render{}
	}
	spec.Render.Approved = true
	spec.Render.FinalStrategy = strategy
	if err := clipspec.Save(path, spec); err != nil {
		return nil, err
	}

	c.logger.Info("clip approved", "clip_id", clipID, "strategy", strategy)
	return approval, nil
}

// ClipStatus is one row of Status.
type ClipStatus struct {
	ClipID    string `json:"clip_id"`
	SpecFile  string `json:"spec_file"`
	Output    string `json:"output,omitempty"`
	Status    string `json:"status"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	State     string `json:"state,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status reports the output status of every spec in the project joined with
// its registry record.
func (c *Controller) Status(ctx context.Context) ([]ClipStatus, error) {
	files, err := clipspec.List(c.project.ClipsDir())
	if err != nil {
		return nil, err
	}

	records, err := c.repo.ListClips(ctx, c.projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*registry.ClipRecord, len(records))
	for _, r := range records {
		byID[r.ClipID] = r
	}

	out := make([]ClipStatus, 0, len(files))
	for _, path := range files {
		row := ClipStatus{ClipID: clipspec.IDFromFilename(path), SpecFile: filepath.Base(path)}

		spec, err := clipspec.Load(path)
		switch {
		case err != nil:
			row.Status = StatusError
			row.Error = err.Error()
		case spec.Outputs.MP4 == "":
			row.Status = StatusMissingOutput
		default:
			if spec.ClipID != "" {
				row.ClipID = spec.ClipID
			}
			row.Output = spec.Outputs.MP4
			row.Status = StatusPending
			if info, err := os.Stat(c.project.Resolve(spec.Outputs.MP4)); err == nil && !info.IsDir() {
				row.Status = StatusDone
				row.SizeBytes = info.Size()
			}
		}

		if rec, ok := byID[row.ClipID]; ok {
			row.State = rec.State
			row.LastError = rec.LastError
		}
		out = append(out, row)
	}
	return out, nil
}

// Mark sets a clip's registry state by hand. Only states resume may pick
// up are allowed, which is how an operator releases a clip left in
// rendering by a crash.
func (c *Controller) Mark(ctx context.Context, clipID, state string) error {
	allowed := false
	for _, s := range registry.UnfinishedStates {
		if s == state {
			allowed = true
		}
	}
	if !allowed {
		return newError(ErrValidation, clipID, fmt.Errorf("state %q cannot be set by hand", state))
	}

	rec, err := c.repo.GetClip(ctx, c.projectID, clipID)
	if err != nil {
		return err
	}
	if rec == nil {
		if _, lerr := clipspec.Locate(c.project.ClipsDir(), clipID); lerr != nil {
			if errors.Is(lerr, clipspec.ErrNotFound) {
				return newError(ErrNotFound, clipID, lerr)
			}
			return lerr
		}
		rec = &registry.ClipRecord{ProjectID: c.projectID, ClipID: clipID}
	}

	prev := rec.State
	rec.State = state
	rec.UpdatedAt = c.now()
	if err := c.repo.UpsertClip(ctx, rec); err != nil {
		return err
	}
	logging.WithClipID(c.logger, clipID).Info("clip state set by operator", "from", prev, "state", state)
	return nil
}

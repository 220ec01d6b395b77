package render

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/vtxstudio/vtx/internal/pipelines"
)

type sidecar struct {
	*Plan
	RenderedAt time.Time `json:"rendered_at"`
	DurationMS int64     `json:"duration_ms"`
}

// writeSidecar records the resolved plan next to the rendered video.
func writeSidecar(plan *Plan, run pipelines.RunResult, at time.Time) error {
	data, err := json.MarshalIndent(sidecar{
		Plan:       plan,
		RenderedAt: at.UTC(),
		DurationMS: run.Duration.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plan.MetaPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(plan.MetaPath, append(data, '\n'), 0644)
}

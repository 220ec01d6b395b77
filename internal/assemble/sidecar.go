package assemble

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/story"
)

// renderMeta is the part of a render sidecar the timeline needs.
type renderMeta struct {
	Seconds float64 `json:"seconds"`
	FPS     int     `json:"fps"`
}

// clipTiming returns the clip length and frame rate. The sidecar next to the
// chosen file wins, then the declared sidecar; without either the length is
// estimated from the spec and the rate is unknown (0).
func (a *Assembler) clipTiming(spec *clipspec.Spec, path string) (float64, int) {
	candidates := []string{strings.TrimSuffix(path, filepath.Ext(path)) + ".json"}
	if spec.Outputs.Meta != "" {
		candidates = append(candidates, a.project.Resolve(spec.Outputs.Meta))
	}
	for _, c := range candidates {
		data, err := os.ReadFile(c)
		if err != nil {
			continue
		}
		var m renderMeta
		if err := json.Unmarshal(data, &m); err != nil || m.Seconds <= 0 {
			a.logger.Debug("ignoring unusable sidecar", "path", c, "error", err)
			continue
		}
		return m.Seconds, m.FPS
	}

	lo, hi := story.Bounds(spec.RenderOrEmpty().Duration, story.DefaultMaxSeconds)
	return story.Clamp(story.EstimateSeconds(spec, story.DefaultMaxSeconds), lo, hi), 0
}

package story

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/logging"
)

const defaultProfile = "default"

// Pack is the compiled prompt pair handed to the backend.
type Pack struct {
	Positive string `json:"positive"`
	Negative string `json:"negative"`
}

type styleBible struct {
	GlobalPrefix   string             `yaml:"global_prefix"`
	GlobalNegative string             `yaml:"global_negative"`
	Profiles       map[string]profile `yaml:"profiles"`
}

type profile struct {
	Prefix   string `yaml:"prefix"`
	Negative string `yaml:"negative"`
}

// Compiler merges the project's style bible and continuity documents with a
// clip's own prompt text.
type Compiler struct {
	logger *slog.Logger
}

func NewCompiler(logger *slog.Logger) *Compiler {
	return &Compiler{logger: logging.OrDiscard(logger)}
}

// Compile builds the prompts for spec. Missing or unreadable documents
// contribute nothing; Compile never fails.
func (c *Compiler) Compile(projectRoot string, spec *clipspec.Spec) Pack {
	promptsDir := filepath.Join(projectRoot, "prompts")

	var bible styleBible
	c.loadYAML(filepath.Join(promptsDir, "style_bible.yaml"), &bible)

	name := spec.Continuity.SharedPromptProfile
	if name == "" {
		name = defaultProfile
	}
	prof, ok := bible.Profiles[name]
	if !ok {
		prof = bible.Profiles[defaultProfile]
	}

	prefix := strings.TrimSpace(bible.GlobalPrefix + "\n" + prof.Prefix)
	negative := strings.TrimSpace(bible.GlobalNegative + "\n" + prof.Negative)

	var inserts []string
	if len(spec.Continuity.Characters) > 0 {
		var doc struct {
			Characters map[string]any `yaml:"characters"`
		}
		c.loadYAML(filepath.Join(promptsDir, "characters.yaml"), &doc)
		inserts = append(inserts, insertBlock("CHARACTERS", spec.Continuity.Characters, doc.Characters))
	}
	if len(spec.Continuity.Locations) > 0 {
		var doc struct {
			Locations map[string]any `yaml:"locations"`
		}
		c.loadYAML(filepath.Join(promptsDir, "locations.yaml"), &doc)
		inserts = append(inserts, insertBlock("LOCATIONS", spec.Continuity.Locations, doc.Locations))
	}

	return Pack{
		Positive: joinNonEmpty(prefix, strings.Join(inserts, "\n\n"), strings.TrimSpace(spec.Prompt.Positive)),
		Negative: joinNonEmpty(negative, strings.TrimSpace(spec.Prompt.Negative)),
	}
}

func (c *Compiler) loadYAML(path string, out any) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cannot read prompt document", "path", logging.SanitizePath(path), "error", err)
		}
		return
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		c.logger.Warn("ignoring malformed prompt document", "path", logging.SanitizePath(path), "error", err)
	}
}

// insertBlock renders one continuity section. Entries are looked up in
// entries and may be a mapping with a description or a bare string.
func insertBlock(heading string, keys []string, entries map[string]any) string {
	lines := []string{fmt.Sprintf("%s (locked for continuity):", heading)}
	for _, k := range keys {
		if desc := description(entries[k]); desc != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", k, desc))
		} else {
			lines = append(lines, "- "+k)
		}
	}
	return strings.Join(lines, "\n")
}

func description(entry any) string {
	switch v := entry.(type) {
	case map[string]any:
		if d, ok := v["description"].(string); ok {
			return strings.TrimSpace(d)
		}
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

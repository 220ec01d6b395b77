// Package clipspec reads and writes per-shot clip specifications, the YAML
// documents under a project's prompts/clips directory.
package clipspec

import (
	"gopkg.in/yaml.v3"
)

// Duration modes.
const (
	DurationAuto  = "auto"
	DurationFixed = "fixed"
)

// Final render strategies chosen at approval time.
const (
	StrategyT2V = "t2v"
	StrategyV2V = "v2v"
)

// Spec is one clip specification. Keys this package does not model are kept
// in Extra so a load/save cycle does not drop them.
type Spec struct {
	ClipID     string     `yaml:"clip_id"`
	Title      string     `yaml:"title,omitempty"`
	Act        int        `yaml:"act,omitempty"`
	Scene      int        `yaml:"scene,omitempty"`
	Shot       int        `yaml:"shot,omitempty"`
	Continuity Continuity `yaml:"continuity,omitempty"`
	StoryBeats StoryBeats `yaml:"story_beats,omitempty"`
	Prompt     Prompt     `yaml:"prompt"`
	Render     *Render    `yaml:"render,omitempty"`
	Inputs     Inputs     `yaml:"inputs,omitempty"`
	Loras      []LoraRef  `yaml:"loras,omitempty"`
	Outputs    Outputs    `yaml:"outputs,omitempty"`
	Status     Status     `yaml:"status,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

type Continuity struct {
	SharedPromptProfile string   `yaml:"shared_prompt_profile,omitempty"`
	SharedLoraProfile   string   `yaml:"shared_lora_profile,omitempty"`
	Characters          []string `yaml:"characters,omitempty"`
	Locations           []string `yaml:"locations,omitempty"`
}

type Prompt struct {
	Positive string `yaml:"positive"`
	Negative string `yaml:"negative,omitempty"`
}

// Render holds per-clip render parameters. Pointer fields distinguish
// "unset" from zero so the layered defaults can fall through.
type Render struct {
	Pipeline      string   `yaml:"pipeline,omitempty"`
	FPS           *int     `yaml:"fps,omitempty"`
	Width         *int     `yaml:"width,omitempty"`
	Height        *int     `yaml:"height,omitempty"`
	Seed          *int     `yaml:"seed,omitempty"`
	Steps         *int     `yaml:"steps,omitempty"`
	NumFrames     *int     `yaml:"num_frames,omitempty"`
	Duration      Duration `yaml:"duration,omitempty"`
	Approved      bool     `yaml:"approved,omitempty"`
	FinalStrategy string   `yaml:"final_strategy,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

type Duration struct {
	Mode       string   `yaml:"mode,omitempty"`
	Seconds    *float64 `yaml:"seconds,omitempty"`
	MinSeconds *float64 `yaml:"min_seconds,omitempty"`
	MaxSeconds *float64 `yaml:"max_seconds,omitempty"`
}

type Inputs struct {
	Image     string   `yaml:"image,omitempty"`
	Video     string   `yaml:"video,omitempty"`
	Keyframes []string `yaml:"keyframes,omitempty"`
}

// LoraRef names a LoRA indirectly through a settings key so specs stay
// portable across machines.
type LoraRef struct {
	Env    string   `yaml:"env"`
	Weight *float64 `yaml:"weight,omitempty"`
}

type Outputs struct {
	MP4  string `yaml:"mp4,omitempty"`
	Meta string `yaml:"meta,omitempty"`
}

type Status struct {
	State     string `yaml:"state,omitempty"`
	LastError string `yaml:"last_error,omitempty"`
}

// StoryBeats is the free-form beat list. Only its length matters to the
// duration estimate, so anything other than a sequence decodes as empty.
type StoryBeats []any

func (b *StoryBeats) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		*b = nil
		return nil
	}
	var items []any
	if err := node.Decode(&items); err != nil {
		return err
	}
	*b = items
	return nil
}

// RenderOrEmpty returns the render section, or an empty one when absent.
func (s *Spec) RenderOrEmpty() Render {
	if s.Render == nil {
		return Render{}
	}
	return *s.Render
}

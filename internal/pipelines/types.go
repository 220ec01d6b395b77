// Package pipelines runs LTX video pipelines as `python -m <module>`
// subprocesses and negotiates which command-line flags each module accepts.
package pipelines

import (
	"sort"
	"time"
)

// Pipeline keys understood by the render controller.
const (
	PipelineTwoStages      = "ti2vid_two_stages"
	PipelineOneStage       = "ti2vid_one_stage"
	PipelineDistilled      = "distilled"
	PipelineICLora         = "ic_lora"
	PipelineKeyframeInterp = "keyframe_interpolation"
)

var pipelineModules = map[string]string{
	PipelineTwoStages:      "ltx_pipelines.ti2vid_two_stages",
	PipelineOneStage:       "ltx_pipelines.ti2vid_one_stage",
	PipelineDistilled:      "ltx_pipelines.distilled",
	PipelineICLora:         "ltx_pipelines.ic_lora",
	PipelineKeyframeInterp: "ltx_pipelines.keyframe_interpolation",
}

// ModuleFor maps a pipeline key to its python module.
func ModuleFor(pipeline string) (string, bool) {
	m, ok := pipelineModules[pipeline]
	return m, ok
}

// KnownPipelines returns the registered pipeline keys, sorted.
func KnownPipelines() []string {
	keys := make([]string, 0, len(pipelineModules))
	for k := range pipelineModules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Capabilities is the set of long flags a backend module advertises.
// The zero value advertises nothing.
type Capabilities struct {
	Module   string
	Flags    map[string]struct{}
	ProbedAt time.Time
}

// NewCapabilities builds a capability set from a flag list.
func NewCapabilities(module string, flags ...string) Capabilities {
	set := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		set[f] = struct{}{}
	}
	return Capabilities{Module: module, Flags: set, ProbedAt: time.Now()}
}

func (c Capabilities) Has(flag string) bool {
	_, ok := c.Flags[flag]
	return ok
}

func (c Capabilities) Empty() bool {
	return len(c.Flags) == 0
}

// List returns the advertised flags, sorted.
func (c Capabilities) List() []string {
	out := make([]string, 0, len(c.Flags))
	for f := range c.Flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FirstSupported returns the first candidate the module advertises.
// Callers list every spelling they accept in priority order, which keeps
// hyphen/underscore drift and renamed flags out of the render logic.
func FirstSupported(c Capabilities, candidates ...string) (string, bool) {
	for _, cand := range candidates {
		if c.Has(cand) {
			return cand, true
		}
	}
	return "", false
}

// Command is one backend invocation: `python -m <Module> <Args...>`.
type Command struct {
	Module     string
	Args       []string
	OutputPath string
}

// Argv returns the interpreter arguments for the command.
func (c Command) Argv() []string {
	return append([]string{"-m", c.Module}, c.Args...)
}

// RunResult is the structured outcome of executing a pipeline subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

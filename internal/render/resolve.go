package render

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/pipelines"
	"github.com/vtxstudio/vtx/internal/presets"
	"github.com/vtxstudio/vtx/internal/project"
	"github.com/vtxstudio/vtx/internal/story"
)

// Pass names that are not quality tiers.
const (
	PresetDraft = "draft"
	PresetFinal = "final"
)

// Flag spellings accepted per argument, in priority order.
var (
	flagPrompt     = []string{"--prompt", "--positive-prompt", "--positive_prompt"}
	flagNegative   = []string{"--negative-prompt", "--negative_prompt"}
	flagWidth      = []string{"--width", "--video-width", "--video_width"}
	flagHeight     = []string{"--height", "--video-height", "--video_height"}
	flagFPS        = []string{"--frame-rate", "--fps", "--frame_rate"}
	flagFrames     = []string{"--num-frames", "--num_frames", "--frames"}
	flagSeed       = []string{"--seed"}
	flagSteps      = []string{"--num-inference-steps", "--num_inference_steps", "--steps"}
	flagImage      = []string{"--image", "--reference-image", "--image-path"}
	flagVideo      = []string{"--video", "--input-video", "--video-path"}
	flagKeyframes  = []string{"--keyframes", "--keyframe"}
	flagLora       = []string{"--lora", "--loras"}
	flagDistilled  = []string{"--distilled-lora", "--distilled_lora", "--lora"}
	flagICLora     = []string{"--ic-lora-path", "--ic-lora", "--ic_lora"}
	flagCheckpoint = []string{"--checkpoint-path", "--checkpoint_path"}
	flagUpsampler  = []string{"--spatial-upsampler-path", "--spatial_upsampler_path"}
	flagGemma      = []string{"--gemma-root", "--gemma_root"}
	flagOutput     = []string{"--output-path", "--output", "--output_path"}
)

const (
	fallbackPromptFlag = "--prompt"
	fallbackOutputFlag = "--output-path"
	defaultLoraWeight  = 1.0
)

// Options tune one render.
type Options struct {
	// Preset is a quality tier (low, medium, high, ultra) or a pass name
	// (draft, final). Empty means neither.
	Preset string
	// OutputDir, when set, receives the output under its declared file name.
	OutputDir string
	// ResolutionScale multiplies the resolved size. Zero means 1.0.
	ResolutionScale float64
}

func (o Options) scale() float64 {
	if o.ResolutionScale <= 0 {
		return 1.0
	}
	return o.ResolutionScale
}

// Lora is one resolved LoRA argument triple.
type Lora struct {
	Flag   string  `json:"flag"`
	Path   string  `json:"path"`
	Weight float64 `json:"weight"`
	Source string  `json:"source"`
}

// Plan is everything decided about a render before the backend runs.
type Plan struct {
	ClipID     string     `json:"clip_id"`
	Pipeline   string     `json:"pipeline"`
	Module     string     `json:"module"`
	Preset     string     `json:"preset,omitempty"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	FPS        int        `json:"fps"`
	Seconds    float64    `json:"seconds"`
	Frames     int        `json:"frames"`
	Seed       *int       `json:"seed,omitempty"`
	Steps      *int       `json:"steps,omitempty"`
	Loras      []Lora     `json:"loras,omitempty"`
	Prompt     story.Pack `json:"prompt"`
	InputVideo string     `json:"input_video,omitempty"`
	OutputPath string     `json:"output_path"`
	MetaPath   string     `json:"meta_path"`
	Args       []string   `json:"args"`
	Probed     bool       `json:"probed"`
}

// firstNonNil returns the first set value across ordered sources.
func firstNonNil[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// resolvePipeline picks the pipeline key. An approved v2v final pass always
// goes through the video-conditioned pipeline.
func resolvePipeline(r clipspec.Render, preset, projectDefault string) string {
	if preset == PresetFinal && r.FinalStrategy == clipspec.StrategyV2V {
		return pipelines.PipelineICLora
	}
	if r.Pipeline != "" {
		return r.Pipeline
	}
	return projectDefault
}

// resolveSize layers preset, clip, environment and project default, then
// applies the scale. A draft pass at scale 1.0 renders at half size.
func resolveSize(b presets.Baseline, r clipspec.Render, envW, envH *int, defW, defH int, preset string, scale float64) (int, int) {
	w := valueOr(firstNonNil(b.Width, r.Width, envW), defW)
	h := valueOr(firstNonNil(b.Height, r.Height, envH), defH)

	if preset == PresetDraft && scale == 1.0 {
		return evenDim(float64(w / 2)), evenDim(float64(h / 2))
	}
	return evenDim(float64(w) * scale), evenDim(float64(h) * scale)
}

// evenDim rounds to the nearest even integer, never below 2.
func evenDim(v float64) int {
	n := int(math.Round(v/2)) * 2
	if n < 2 {
		return 2
	}
	return n
}

func resolveFPS(b presets.Baseline, r clipspec.Render, envFPS *int, def int) int {
	fps := valueOr(firstNonNil(b.FPS, r.FPS, envFPS), def)
	if fps < 1 {
		return 1
	}
	return fps
}

// resolveFrames converts seconds to a frame count. A positive num_frames
// override wins; the result is clamped to [1, maxFrames].
func resolveFrames(seconds float64, fps int, override *int, maxFrames int) int {
	frames := int(math.Round(seconds * float64(fps)))
	if override != nil && *override > 0 {
		frames = *override
	}
	if maxFrames > 0 && frames > maxFrames {
		frames = maxFrames
	}
	if frames < 1 {
		frames = 1
	}
	return frames
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'g', -1, 64)
}

// outputPaths resolves the video and sidecar paths.
func outputPaths(p project.Project, out clipspec.Outputs, outputDir string) (mp4, meta string) {
	mp4 = p.Resolve(out.MP4)
	if out.Meta != "" {
		meta = p.Resolve(out.Meta)
	} else {
		meta = strings.TrimSuffix(mp4, filepath.Ext(mp4)) + ".json"
	}
	if outputDir != "" {
		mp4 = filepath.Join(outputDir, filepath.Base(mp4))
		meta = filepath.Join(outputDir, filepath.Base(meta))
	}
	return mp4, meta
}

// withSuffix inserts suffix before the extension of path.
func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Package render turns clip specs into backend invocations and records the
// outcome of each attempt in the registry.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/config"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/pipelines"
	"github.com/vtxstudio/vtx/internal/presets"
	"github.com/vtxstudio/vtx/internal/project"
	"github.com/vtxstudio/vtx/internal/registry"
	"github.com/vtxstudio/vtx/internal/story"
)

const maxErrorText = 2000

// stateWriteAttempts bounds retries of the post-render registry write.
const stateWriteAttempts = 3

// Deps are the collaborators shared by every controller.
type Deps struct {
	Repo   registry.Repository
	Prober pipelines.Prober
	Runner pipelines.Runner
	Logger *slog.Logger
}

// Controller renders the clips of one project.
type Controller struct {
	project   project.Project
	projectID string
	settings  *config.Settings
	repo      registry.Repository
	prober    pipelines.Prober
	runner    pipelines.Runner
	compiler  *story.Compiler
	logger    *slog.Logger
	now       func() time.Time
	backoff   time.Duration
}

// NewController builds a controller for the project at p. settings must
// already include the project's own layer.
func NewController(p project.Project, projectID string, settings *config.Settings, deps Deps) *Controller {
	logger := logging.WithProjectID(logging.WithComponent(logging.OrDiscard(deps.Logger), "render"), projectID)
	return &Controller{
		project:   p,
		projectID: projectID,
		settings:  settings,
		repo:      deps.Repo,
		prober:    deps.Prober,
		runner:    deps.Runner,
		compiler:  story.NewCompiler(logger),
		logger:    logger,
		now:       time.Now,
		backoff:   200 * time.Millisecond,
	}
}

func (c *Controller) ProjectID() string          { return c.projectID }
func (c *Controller) Project() project.Project   { return c.project }
func (c *Controller) Settings() *config.Settings { return c.settings }

// Result is the outcome of one render attempt.
type Result struct {
	ProjectID  string              `json:"project_id"`
	ClipID     string              `json:"clip_id"`
	State      string              `json:"state"`
	OutputPath string              `json:"output_path"`
	Plan       *Plan               `json:"plan"`
	Run        pipelines.RunResult `json:"run"`
	Err        error               `json:"-"`
}

// RenderClip renders one clip. Spec, pipeline and capability problems are
// returned before anything is written. A backend failure marks the clip
// rejected and is returned as an error only when fail-fast is on;
// otherwise it is reported through Result.Err.
func (c *Controller) RenderClip(ctx context.Context, clipID string, opts Options) (*Result, error) {
	logger := logging.WithClipID(c.logger, clipID)

	spec, _, err := c.LoadSpec(clipID)
	if err != nil {
		return nil, err
	}

	plan, err := c.Plan(ctx, spec, opts)
	if err != nil {
		return nil, err
	}

	if err := c.setState(ctx, clipID, registry.StateRendering, plan.OutputPath, ""); err != nil {
		return nil, fmt.Errorf("register %s as rendering: %w", clipID, err)
	}
	logger.Info("render started",
		"pipeline", plan.Pipeline,
		"width", plan.Width,
		"height", plan.Height,
		"fps", plan.FPS,
		"frames", plan.Frames,
	)

	run, runErr := c.runner.Run(ctx, pipelines.Command{
		Module:     plan.Module,
		Args:       plan.Args,
		OutputPath: plan.OutputPath,
	})

	// Final state writes must land even if ctx was cancelled mid-render.
	writeCtx := context.WithoutCancel(ctx)
	result := &Result{
		ProjectID:  c.projectID,
		ClipID:     clipID,
		OutputPath: plan.OutputPath,
		Plan:       plan,
		Run:        run,
	}

	if failure := backendFailure(run, runErr); failure != nil {
		result.State = registry.StateRejected
		result.Err = newError(ErrBackendExecution, clipID, failure)
		if err := c.setState(writeCtx, clipID, registry.StateRejected, plan.OutputPath, failure.Error()); err != nil {
			logger.Error("cannot record rejected state", "error", err)
		}
		logger.Error("render failed", "exit_code", run.ExitCode, "error", failure)
		if c.settings.FailFast() {
			return result, result.Err
		}
		return result, nil
	}

	if err := writeSidecar(plan, run, c.now()); err != nil {
		logger.Warn("cannot write sidecar metadata", "path", logging.SanitizePath(plan.MetaPath), "error", err)
	}

	if err := c.recordRendered(writeCtx, logger, clipID, plan.OutputPath); err != nil {
		result.State = registry.StateRendering
		logger.Error("render succeeded but the registry still says rendering; resume will not retry it",
			"output", plan.OutputPath,
			"hint", fmt.Sprintf("keep the file, or run `vtx render mark <slug> %s planned` to render again", clipID),
			"error", err,
		)
		return result, fmt.Errorf("record %s as rendered (output kept at %s): %w", clipID, plan.OutputPath, err)
	}
	result.State = registry.StateRendered
	logger.Info("render complete",
		"output", logging.SanitizePath(plan.OutputPath),
		"duration_ms", run.Duration.Milliseconds(),
	)
	return result, nil
}

// LoadSpec locates, parses and validates a clip spec.
func (c *Controller) LoadSpec(clipID string) (*clipspec.Spec, string, error) {
	path, err := clipspec.Locate(c.project.ClipsDir(), clipID)
	if err != nil {
		if errors.Is(err, clipspec.ErrNotFound) {
			return nil, "", newError(ErrNotFound, clipID, err)
		}
		return nil, "", err
	}
	spec, err := clipspec.Load(path)
	if err != nil {
		return nil, path, newError(ErrValidation, clipID, err)
	}
	if err := clipspec.Validate(spec); err != nil {
		return nil, path, newError(ErrValidation, clipID, err)
	}
	return spec, path, nil
}

// Plan resolves every render parameter and the backend argument list
// without running anything.
func (c *Controller) Plan(ctx context.Context, spec *clipspec.Spec, opts Options) (*Plan, error) {
	clipID := spec.ClipID
	logger := logging.WithClipID(c.logger, clipID)
	r := spec.RenderOrEmpty()

	if spec.Outputs.MP4 == "" {
		return nil, newError(ErrNotFound, clipID, errors.New("no output path declared (outputs.mp4)"))
	}

	pipelineKey := resolvePipeline(r, opts.Preset, c.settings.DefaultPipeline())
	module, ok := pipelines.ModuleFor(pipelineKey)
	if !ok {
		return nil, newError(ErrUnknownPipeline, clipID,
			fmt.Errorf("%q (known: %s)", pipelineKey, strings.Join(pipelines.KnownPipelines(), ", ")))
	}
	if pipelineKey != r.Pipeline && r.Pipeline != "" {
		logger.Info("pipeline overridden for final v2v pass", "declared", r.Pipeline, "pipeline", pipelineKey)
	}

	caps, probeErr := c.prober.Probe(ctx, module)
	if probeErr != nil {
		logger.Warn("capability probe failed, emitting minimal arguments", "module", module, "error", probeErr)
	}

	baseline, _ := presets.Resolve(opts.Preset)
	width, height := resolveSize(baseline, r, c.settings.EnvWidth(), c.settings.EnvHeight(),
		c.settings.DefaultWidth(), c.settings.DefaultHeight(), opts.Preset, opts.scale())
	fps := resolveFPS(baseline, r, c.settings.EnvFPS(), c.settings.DefaultFPS())

	defaultMax := float64(c.settings.DefaultMaxSeconds())
	lo, hi := story.Bounds(r.Duration, defaultMax)
	seconds := story.Clamp(story.EstimateSeconds(spec, defaultMax), lo, hi)
	frames := resolveFrames(seconds, fps, r.NumFrames, c.settings.MaxFrames())

	outPath, metaPath := outputPaths(c.project, spec.Outputs, opts.OutputDir)

	inputVideo := c.project.Resolve(spec.Inputs.Video)
	if inputVideo == "" && opts.Preset == PresetFinal && r.FinalStrategy == clipspec.StrategyV2V {
		inputVideo = c.project.Resolve(spec.Outputs.MP4)
	}
	if inputVideo != "" && inputVideo == outPath {
		outPath = withSuffix(outPath, "_final")
		metaPath = withSuffix(metaPath, "_final")
	}

	plan := &Plan{
		ClipID:     clipID,
		Pipeline:   pipelineKey,
		Module:     module,
		Preset:     opts.Preset,
		Width:      width,
		Height:     height,
		FPS:        fps,
		Seconds:    seconds,
		Frames:     frames,
		Seed:       r.Seed,
		Steps:      firstNonNil(baseline.Steps, r.Steps),
		Prompt:     c.compiler.Compile(c.project.Root, spec),
		InputVideo: inputVideo,
		OutputPath: outPath,
		MetaPath:   metaPath,
		Probed:     probeErr == nil,
	}

	args, err := c.buildArgs(plan, spec, caps, logger)
	if err != nil {
		return nil, err
	}
	plan.Args = args
	return plan, nil
}

// buildArgs emits only the arguments the backend advertises. The prompt
// flag is mandatory when the probe succeeded; after a failed probe the
// canonical prompt and output flags are used alone.
func (c *Controller) buildArgs(plan *Plan, spec *clipspec.Spec, caps pipelines.Capabilities, logger *slog.Logger) ([]string, error) {
	flag := func(candidates []string) (string, bool) {
		return pipelines.FirstSupported(caps, candidates...)
	}

	promptFlag, ok := flag(flagPrompt)
	if !ok {
		if plan.Probed {
			return nil, newError(ErrCapabilityMismatch, plan.ClipID,
				fmt.Errorf("%s advertises none of %s", plan.Module, strings.Join(flagPrompt, ", ")))
		}
		promptFlag = fallbackPromptFlag
	}

	var args []string
	pathArg := func(value string, candidates []string) {
		if value == "" {
			return
		}
		if f, ok := flag(candidates); ok {
			args = append(args, f, value)
		}
	}

	pathArg(c.settings.CheckpointPath(), flagCheckpoint)
	pathArg(c.settings.SpatialUpsamplerPath(), flagUpsampler)
	pathArg(c.settings.GemmaRoot(), flagGemma)
	if plan.Pipeline == pipelines.PipelineICLora {
		pathArg(c.settings.ICLoraPath(), flagICLora)
	}

	plan.Loras = c.resolveLoras(spec, caps, logger)
	for _, l := range plan.Loras {
		args = append(args, l.Flag, l.Path, formatWeight(l.Weight))
	}

	args = append(args, promptFlag, plan.Prompt.Positive)
	if plan.Prompt.Negative != "" {
		if f, ok := flag(flagNegative); ok {
			args = append(args, f, plan.Prompt.Negative)
		}
	}

	if wf, ok := flag(flagWidth); ok {
		if hf, ok := flag(flagHeight); ok {
			args = append(args, wf, strconv.Itoa(plan.Width), hf, strconv.Itoa(plan.Height))
		}
	}
	if f, ok := flag(flagFPS); ok {
		args = append(args, f, strconv.Itoa(plan.FPS))
	}
	if f, ok := flag(flagFrames); ok {
		args = append(args, f, strconv.Itoa(plan.Frames))
	}
	if plan.Seed != nil {
		if f, ok := flag(flagSeed); ok {
			args = append(args, f, strconv.Itoa(*plan.Seed))
		}
	}
	if plan.Steps != nil {
		if f, ok := flag(flagSteps); ok {
			args = append(args, f, strconv.Itoa(*plan.Steps))
		}
	}

	if spec.Inputs.Image != "" {
		if f, ok := flag(flagImage); ok {
			img := c.project.Resolve(spec.Inputs.Image)
			c.warnIfMissing(logger, "reference image", img)
			args = append(args, f, img)
		} else {
			logger.Warn("backend has no image flag, reference image ignored", "module", plan.Module)
		}
	}
	if plan.InputVideo != "" {
		if f, ok := flag(flagVideo); ok {
			c.warnIfMissing(logger, "input video", plan.InputVideo)
			args = append(args, f, plan.InputVideo)
		} else {
			logger.Warn("backend has no video flag, input video ignored", "module", plan.Module)
		}
	}
	if len(spec.Inputs.Keyframes) > 0 {
		if f, ok := flag(flagKeyframes); ok {
			args = append(args, f)
			for _, k := range spec.Inputs.Keyframes {
				kf := c.project.Resolve(k)
				c.warnIfMissing(logger, "keyframe", kf)
				args = append(args, kf)
			}
		}
	}

	outFlag, ok := flag(flagOutput)
	if !ok {
		outFlag = fallbackOutputFlag
	}
	args = append(args, outFlag, plan.OutputPath)
	return args, nil
}

// resolveLoras turns the spec's LoRA references into argument triples.
// References to unset names are skipped. Without explicit references the
// project's distilled LoRA is used. Nothing is emitted when the backend
// has no LoRA flag.
func (c *Controller) resolveLoras(spec *clipspec.Spec, caps pipelines.Capabilities, logger *slog.Logger) []Lora {
	var out []Lora
	if len(spec.Loras) > 0 {
		f, ok := pipelines.FirstSupported(caps, flagLora...)
		if !ok {
			if caps.Empty() {
				return nil
			}
			logger.Warn("backend has no lora flag, loras ignored", "count", len(spec.Loras))
			return nil
		}
		for _, ref := range spec.Loras {
			path, ok := c.settings.Lookup(ref.Env)
			if !ok {
				logger.Debug("lora reference unset, skipping", "env", ref.Env)
				continue
			}
			out = append(out, Lora{
				Flag:   f,
				Path:   path,
				Weight: valueOr(ref.Weight, defaultLoraWeight),
				Source: ref.Env,
			})
		}
		return out
	}

	if path := c.settings.DistilledLoraPath(); path != "" {
		if f, ok := pipelines.FirstSupported(caps, flagDistilled...); ok {
			out = append(out, Lora{
				Flag:   f,
				Path:   path,
				Weight: c.settings.DistilledLoraWeight(),
				Source: config.EnvDistilledLoraPath,
			})
		}
	}
	return out
}

func (c *Controller) warnIfMissing(logger *slog.Logger, what, path string) {
	if !fileExists(path) {
		logger.Warn(what+" not found, passing it anyway", "path", logging.SanitizePath(path))
	}
}

func (c *Controller) setState(ctx context.Context, clipID, state, outputPath, lastError string) error {
	if len(lastError) > maxErrorText {
		lastError = lastError[len(lastError)-maxErrorText:]
	}
	err := c.repo.UpsertClip(ctx, &registry.ClipRecord{
		ProjectID:  c.projectID,
		ClipID:     clipID,
		State:      state,
		OutputPath: outputPath,
		UpdatedAt:  c.now(),
		LastError:  lastError,
	})
	if err != nil {
		return err
	}
	c.logger.Info("clip state changed", "clip_id", clipID, "state", state)
	return nil
}

// recordRendered writes the rendered state, retrying transient registry
// failures such as a busy database.
func (c *Controller) recordRendered(ctx context.Context, logger *slog.Logger, clipID, outputPath string) error {
	var err error
	for attempt := 1; attempt <= stateWriteAttempts; attempt++ {
		if err = c.setState(ctx, clipID, registry.StateRendered, outputPath, ""); err == nil {
			return nil
		}
		logger.Warn("cannot record rendered state", "attempt", attempt, "error", err)
		if attempt < stateWriteAttempts {
			time.Sleep(time.Duration(attempt) * c.backoff)
		}
	}
	return err
}

func backendFailure(run pipelines.RunResult, runErr error) error {
	if runErr != nil {
		return runErr
	}
	if run.IsSuccess() {
		return nil
	}
	tail := strings.TrimSpace(run.StderrTail)
	if tail == "" {
		return fmt.Errorf("exit code %d", run.ExitCode)
	}
	return fmt.Errorf("exit code %d: %s", run.ExitCode, lastLines(tail, 5))
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

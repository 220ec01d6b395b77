// Package assemble joins rendered clips into a final cut following the
// project's shot list.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/logging"
	"github.com/vtxstudio/vtx/internal/project"
)

// DefaultOutputName is the file written under renders/ when none is given.
const DefaultOutputName = "final_cut.mp4"

var (
	ErrNoShotlist = errors.New("shot list not found")
	ErrNoClips    = errors.New("no rendered clips to assemble")
)

type shotlist struct {
	Scenes []struct {
		Shots []struct {
			ClipID string `yaml:"clip_id"`
		} `yaml:"shots"`
	} `yaml:"scenes"`
}

// Missing describes a shot that was skipped.
type Missing struct {
	ClipID string `json:"clip_id"`
	Reason string `json:"reason"`
}

// Clip is one rendered shot in cut order.
type Clip struct {
	ClipID  string  `json:"clip_id"`
	Path    string  `json:"path"`
	Seconds float64 `json:"seconds"`
	FPS     int     `json:"fps,omitempty"`
}

// Options tune one assembly.
type Options struct {
	// OutputName is the file written under renders/. Empty means final_cut.mp4.
	OutputName string
	// ClipsDir, when set, is searched first for a file with the same base
	// name as each clip's declared output.
	ClipsDir string
	// EDL also writes an edit list next to the output.
	EDL bool
}

// Report is the outcome of an assembly.
type Report struct {
	Output  string    `json:"output"`
	EDLPath string    `json:"edl_path,omitempty"`
	Clips   []Clip    `json:"clips"`
	Missing []Missing `json:"missing,omitempty"`
}

// Paths returns the clip files in cut order.
func (r *Report) Paths() []string {
	out := make([]string, len(r.Clips))
	for i, c := range r.Clips {
		out[i] = c.Path
	}
	return out
}

// Seconds is the summed length of the cut.
func (r *Report) Seconds() float64 {
	var total float64
	for _, c := range r.Clips {
		total += c.Seconds
	}
	return total
}

type Assembler struct {
	project project.Project
	concat  Concatenator
	logger  *slog.Logger
}

func New(p project.Project, concat Concatenator, logger *slog.Logger) *Assembler {
	return &Assembler{
		project: p,
		concat:  concat,
		logger:  logging.WithComponent(logging.OrDiscard(logger), "assemble"),
	}
}

// Collect resolves the shot list to rendered files without concatenating.
func (a *Assembler) Collect(clipsDir string) (clips []Clip, missing []Missing, err error) {
	order, err := a.clipOrder()
	if err != nil {
		return nil, nil, err
	}
	for _, id := range order {
		clip, reason := a.resolveClip(id, clipsDir)
		if reason != "" {
			missing = append(missing, Missing{ClipID: id, Reason: reason})
			continue
		}
		clips = append(clips, clip)
	}
	return clips, missing, nil
}

// Assemble concatenates every rendered shot into renders/<OutputName>.
// Missing shots are skipped and reported.
func (a *Assembler) Assemble(ctx context.Context, opts Options) (*Report, error) {
	name, err := outputName(opts.OutputName)
	if err != nil {
		return nil, err
	}
	clips, missing, err := a.Collect(opts.ClipsDir)
	if err != nil {
		return nil, err
	}
	for _, m := range missing {
		a.logger.Warn("skipping clip", "clip_id", m.ClipID, "reason", m.Reason)
	}

	report := &Report{
		Output:  filepath.Join(a.project.RendersDir(), name),
		Clips:   clips,
		Missing: missing,
	}
	if len(clips) == 0 {
		return report, ErrNoClips
	}
	if err := os.MkdirAll(filepath.Dir(report.Output), 0755); err != nil {
		return report, errors.Wrap(err, "failed to create renders dir")
	}
	if err := a.concat.Concat(ctx, report.Paths(), report.Output); err != nil {
		return report, err
	}

	if opts.EDL {
		report.EDLPath = strings.TrimSuffix(report.Output, filepath.Ext(report.Output)) + ".edl"
		title := strings.TrimSuffix(name, filepath.Ext(name))
		if err := os.WriteFile(report.EDLPath, []byte(EDL(title, timelineFPS(clips), clips)), 0644); err != nil {
			return report, errors.Wrap(err, "failed to write edit list")
		}
	}

	a.logger.Info("assembled final cut",
		"clips", len(clips),
		"skipped", len(missing),
		"seconds", report.Seconds(),
		"output", logging.SanitizePath(report.Output),
	)
	return report, nil
}

// outputName rejects names that would leave the renders directory.
func outputName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultOutputName, nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid output name %q: must be a plain file name", name)
	}
	if filepath.Ext(name) == "" {
		name += ".mp4"
	}
	return name, nil
}

// timelineFPS is the rate of the first clip that recorded one.
func timelineFPS(clips []Clip) int {
	for _, c := range clips {
		if c.FPS > 0 {
			return c.FPS
		}
	}
	return defaultEDLFPS
}

func (a *Assembler) clipOrder() ([]string, error) {
	data, err := os.ReadFile(a.project.ShotlistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoShotlist, "missing %s", a.project.ShotlistPath())
		}
		return nil, err
	}
	var sl shotlist
	if err := yaml.Unmarshal(data, &sl); err != nil {
		return nil, errors.Wrap(err, "failed to parse shot list")
	}
	var ids []string
	for _, sc := range sl.Scenes {
		for _, sh := range sc.Shots {
			if sh.ClipID != "" {
				ids = append(ids, sh.ClipID)
			}
		}
	}
	return ids, nil
}

// resolveClip returns the rendered clip for id, or a reason it is unusable.
func (a *Assembler) resolveClip(id, clipsDir string) (Clip, string) {
	specPath, err := clipspec.Locate(a.project.ClipsDir(), id)
	if err != nil {
		return Clip{}, "spec missing"
	}
	spec, err := clipspec.Load(specPath)
	if err != nil {
		return Clip{}, fmt.Sprintf("spec unreadable: %v", err)
	}
	if spec.Outputs.MP4 == "" {
		return Clip{}, "no output path"
	}
	path := a.project.Resolve(spec.Outputs.MP4)
	if clipsDir != "" {
		override := filepath.Join(clipsDir, filepath.Base(path))
		if isFile(override) {
			path = override
		}
	}
	if !isFile(path) {
		return Clip{}, "not rendered: " + path
	}
	seconds, fps := a.clipTiming(spec, path)
	return Clip{ClipID: id, Path: path, Seconds: seconds, FPS: fps}, ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

package pipelines

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/vtxstudio/vtx/internal/logging"
)

const (
	stderrKeep    = 8 * 1024
	helpKeep      = 256 * 1024
	logPromptHead = 80
	logStderrTail = 512
)

// Runner executes pipeline modules as subprocesses.
type Runner interface {
	// Help runs `python -m <module> --help` and returns combined output.
	Help(ctx context.Context, module string) (string, error)

	// Run executes the command and blocks until it exits. A non-zero exit
	// is reported through RunResult, not the error.
	Run(ctx context.Context, cmd Command) (RunResult, error)
}

// Config holds the runner's configuration.
type Config struct {
	PythonPath    string        // empty = python3, then python, on PATH
	ProbeTimeout  time.Duration // per --help call
	RenderTimeout time.Duration // per render; 0 = none
	Logger        *slog.Logger
	DebugPaths    bool // log full paths instead of ~-relative ones
}

// SubprocessRunner runs modules with a resolved python interpreter.
type SubprocessRunner struct {
	cfg    Config
	python string
	logger *slog.Logger
}

func NewRunner(cfg Config) (*SubprocessRunner, error) {
	python, err := findPython(cfg.PythonPath)
	if err != nil {
		return nil, err
	}
	logger := logging.WithComponent(logging.OrDiscard(cfg.Logger), "pipeline-runner")
	logger.Debug("pipeline runner ready", "python", python)
	return &SubprocessRunner{cfg: cfg, python: python, logger: logger}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (r *SubprocessRunner) Help(ctx context.Context, module string) (string, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	out := newTailBuffer(helpKeep)
	cmd := exec.CommandContext(ctx, r.python, "-m", module, "--help")
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return out.String(), pkgerrors.Wrapf(err, "%s --help", module)
	}
	return out.String(), nil
}

func (r *SubprocessRunner) Run(ctx context.Context, c Command) (RunResult, error) {
	ctx, cancel := withTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	start := time.Now()
	res := RunResult{OutputPath: c.OutputPath}
	if c.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(c.OutputPath), 0755); err != nil {
			r.logger.Error("cannot create output dir", "error", err)
			res.ExitCode, res.StderrTail, res.Duration = -1, err.Error(), time.Since(start)
			return res, nil
		}
	}

	args := c.Argv()
	stderr := newTailBuffer(stderrKeep)
	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	r.logger.Info("executing pipeline command", "module", c.Module, "args", shortenPrompts(args))
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.ExitCode, res.StderrTail = exitStatus(ctx, err, stderr.String())

	if res.ExitCode != 0 {
		r.logger.Warn("pipeline command failed",
			"module", c.Module,
			"exit_code", res.ExitCode,
			"duration_ms", res.Duration.Milliseconds(),
			"stderr_tail", clipTail(res.StderrTail, logStderrTail),
		)
		return res, nil
	}
	r.logger.Info("pipeline command succeeded",
		"module", c.Module,
		"duration_ms", res.Duration.Milliseconds(),
		"output", r.logPath(c.OutputPath),
	)
	return res, nil
}

// exitStatus maps a finished command to an exit code and diagnostic
// tail. Timeouts and cancellation report -1 with the context error
// appended.
func exitStatus(ctx context.Context, err error, stderr string) (int, string) {
	if err == nil {
		return 0, stderr
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, strings.TrimSpace(stderr + "\n" + ctxErr.Error())
	}
	if stderr == "" {
		stderr = err.Error()
	}
	return code, stderr
}

func (r *SubprocessRunner) logPath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	return logging.SanitizePath(path)
}

// shortenPrompts copies args with every --*prompt* value cut to a
// readable head.
func shortenPrompts(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i+1 < len(out); i++ {
		if strings.HasPrefix(out[i], "--") && strings.Contains(out[i], "prompt") {
			out[i+1] = clipHead(out[i+1], logPromptHead)
		}
	}
	return out
}

// findPython resolves the interpreter: the configured one must exist,
// otherwise python3 then python from PATH.
func findPython(preferred string) (string, error) {
	if preferred != "" {
		p, err := exec.LookPath(preferred)
		if err != nil {
			return "", pkgerrors.Errorf("configured python %q not found", preferred)
		}
		return p, nil
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", pkgerrors.New("no python binary on PATH (tried python3, python)")
}

func clipTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func clipHead(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tailBuffer is a writer that retains only the last limit bytes.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

package assemble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/vtxstudio/vtx/internal/logging"
)

const maxStderrBytes = 4 * 1024

// Concatenator joins video files, in order, into a single output file.
type Concatenator interface {
	Concat(ctx context.Context, inputs []string, output string) error
}

// FFmpegConcat uses the ffmpeg concat demuxer with stream copy, so every
// input must share codec parameters.
type FFmpegConcat struct {
	Binary string // empty = "ffmpeg" on PATH
	Logger *slog.Logger
}

// NewFFmpegConcat returns a concatenator using the ffmpeg binary on PATH.
func NewFFmpegConcat(logger *slog.Logger) *FFmpegConcat {
	return &FFmpegConcat{Logger: logger}
}

// Args returns the ffmpeg arguments for concatenating the list file into output.
func Args(listPath, output string) []string {
	return ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": "0"}).
		Output(output, ffmpeg.KwArgs{"c": "copy"}).
		OverWriteOutput().
		GetArgs()
}

func (f *FFmpegConcat) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return errors.New("no inputs to concatenate")
	}
	listPath := strings.TrimSuffix(output, filepath.Ext(output)) + ".txt"
	if err := writeList(listPath, inputs); err != nil {
		return errors.Wrap(err, "failed to write concat list")
	}
	defer os.Remove(listPath)

	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := Args(listPath, output)
	logger := logging.OrDiscard(f.Logger)
	logger.Info("concatenating clips", "inputs", len(inputs), "output", logging.SanitizePath(output))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > maxStderrBytes {
			tail = tail[len(tail)-maxStderrBytes:]
		}
		logger.Warn("ffmpeg concat failed", "error", err, "stderr_tail", tail)
		return errors.Wrapf(err, "failed to concatenate %d clips", len(inputs))
	}
	logger.Debug("ffmpeg concat complete", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// writeList writes a concat demuxer list with one absolute path per line.
func writeList(path string, inputs []string) error {
	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		abs = filepath.ToSlash(abs)
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

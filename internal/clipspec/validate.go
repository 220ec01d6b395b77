package clipspec

import (
	"fmt"
	"strings"
)

// ValidationError lists every problem found in a spec.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid clip spec: " + strings.Join(e.Problems, "; ")
}

// Validate checks structural requirements. It never touches the filesystem.
func Validate(s *Spec) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(s.ClipID) == "" {
		add("clip_id is required")
	}
	if strings.TrimSpace(s.Prompt.Positive) == "" {
		add("prompt.positive is required")
	}

	if s.Render == nil {
		add("render section is required")
	} else {
		r := s.Render
		positive := map[string]*int{
			"render.fps":        r.FPS,
			"render.width":      r.Width,
			"render.height":     r.Height,
			"render.steps":      r.Steps,
			"render.num_frames": r.NumFrames,
		}
		for _, name := range []string{"render.fps", "render.width", "render.height", "render.steps", "render.num_frames"} {
			if v := positive[name]; v != nil && *v <= 0 {
				add("%s must be positive, got %d", name, *v)
			}
		}
		if r.Seed != nil && *r.Seed < 0 {
			add("render.seed must not be negative")
		}

		d := r.Duration
		switch d.Mode {
		case "", DurationAuto:
		case DurationFixed:
			if d.Seconds == nil || *d.Seconds <= 0 {
				add("render.duration.seconds must be positive when mode is fixed")
			}
		default:
			add("render.duration.mode %q is not auto or fixed", d.Mode)
		}
		if d.MinSeconds != nil && *d.MinSeconds < 0 {
			add("render.duration.min_seconds must not be negative")
		}
		if d.MaxSeconds != nil && *d.MaxSeconds < 0 {
			add("render.duration.max_seconds must not be negative")
		}
		if d.MinSeconds != nil && d.MaxSeconds != nil && *d.MaxSeconds > 0 && *d.MinSeconds > *d.MaxSeconds {
			add("render.duration.min_seconds exceeds max_seconds")
		}

		switch r.FinalStrategy {
		case "", StrategyT2V, StrategyV2V:
		default:
			add("render.final_strategy %q is not t2v or v2v", r.FinalStrategy)
		}
	}

	for i, l := range s.Loras {
		if strings.TrimSpace(l.Env) == "" {
			add("loras[%d].env is required", i)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

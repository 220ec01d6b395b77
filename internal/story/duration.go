// Package story turns declarative clip content into render inputs: a target
// duration and the compiled prompt pair.
package story

import (
	"regexp"
	"strings"

	"github.com/vtxstudio/vtx/internal/clipspec"
)

const (
	baseSeconds    = 1.6
	perBeatSeconds = 1.1

	readHoldFloor = 3.2
	slowFloor     = 2.8
	dialogueFloor = 4.0

	// MinClipSeconds is the shortest clip ever requested.
	MinClipSeconds = 0.5
	// DefaultMaxSeconds caps auto durations when neither the spec nor the
	// settings provide a ceiling.
	DefaultMaxSeconds = 15.0
)

var readHoldKeywords = []string{
	"read",
	"readable",
	"inscription",
	"plaque",
	"lettering",
	"caption",
	"text on",
	"clearly readable",
}

var slowKeywords = []string{
	"slow",
	"lingers",
	"hold",
	"pensive",
	"smoke spirals",
	"volumetric",
	"eerie",
	"quiet",
}

var (
	doubleQuoted = regexp.MustCompile(`".+?"`)
	singleQuoted = regexp.MustCompile(`'[^']+'`)
)

// EstimateSeconds returns the target clip length. A fixed duration is
// returned as declared; otherwise the length grows with the beat count and
// is floored for text, slow beats and dialogue, then clamped to the spec's
// bounds. defaultMax applies when the spec sets no max_seconds.
func EstimateSeconds(s *clipspec.Spec, defaultMax float64) float64 {
	d := s.RenderOrEmpty().Duration
	if d.Mode == clipspec.DurationFixed && d.Seconds != nil {
		return *d.Seconds
	}

	seconds := baseSeconds + perBeatSeconds*float64(len(s.StoryBeats))

	positive := s.Prompt.Positive
	lower := strings.ToLower(positive)
	if containsAny(lower, readHoldKeywords) {
		seconds = max(seconds, readHoldFloor)
	}
	if containsAny(lower, slowKeywords) {
		seconds = max(seconds, slowFloor)
	}
	if doubleQuoted.MatchString(positive) || singleQuoted.MatchString(positive) {
		seconds = max(seconds, dialogueFloor)
	}

	lo, hi := Bounds(d, defaultMax)
	return Clamp(seconds, lo, hi)
}

// Bounds resolves the [min, max] window of a duration policy. A missing or
// zero max falls back to defaultMax, and then to DefaultMaxSeconds.
func Bounds(d clipspec.Duration, defaultMax float64) (lo, hi float64) {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxSeconds
	}
	hi = defaultMax
	if d.MaxSeconds != nil && *d.MaxSeconds > 0 {
		hi = *d.MaxSeconds
	}
	if d.MinSeconds != nil && *d.MinSeconds > 0 {
		lo = *d.MinSeconds
	}
	return lo, hi
}

// Clamp applies the window and the MinClipSeconds floor. The floor wins
// over a max below it.
func Clamp(seconds, lo, hi float64) float64 {
	if lo > 0 {
		seconds = max(seconds, lo)
	}
	seconds = min(seconds, hi)
	return max(MinClipSeconds, seconds)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

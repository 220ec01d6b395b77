package render

import (
	"testing"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/presets"
)

func presetsFor(name string) presets.Baseline {
	b, _ := presets.Resolve(name)
	return b
}

func renderWith(w, h int) clipspec.Render {
	return clipspec.Render{Width: &w, Height: &h}
}

func TestFirstNonNil(t *testing.T) {
	a, b := 1, 2
	if got := firstNonNil(nil, &a, &b); got != &a {
		t.Errorf("firstNonNil() = %v, want first set value", got)
	}
	if got := firstNonNil[int](nil, nil); got != nil {
		t.Errorf("firstNonNil(nil, nil) = %v", got)
	}
	if got := valueOr(firstNonNil[int](), 9); got != 9 {
		t.Errorf("valueOr() = %d, want default", got)
	}
}

func TestEvenDim(t *testing.T) {
	tests := map[float64]int{
		0:     2,
		1:     2,
		3:     4,
		767.9: 768,
		769:   770,
		770.9: 770,
		1080:  1080,
	}
	for in, want := range tests {
		if got := evenDim(in); got != want {
			t.Errorf("evenDim(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestResolveFrames(t *testing.T) {
	fifty := 50
	zero := 0
	tests := []struct {
		name      string
		seconds   float64
		fps       int
		override  *int
		maxFrames int
		want      int
	}{
		{"rounded", 1.6, 24, nil, 257, 38},
		{"override", 1.6, 24, &fifty, 257, 50},
		{"zero override ignored", 1.6, 24, &zero, 257, 38},
		{"clamped", 20, 24, nil, 257, 257},
		{"override clamped", 1, 24, &fifty, 30, 30},
		{"never zero", 0.01, 1, nil, 257, 1},
		{"no max", 20, 24, nil, 0, 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveFrames(tt.seconds, tt.fps, tt.override, tt.maxFrames); got != tt.want {
				t.Errorf("resolveFrames() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWithSuffix(t *testing.T) {
	if got := withSuffix("/r/a.mp4", "_final"); got != "/r/a_final.mp4" {
		t.Errorf("withSuffix() = %q", got)
	}
}

// Package presets maps named quality tiers to baseline render settings.
package presets

import "sort"

// Baseline is the set of values a tier pins. Nil fields are left to the
// next layer of defaults.
type Baseline struct {
	Width  *int
	Height *int
	FPS    *int
	Steps  *int
}

type tier struct {
	width, height, fps, steps int
}

var tiers = map[string]tier{
	"low":    {480, 270, 12, 20},
	"medium": {768, 432, 24, 30},
	"high":   {1280, 720, 24, 50},
	"ultra":  {1920, 1080, 24, 60},
}

// Resolve returns the baseline for name. Unknown names, including the
// "draft" and "final" pass names, yield an empty baseline and false.
func Resolve(name string) (Baseline, bool) {
	t, ok := tiers[name]
	if !ok {
		return Baseline{}, false
	}
	return Baseline{
		Width:  intPtr(t.width),
		Height: intPtr(t.height),
		FPS:    intPtr(t.fps),
		Steps:  intPtr(t.steps),
	}, true
}

// Names lists the known tiers, sorted.
func Names() []string {
	out := make([]string, 0, len(tiers))
	for k := range tiers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func intPtr(v int) *int { return &v }

package assemble

import (
	"fmt"
	"math"
	"strings"
)

const defaultEDLFPS = 24

// EDL renders a CMX3600-style edit list of the cut. Every clip is used in
// full, so source in is always zero and record times accumulate.
func EDL(title string, fps int, clips []Clip) string {
	if fps <= 0 {
		fps = defaultEDLFPS
	}

	lines := []string{
		fmt.Sprintf("TITLE: %s", sanitizeTitle(title)),
		"FCM: NON-DROP FRAME",
		"",
	}

	record := 0
	for i, c := range clips {
		frames := int(math.Round(c.Seconds * float64(fps)))
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				timecode(0, fps), timecode(frames, fps), timecode(record, fps), timecode(record+frames, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", c.ClipID),
			fmt.Sprintf("* MEDIA PATH:  %s", c.Path),
		)
		record += frames
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func timecode(frames, fps int) string {
	f := frames % fps
	totalSeconds := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, totalSeconds/60%60, totalSeconds%60, f)
}

func sanitizeTitle(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' || r < 0x20 {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

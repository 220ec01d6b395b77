package assemble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vtxstudio/vtx/internal/project"
)

type fakeConcat struct {
	ConcatFn func(ctx context.Context, inputs []string, output string) error
	calls    [][]string
	outputs  []string
}

func (f *fakeConcat) Concat(ctx context.Context, inputs []string, output string) error {
	f.calls = append(f.calls, inputs)
	f.outputs = append(f.outputs, output)
	if f.ConcatFn != nil {
		return f.ConcatFn(ctx, inputs, output)
	}
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

const shotlistYAML = `
scenes:
  - scene: 1
    shots:
      - clip_id: A1_S1_SH1
      - clip_id: A1_S1_SH2
      - note: no id here
  - scene: 2
    shots:
      - clip_id: A1_S2_SH1
      - clip_id: A1_S2_SH2
`

func setupProject(t *testing.T) project.Project {
	t.Helper()
	p := project.Project{Root: t.TempDir()}
	writeFile(t, p.ShotlistPath(), shotlistYAML)

	writeFile(t, filepath.Join(p.ClipsDir(), "A1_S1_SH1__open.yaml"),
		"clip_id: A1_S1_SH1\noutputs:\n  mp4: renders/clips/A1_S1_SH1.mp4\n")
	writeFile(t, filepath.Join(p.ClipsDir(), "A1_S1_SH2__walk.yaml"),
		"clip_id: A1_S1_SH2\noutputs:\n  mp4: renders/clips/A1_S1_SH2.mp4\n")
	writeFile(t, filepath.Join(p.ClipsDir(), "A1_S2_SH1__door.yaml"),
		"clip_id: A1_S2_SH1\nprompt:\n  positive: door\n")
	// A1_S2_SH2 has no spec at all.

	writeFile(t, filepath.Join(p.RendersDir(), "clips", "A1_S1_SH1.mp4"), "one")
	return p
}

func TestAssemble_SkipsMissingClips(t *testing.T) {
	p := setupProject(t)
	fc := &fakeConcat{}

	report, err := New(p, fc, nil).Assemble(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	wantOut := filepath.Join(p.RendersDir(), DefaultOutputName)
	if report.Output != wantOut {
		t.Errorf("Output = %q, want %q", report.Output, wantOut)
	}
	wantClips := []string{filepath.Join(p.Root, "renders", "clips", "A1_S1_SH1.mp4")}
	if !reflect.DeepEqual(report.Paths(), wantClips) {
		t.Errorf("Clips = %v, want %v", report.Paths(), wantClips)
	}
	if len(fc.calls) != 1 || fc.outputs[0] != wantOut {
		t.Fatalf("concat calls = %v -> %v", fc.calls, fc.outputs)
	}

	reasons := map[string]string{}
	for _, m := range report.Missing {
		reasons[m.ClipID] = m.Reason
	}
	if len(reasons) != 3 {
		t.Fatalf("Missing = %+v, want 3 entries", report.Missing)
	}
	if !strings.HasPrefix(reasons["A1_S1_SH2"], "not rendered") {
		t.Errorf("A1_S1_SH2 reason = %q", reasons["A1_S1_SH2"])
	}
	if reasons["A1_S2_SH1"] != "no output path" {
		t.Errorf("A1_S2_SH1 reason = %q", reasons["A1_S2_SH1"])
	}
	if reasons["A1_S2_SH2"] != "spec missing" {
		t.Errorf("A1_S2_SH2 reason = %q", reasons["A1_S2_SH2"])
	}
}

func TestAssemble_KeepsShotOrder(t *testing.T) {
	p := setupProject(t)
	writeFile(t, filepath.Join(p.RendersDir(), "clips", "A1_S1_SH2.mp4"), "two")
	fc := &fakeConcat{}

	report, err := New(p, fc, nil).Assemble(context.Background(), Options{OutputName: "cut.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(p.Root, "renders", "clips", "A1_S1_SH1.mp4"),
		filepath.Join(p.Root, "renders", "clips", "A1_S1_SH2.mp4"),
	}
	if !reflect.DeepEqual(fc.calls[0], want) {
		t.Errorf("concat inputs = %v, want %v", fc.calls[0], want)
	}
	if filepath.Base(report.Output) != "cut.mp4" {
		t.Errorf("Output = %q", report.Output)
	}
}

func TestAssemble_ClipsDirOverride(t *testing.T) {
	p := setupProject(t)
	alt := t.TempDir()
	writeFile(t, filepath.Join(alt, "A1_S1_SH1.mp4"), "graded")
	writeFile(t, filepath.Join(alt, "A1_S1_SH2.mp4"), "graded")

	clips, missing, err := New(p, &fakeConcat{}, nil).Collect(alt)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(alt, "A1_S1_SH1.mp4"), filepath.Join(alt, "A1_S1_SH2.mp4")}
	if len(clips) != 2 {
		t.Fatalf("clips = %+v, want 2", clips)
	}
	if got := []string{clips[0].Path, clips[1].Path}; !reflect.DeepEqual(got, want) {
		t.Errorf("clips = %v, want %v", got, want)
	}
	if len(missing) != 2 {
		t.Errorf("missing = %+v", missing)
	}
}

func TestAssemble_NoClips(t *testing.T) {
	p := project.Project{Root: t.TempDir()}
	writeFile(t, p.ShotlistPath(), "scenes:\n  - shots:\n      - clip_id: A1_S1_SH1\n")
	fc := &fakeConcat{}

	report, err := New(p, fc, nil).Assemble(context.Background(), Options{})
	if !errors.Is(err, ErrNoClips) {
		t.Fatalf("error = %v, want ErrNoClips", err)
	}
	if len(report.Missing) != 1 {
		t.Errorf("Missing = %+v", report.Missing)
	}
	if len(fc.calls) != 0 {
		t.Error("concat called with no clips")
	}
}

func TestAssemble_MissingShotlist(t *testing.T) {
	p := project.Project{Root: t.TempDir()}
	_, err := New(p, &fakeConcat{}, nil).Assemble(context.Background(), Options{})
	if !errors.Is(err, ErrNoShotlist) {
		t.Fatalf("error = %v, want ErrNoShotlist", err)
	}
}

func TestAssemble_ConcatError(t *testing.T) {
	p := setupProject(t)
	boom := errors.New("ffmpeg exploded")
	fc := &fakeConcat{ConcatFn: func(context.Context, []string, string) error { return boom }}

	_, err := New(p, fc, nil).Assemble(context.Background(), Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestArgs(t *testing.T) {
	args := Args("/tmp/list.txt", "/tmp/out.mp4")
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f concat", "-safe 0", "-i /tmp/list.txt", "-c copy", "/tmp/out.mp4", "-y"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestWriteList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "cut.txt")
	inputs := []string{filepath.Join(dir, "a.mp4"), filepath.Join(dir, "it's.mp4")}
	if err := writeList(list, inputs); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "file '"+filepath.ToSlash(inputs[0])+"'" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s.mp4`) {
		t.Errorf("quote not escaped: %q", lines[1])
	}
}

func TestFFmpegConcat_NoInputs(t *testing.T) {
	err := NewFFmpegConcat(nil).Concat(context.Background(), nil, filepath.Join(t.TempDir(), "x.mp4"))
	if err == nil {
		t.Fatal("expected error for empty inputs")
	}
}

func TestFFmpegConcat_FailureRemovesList(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "cut.mp4")
	c := &FFmpegConcat{Binary: filepath.Join(dir, "no-such-ffmpeg")}
	if err := c.Concat(context.Background(), []string{filepath.Join(dir, "a.mp4")}, out); err == nil {
		t.Fatal("expected error from missing binary")
	}
	if _, err := os.Stat(filepath.Join(dir, "cut.txt")); !os.IsNotExist(err) {
		t.Errorf("list file left behind: %v", err)
	}
}

func TestAssemble_WritesEDL(t *testing.T) {
	p := setupProject(t)
	writeFile(t, filepath.Join(p.RendersDir(), "clips", "A1_S1_SH1.json"), `{"seconds": 2.5, "fps": 24}`)
	writeFile(t, filepath.Join(p.RendersDir(), "clips", "A1_S1_SH2.mp4"), "two")
	writeFile(t, filepath.Join(p.RendersDir(), "clips", "A1_S1_SH2.json"), `{"seconds": 1, "fps": 24}`)

	report, err := New(p, &fakeConcat{}, nil).Assemble(context.Background(), Options{OutputName: "cut", EDL: true})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(report.Output) != "cut.mp4" {
		t.Errorf("Output = %q, want cut.mp4", report.Output)
	}
	if report.Seconds() != 3.5 {
		t.Errorf("Seconds() = %v, want 3.5", report.Seconds())
	}

	data, err := os.ReadFile(report.EDLPath)
	if err != nil {
		t.Fatalf("read edl: %v", err)
	}
	edl := string(data)
	for _, want := range []string{
		"TITLE: cut",
		"001  AX       V     C        00:00:00:00 00:00:02:12 00:00:00:00 00:00:02:12",
		"002  AX       V     C        00:00:00:00 00:00:01:00 00:00:02:12 00:00:03:12",
		"* FROM CLIP NAME:  A1_S1_SH2",
	} {
		if !strings.Contains(edl, want) {
			t.Errorf("edl missing %q:\n%s", want, edl)
		}
	}
}

func TestAssemble_RejectsOutputOutsideRenders(t *testing.T) {
	p := setupProject(t)
	fc := &fakeConcat{}
	for _, name := range []string{"../escape.mp4", "sub/cut.mp4", ".."} {
		if _, err := New(p, fc, nil).Assemble(context.Background(), Options{OutputName: name}); err == nil {
			t.Errorf("output name %q accepted", name)
		}
	}
	if len(fc.calls) != 0 {
		t.Error("concat ran for a rejected output name")
	}
}

func TestClipTiming_EstimatesWithoutSidecar(t *testing.T) {
	p := project.Project{Root: t.TempDir()}
	writeFile(t, p.ShotlistPath(), "scenes:\n  - shots:\n      - clip_id: A1_S1_SH1\n")
	writeFile(t, filepath.Join(p.ClipsDir(), "A1_S1_SH1.yaml"), `
clip_id: A1_S1_SH1
story_beats: [a, b]
prompt:
  positive: a train
outputs:
  mp4: renders/A1_S1_SH1.mp4
`)
	writeFile(t, filepath.Join(p.RendersDir(), "A1_S1_SH1.mp4"), "video")

	clips, _, err := New(p, &fakeConcat{}, nil).Collect("")
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 1 {
		t.Fatalf("clips = %+v", clips)
	}
	// 1.6 base + 2 beats * 1.1
	if got := clips[0].Seconds; got < 3.79 || got > 3.81 {
		t.Errorf("Seconds = %v, want 3.8", got)
	}
	if clips[0].FPS != 0 {
		t.Errorf("FPS = %d, want 0 without a sidecar", clips[0].FPS)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		frames, fps int
		want        string
	}{
		{0, 24, "00:00:00:00"},
		{24, 24, "00:00:01:00"},
		{12, 24, "00:00:00:12"},
		{24 * 60, 24, "00:01:00:00"},
		{24 * 3600, 24, "01:00:00:00"},
	}
	for _, tc := range tests {
		if got := timecode(tc.frames, tc.fps); got != tc.want {
			t.Errorf("timecode(%d, %d) = %q, want %q", tc.frames, tc.fps, got, tc.want)
		}
	}
}

func TestEDL_DefaultsRateAndStripsControlChars(t *testing.T) {
	edl := EDL("night\ntrain", 0, []Clip{{ClipID: "A", Path: "/a.mp4", Seconds: 1}})
	if !strings.HasPrefix(edl, "TITLE: nighttrain\n") {
		t.Errorf("title line wrong: %q", edl)
	}
	if !strings.Contains(edl, "00:00:00:00 00:00:01:00 00:00:00:00 00:00:01:00") {
		t.Errorf("event line wrong at default rate: %q", edl)
	}
}

package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vtxstudio/vtx/internal/clipspec"
	"github.com/vtxstudio/vtx/internal/registry"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t, manifest(allFlags...))
	env.writeSpec(t, "A1_S1_SH1__dusk.yaml", simpleSpec("A1_S1_SH1"))
	ctrl := env.controller(t)

	a, err := ctrl.Approve("A1_S1_SH1", clipspec.StrategyV2V)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if a.DraftExists {
		t.Error("DraftExists = true with no render on disk")
	}

	spec, err := clipspec.Load(a.SpecPath)
	if err != nil {
		t.Fatal(err)
	}
	if !spec.Render.Approved || spec.Render.FinalStrategy != clipspec.StrategyV2V {
		t.Errorf("render = %+v", spec.Render)
	}
	if spec.Render.FPS == nil || *spec.Render.FPS != 24 {
		t.Error("existing render fields lost on approve")
	}

	writeFile(t, filepath.Join(env.root, "renders", "A1_S1_SH1.mp4"), "video")
	a, _ = ctrl.Approve("A1_S1_SH1", clipspec.StrategyT2V)
	if !a.DraftExists {
		t.Error("DraftExists = false with render on disk")
	}

	if _, err := ctrl.Approve("A1_S1_SH1", "i2v"); !errors.Is(err, ErrValidation) {
		t.Errorf("Approve(i2v) error = %v, want ErrValidation", err)
	}
	if _, err := ctrl.Approve("A9_S9_SH9", clipspec.StrategyT2V); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, manifest(allFlags...))
	env.writeSpec(t, "A1_S1_SH1__done.yaml", simpleSpec("A1_S1_SH1"))
	env.writeSpec(t, "A1_S1_SH2__pending.yaml", simpleSpec("A1_S1_SH2"))
	env.writeSpec(t, "A1_S1_SH3__noout.yaml", "clip_id: A1_S1_SH3\nprompt: {positive: x}\n")
	env.writeSpec(t, "A1_S1_SH4__broken.yaml", "clip_id: [\n")
	writeFile(t, filepath.Join(env.root, "renders", "A1_S1_SH1.mp4"), "12345")

	ctx := context.Background()
	env.repo.UpsertClip(ctx, &registry.ClipRecord{ProjectID: "p1", ClipID: "A1_S1_SH2", State: registry.StateRejected, LastError: "exit code 1"})

	rows, err := env.controller(t).Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Status() returned %d rows", len(rows))
	}

	want := []struct {
		id, status string
	}{
		{"A1_S1_SH1", StatusDone},
		{"A1_S1_SH2", StatusPending},
		{"A1_S1_SH3", StatusMissingOutput},
		{"A1_S1_SH4", StatusError},
	}
	for i, w := range want {
		if rows[i].ClipID != w.id || rows[i].Status != w.status {
			t.Errorf("row %d = %s/%s, want %s/%s", i, rows[i].ClipID, rows[i].Status, w.id, w.status)
		}
	}
	if rows[0].SizeBytes != 5 {
		t.Errorf("SizeBytes = %d, want 5", rows[0].SizeBytes)
	}
	if rows[1].State != registry.StateRejected || rows[1].LastError != "exit code 1" {
		t.Errorf("registry join = %+v", rows[1])
	}
}

func TestMark(t *testing.T) {
	env := newTestEnv(t, manifest(allFlags...))
	env.writeSpec(t, "A1_S1_SH1.yaml", simpleSpec("A1_S1_SH1"))
	ctx := context.Background()
	ctrl := env.controller(t)

	env.repo.UpsertClip(ctx, &registry.ClipRecord{ProjectID: "p1", ClipID: "A1_S1_SH1", State: registry.StateRendering, OutputPath: "renders/A1_S1_SH1.mp4"})

	if err := ctrl.Mark(ctx, "A1_S1_SH1", registry.StateRendered); !errors.Is(err, ErrValidation) {
		t.Errorf("Mark(rendered) error = %v, want ErrValidation", err)
	}
	if err := ctrl.Mark(ctx, "A1_S1_SH1", registry.StatePlanned); err != nil {
		t.Fatalf("Mark(planned) error = %v", err)
	}
	rec, _ := env.repo.GetClip(ctx, "p1", "A1_S1_SH1")
	if rec.State != registry.StatePlanned || rec.OutputPath != "renders/A1_S1_SH1.mp4" {
		t.Errorf("record = %+v", rec)
	}

	if err := ctrl.Mark(ctx, "A9_S9_SH9", registry.StateQueued); !errors.Is(err, ErrNotFound) {
		t.Errorf("Mark(unknown clip) error = %v, want ErrNotFound", err)
	}
}

package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vtxstudio/vtx/internal/db"
	"github.com/vtxstudio/vtx/internal/registry"
)

func setupLoader(t *testing.T) (*Loader, *registry.SQLiteRepository) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "registry.sqlite"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := registry.NewRepository(database.Conn())
	return NewLoader(filepath.Join(t.TempDir(), "projects"), repo, nil), repo
}

func writeClip(t *testing.T, p *Project, name, body string) {
	t.Helper()
	if err := os.MkdirAll(p.ClipsDir(), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p.ClipsDir(), name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_LaysOutSkeleton(t *testing.T) {
	l, repo := setupLoader(t)
	ctx := context.Background()

	p, meta, err := l.Create(ctx, "noir", "Noir Short")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, path := range []string{p.MetadataPath(), p.EnvPath(), p.ClipsDir(), p.RendersDir(), filepath.Dir(p.ShotlistPath())} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
	if len(meta.ProjectID) != 36 {
		t.Errorf("ProjectID = %q, want a uuid", meta.ProjectID)
	}

	got, err := repo.GetProjectBySlug(ctx, "noir")
	if err != nil || got == nil {
		t.Fatalf("registry lookup = %v, %v", got, err)
	}
	if got.ProjectID != meta.ProjectID || got.Path != p.Root || got.Title != "Noir Short" {
		t.Errorf("registry row = %+v", got)
	}

	if _, _, err := l.Create(ctx, "noir", ""); !errors.Is(err, ErrExists) {
		t.Errorf("second Create() error = %v, want ErrExists", err)
	}
	if _, _, err := l.Create(ctx, "Bad Slug", ""); err == nil {
		t.Error("Create() accepted an invalid slug")
	}
}

func TestLoad(t *testing.T) {
	l, _ := setupLoader(t)
	if _, err := l.Load("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
	}
	l.Create(context.Background(), "real", "")
	p, err := l.Load("real")
	if err != nil || filepath.Base(p.Root) != "real" {
		t.Errorf("Load(real) = %+v, %v", p, err)
	}
}

func TestSyncAll_RegistersClips(t *testing.T) {
	l, repo := setupLoader(t)
	ctx := context.Background()

	p, meta, err := l.Create(ctx, "noir", "")
	if err != nil {
		t.Fatal(err)
	}
	writeClip(t, p, "A1_S1_SH1__open.yaml", "clip_id: A1_S1_SH1\nprompt: {positive: x}\noutputs: {mp4: renders/a.mp4}\n")
	writeClip(t, p, "A1_S1_SH2__noid.yaml", "prompt: {positive: y}\nstatus: {state: queued}\n")
	writeClip(t, p, "A1_S1_SH3__broken.yaml", "clip_id: [unclosed\n")

	os.MkdirAll(filepath.Join(l.Root(), "not-a-project"), 0755)

	n, err := l.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("SyncAll() synced %d projects, want 1", n)
	}

	clips, err := repo.ListClips(ctx, meta.ProjectID)
	if err != nil {
		t.Fatal(err)
	}
	if len(clips) != 2 {
		t.Fatalf("ListClips() = %d rows, want 2", len(clips))
	}
	if clips[0].ClipID != "A1_S1_SH1" || clips[0].State != registry.StatePlanned || clips[0].OutputPath != "renders/a.mp4" {
		t.Errorf("clip[0] = %+v", clips[0])
	}
	if clips[1].ClipID != "A1_S1_SH2" || clips[1].State != registry.StateQueued {
		t.Errorf("clip[1] = %+v", clips[1])
	}
}

func TestSyncAll_KeepsFinishedState(t *testing.T) {
	l, repo := setupLoader(t)
	ctx := context.Background()

	p, meta, _ := l.Create(ctx, "noir", "")
	writeClip(t, p, "A1_S1_SH1.yaml", "clip_id: A1_S1_SH1\nprompt: {positive: x}\n")
	l.SyncAll(ctx)

	repo.UpsertClip(ctx, &registry.ClipRecord{ProjectID: meta.ProjectID, ClipID: "A1_S1_SH1", State: registry.StateRendered})
	before, _ := repo.GetClip(ctx, meta.ProjectID, "A1_S1_SH1")

	if _, err := l.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	after, _ := repo.GetClip(ctx, meta.ProjectID, "A1_S1_SH1")
	if after.State != registry.StateRendered {
		t.Errorf("State = %q, sync must not downgrade a rendered clip", after.State)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("UpdatedAt changed from %v to %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestSyncAll_LeavesRegistryLifecycleAlone(t *testing.T) {
	l, repo := setupLoader(t)
	ctx := context.Background()

	p, meta, _ := l.Create(ctx, "noir", "")
	writeClip(t, p, "A1_S1_SH1.yaml", "clip_id: A1_S1_SH1\nprompt: {positive: x}\n")
	writeClip(t, p, "A1_S1_SH2.yaml", "clip_id: A1_S1_SH2\nprompt: {positive: y}\n")
	writeClip(t, p, "A1_S1_SH3.yaml", "clip_id: A1_S1_SH3\nprompt: {positive: z}\nstatus: {state: queued}\n")

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seeded := []*registry.ClipRecord{
		{ProjectID: meta.ProjectID, ClipID: "A1_S1_SH1", State: registry.StateRejected, UpdatedAt: old, LastError: "exit code 1: CUDA OOM"},
		{ProjectID: meta.ProjectID, ClipID: "A1_S1_SH2", State: registry.StateQueued, UpdatedAt: old},
		{ProjectID: meta.ProjectID, ClipID: "A1_S1_SH3", State: registry.StateRejected, UpdatedAt: old, LastError: "boom"},
	}
	for _, c := range seeded {
		if err := repo.UpsertClip(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := l.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	rejected, _ := repo.GetClip(ctx, meta.ProjectID, "A1_S1_SH1")
	if rejected.State != registry.StateRejected || rejected.LastError != "exit code 1: CUDA OOM" || !rejected.UpdatedAt.Equal(old) {
		t.Errorf("rejected clip rewritten by sync: %+v", rejected)
	}
	queued, _ := repo.GetClip(ctx, meta.ProjectID, "A1_S1_SH2")
	if queued.State != registry.StateQueued || !queued.UpdatedAt.Equal(old) {
		t.Errorf("queued clip rewritten by sync: %+v", queued)
	}
	declared, _ := repo.GetClip(ctx, meta.ProjectID, "A1_S1_SH3")
	if declared.State != registry.StateQueued {
		t.Errorf("explicit spec state not applied: %+v", declared)
	}
}

func TestSyncProject_RequiresProjectID(t *testing.T) {
	l, _ := setupLoader(t)
	root := filepath.Join(l.Root(), "bare")
	os.MkdirAll(root, 0755)
	os.WriteFile(filepath.Join(root, "metadata.yaml"), []byte("slug: bare\n"), 0644)

	if err := l.SyncProject(context.Background(), Project{Root: root}); err == nil {
		t.Error("SyncProject() accepted metadata without project_id")
	}
}

func TestProject_Resolve(t *testing.T) {
	p := Project{Root: "/work/noir"}
	if got := p.Resolve("renders/a.mp4"); got != filepath.Join("/work/noir", "renders/a.mp4") {
		t.Errorf("Resolve(rel) = %q", got)
	}
	if got := p.Resolve("/abs/a.mp4"); got != "/abs/a.mp4" {
		t.Errorf("Resolve(abs) = %q", got)
	}
	if got := p.Resolve(""); got != "" {
		t.Errorf("Resolve(empty) = %q", got)
	}
}

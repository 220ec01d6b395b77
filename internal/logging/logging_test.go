package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown", "clip_id", "A1_S1_SH1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out)
	}
	if rec["clip_id"] != "A1_S1_SH1" {
		t.Errorf("clip_id = %v, want A1_S1_SH1", rec["clip_id"])
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "text")
	WithClipID(WithProjectID(logger, "p1"), "c1").Info("rendered")

	out := buf.String()
	if !strings.Contains(out, "project_id=p1") || !strings.Contains(out, "clip_id=c1") {
		t.Errorf("text output missing attributes: %q", out)
	}
}

func TestSanitizePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		t.Skip("cannot determine a usable home dir")
	}
	got := SanitizePath(filepath.Join(home, ".vtx", "registry.sqlite"))
	if got != "~/.vtx/registry.sqlite" {
		t.Errorf("SanitizePath() = %q", got)
	}
	if SanitizePath("/srv/renders/a.mp4") != "/srv/renders/a.mp4" {
		t.Error("paths outside home should be unchanged")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSanitizePath_SiblingOfHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		t.Skip("cannot determine a usable home dir")
	}
	sibling := home + "-backup/clip.mp4"
	if got := SanitizePath(sibling); got != sibling {
		t.Errorf("SanitizePath(%q) = %q, want unchanged", sibling, got)
	}
}

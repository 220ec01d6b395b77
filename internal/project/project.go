// Package project knows the on-disk layout of a vtx project and keeps the
// registry in step with the projects found under the projects root.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Project is a project directory.
type Project struct {
	Root string
}

func (p Project) MetadataPath() string { return filepath.Join(p.Root, "metadata.yaml") }
func (p Project) EnvPath() string      { return filepath.Join(p.Root, "project.env") }
func (p Project) PromptsDir() string   { return filepath.Join(p.Root, "prompts") }
func (p Project) ClipsDir() string     { return filepath.Join(p.Root, "prompts", "clips") }
func (p Project) ShotlistPath() string { return filepath.Join(p.Root, "story", "04_shotlist.yaml") }
func (p Project) RendersDir() string   { return filepath.Join(p.Root, "renders") }

// Resolve joins a project-relative path onto the root. Absolute paths are
// returned unchanged.
func (p Project) Resolve(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.Root, rel)
}

// Metadata is metadata.yaml. Unknown keys survive a rewrite.
type Metadata struct {
	ProjectID string `yaml:"project_id"`
	Slug      string `yaml:"slug"`
	Title     string `yaml:"title"`
	UpdatedAt string `yaml:"updated_at,omitempty"`

	Extra map[string]any `yaml:",inline"`
}

// UpdatedTime parses UpdatedAt, returning the zero time when unset or
// malformed.
func (m *Metadata) UpdatedTime() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, m.UpdatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (p Project) LoadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(p.MetadataPath())
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse metadata for %s: %w", filepath.Base(p.Root), err)
	}
	return &m, nil
}

func (p Project) SaveMetadata(m *Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(p.MetadataPath(), data, 0644)
}

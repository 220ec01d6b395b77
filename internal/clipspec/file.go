package clipspec

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var idPattern = regexp.MustCompile(`^A(\d+)_S(\d+)_SH(\d+)$`)

// FormatID builds a clip id of the form A<act>_S<scene>_SH<shot>.
func FormatID(act, scene, shot int) string {
	return fmt.Sprintf("A%d_S%d_SH%d", act, scene, shot)
}

// ParseID splits a clip id into act, scene and shot numbers.
func ParseID(id string) (act, scene, shot int, err error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, 0, fmt.Errorf("malformed clip id %q", id)
	}
	act, _ = strconv.Atoi(m[1])
	scene, _ = strconv.Atoi(m[2])
	shot, _ = strconv.Atoi(m[3])
	return act, scene, shot, nil
}

// IDFromFilename derives a clip id from a spec filename: the stem up to the
// first "__".
func IDFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, _, _ := strings.Cut(stem, "__")
	return id
}

// ErrNotFound is returned by Locate when no file matches.
var ErrNotFound = errors.New("clip spec not found")

// Locate finds the spec file for clipID in dir: <clip_id>.yaml first, then
// the first <clip_id>__*.yaml in name order.
func Locate(dir, clipID string) (string, error) {
	if clipID == "" {
		return "", fmt.Errorf("empty clip id: %w", ErrNotFound)
	}
	exact := filepath.Join(dir, clipID+".yaml")
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, globEscape(clipID)+"__*.yaml"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no clip spec for %s in %s: %w", clipID, dir, ErrNotFound)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// List returns every spec file in dir, sorted. A missing dir yields nil.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Load parses the spec at path. An empty file decodes to a zero Spec.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// Save writes the spec back to path.
func Save(path string, s *Spec) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode %s: %w", s.ClipID, err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}

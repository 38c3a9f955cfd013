// Package manifest handles loom.toml pipeline configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a loom.toml pipeline configuration.
type Manifest struct {
	Project  Project  `toml:"project"`
	Pipeline Pipeline `toml:"pipeline"`
	Input    Input    `toml:"input"`
	Output   Output   `toml:"output"`
	Watch    Watch    `toml:"watch"`

	// Dir is the directory containing the loom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Pipeline selects and configures the passes to run.
type Pipeline struct {
	Passes []string `toml:"passes"`
	Verify bool     `toml:"verify"`
}

// Input names the serialized unit to lower.
type Input struct {
	Unit string `toml:"unit"`
}

// Output names where results are written. Dump is optional; when set, a
// textual rendering of the lowered unit is written next to the binary form.
type Output struct {
	Unit string `toml:"unit"`
	Dump string `toml:"dump"`
}

// Watch configures re-lowering on file changes.
type Watch struct {
	Dirs []string `toml:"dirs"`
}

// Load parses a loom.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "loom.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	applyDefaults(&m)
	return &m, nil
}

// FindAndLoad walks up from startDir to find a loom.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "loom.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

func applyDefaults(m *Manifest) {
	if len(m.Pipeline.Passes) == 0 {
		m.Pipeline.Passes = []string{"flatten-values"}
	}
	if m.Input.Unit == "" {
		m.Input.Unit = "unit.cbor"
	}
	if m.Output.Unit == "" {
		m.Output.Unit = "unit.lowered.cbor"
	}
}

// Resolve returns path interpreted relative to the manifest directory.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// Package manifest handles tansy.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a tansy.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Compiler CompilerConfig `toml:"compiler"`
	Cache    CacheConfig    `toml:"cache"`

	// Dir is the directory containing the tansy.toml file (set at load
	// time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// CompilerConfig controls the compiler.
type CompilerConfig struct {
	Enabled  bool `toml:"enabled"`
	DumpCode bool `toml:"dump-code"`
}

// CacheConfig controls the on-disk compile cache.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load parses a tansy.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "tansy.toml")
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

	// Defaults
	if m.Project.Name == "" {
		m.Project.Name = filepath.Base(m.Dir)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a tansy.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "tansy.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the configured compile-cache location, defaulting to
// .tansy/cache.db beside the manifest.
func (m *Manifest) CachePath() string {
	if m.Cache.Path != "" {
		if filepath.IsAbs(m.Cache.Path) {
			return m.Cache.Path
		}
		return filepath.Join(m.Dir, m.Cache.Path)
	}
	return filepath.Join(m.Dir, ".tansy", "cache.db")
}

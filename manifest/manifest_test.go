package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "tansy.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "game"
version = "1.2.0"

[compiler]
enabled = true
dump-code = true

[cache]
enabled = true
path = "build/cache.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Project.Name != "game" || m.Project.Version != "1.2.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if !m.Compiler.Enabled || !m.Compiler.DumpCode {
		t.Errorf("compiler = %+v", m.Compiler)
	}
	if !m.Cache.Enabled {
		t.Errorf("cache = %+v", m.Cache)
	}
	if m.CachePath() != filepath.Join(m.Dir, "build", "cache.db") {
		t.Errorf("cache path = %s", m.CachePath())
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	// The project name defaults to the directory name.
	if m.Project.Name != filepath.Base(m.Dir) {
		t.Errorf("default name = %q", m.Project.Name)
	}
	if m.Compiler.Enabled || m.Cache.Enabled {
		t.Errorf("defaults = %+v", m)
	}
	if m.CachePath() != filepath.Join(m.Dir, ".tansy", "cache.db") {
		t.Errorf("default cache path = %s", m.CachePath())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("loading an empty directory succeeded")
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[project\nname=")
	if _, err := Load(dir); err == nil {
		t.Error("malformed manifest accepted")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `[project]
name = "root"
`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil {
		t.Fatal("manifest not found from nested directory")
	}
	if m.Project.Name != "root" {
		t.Errorf("name = %q", m.Project.Name)
	}
}

func TestFindAndLoadAbsent(t *testing.T) {
	// Walking up from a directory with no manifest anywhere above it
	// yields nil, not an error. The temp dir's ancestors could in theory
	// carry one, but never do under Go's test tmp layout.
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("unexpected manifest: %+v", m)
	}
}

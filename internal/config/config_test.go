package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTargets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("TARGETS_FILE", "")
	t.Setenv("SCOPE_DIRS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging defaults = %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.TargetsFile != "targets.json" {
		t.Errorf("TargetsFile = %q", cfg.TargetsFile)
	}
	if cfg.ScopeDirs != nil {
		t.Errorf("ScopeDirs = %v, want nil", cfg.ScopeDirs)
	}
}

func TestLoadScopeDirsSplitsOnPathListSeparator(t *testing.T) {
	t.Setenv("SCOPE_DIRS", "/srv/a"+string(os.PathListSeparator)+"/srv/b")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.ScopeDirs) != 2 || cfg.ScopeDirs[0] != "/srv/a" || cfg.ScopeDirs[1] != "/srv/b" {
		t.Errorf("ScopeDirs = %v", cfg.ScopeDirs)
	}
}

func TestLoadTargets(t *testing.T) {
	path := writeTargets(t, `[
		{"name": "prod", "type": "sftp", "dir": "releases", "config": {"host": "example.com"}},
		{"name": "cdn", "type": "s3", "config": {"bucket": "assets"}}
	]`)

	targets, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}
	if targets[0].Name != "prod" || targets[0].Type != "sftp" || targets[0].Dir != "releases" {
		t.Errorf("target[0] = %+v", targets[0])
	}
	if len(targets[1].Config) == 0 {
		t.Error("raw backend config was not preserved")
	}
}

func TestLoadTargetsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", `[{"type": "s3"}]`},
		{"missing type", `[{"name": "x"}]`},
		{"duplicate name", `[{"name": "x", "type": "s3"}, {"name": "x", "type": "ftp"}]`},
		{"broken json", `[{`},
	}
	for _, tt := range tests {
		path := writeTargets(t, tt.content)
		if _, err := LoadTargets(path); err == nil {
			t.Errorf("%s: LoadTargets accepted invalid input", tt.name)
		}
	}

	if _, err := LoadTargets(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("LoadTargets succeeded on a missing file")
	}
}

func TestFindTarget(t *testing.T) {
	targets := []Target{{Name: "a", Type: "local"}, {Name: "b", Type: "ftp"}}

	got, err := FindTarget(targets, "b")
	if err != nil {
		t.Fatalf("FindTarget error: %v", err)
	}
	if got.Type != "ftp" {
		t.Errorf("FindTarget = %+v", got)
	}
	if _, err := FindTarget(targets, "c"); err == nil {
		t.Error("FindTarget found a nonexistent target")
	}
}

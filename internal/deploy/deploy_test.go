package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/deployer/internal/backend/local"
)

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunUploadsWorkspace(t *testing.T) {
	source := writeWorkspace(t, map[string]string{
		"index.html":    "<html>",
		"assets/app.js": "console.log(1)",
	})
	targetRoot := t.TempDir()
	target, err := local.New(local.Config{RootPath: targetRoot, CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Run(context.Background(), target, Options{
		SourceDir: source,
		TargetDir: "site/v2",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Uploaded != 2 {
		t.Errorf("Uploaded = %d, want 2", stats.Uploaded)
	}

	data, err := os.ReadFile(filepath.Join(targetRoot, "site", "v2", "assets", "app.js"))
	if err != nil {
		t.Fatalf("deployed file missing: %v", err)
	}
	if string(data) != "console.log(1)" {
		t.Errorf("deployed content = %q", data)
	}
}

func TestRunAppliesFilter(t *testing.T) {
	source := writeWorkspace(t, map[string]string{
		"keep.txt":     "yes",
		"skip.log":     "no",
		"sub/also.log": "no",
	})
	target, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := Run(context.Background(), target, Options{
		SourceDir: source,
		Filter: func(relPath string) bool {
			return !strings.HasSuffix(relPath, ".log")
		},
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats.Uploaded != 1 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 1 uploaded, 2 skipped", stats)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	source := writeWorkspace(t, map[string]string{"a.txt": "x"})
	target, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, target, Options{SourceDir: source}); err == nil {
		t.Fatal("Run succeeded with a cancelled context")
	}
}

func TestRunRequiresSourceDir(t *testing.T) {
	target, err := local.New(local.Config{RootPath: t.TempDir(), CreateDirs: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Run(context.Background(), target, Options{}); err == nil {
		t.Fatal("Run accepted an empty source dir")
	}
}

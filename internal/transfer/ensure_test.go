package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestEnsureRootIsNoop(t *testing.T) {
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { t.Fatalf("probe called for root"); return nil },
		func(ctx context.Context, dir string) error { t.Fatalf("mkdir called for root"); return nil },
		true,
	)

	for _, dir := range []string{"", "/", ".", "//"} {
		acted, err := e.Ensure(context.Background(), dir)
		if err != nil {
			t.Fatalf("Ensure(%q) error: %v", dir, err)
		}
		if acted {
			t.Errorf("Ensure(%q) acted on the root", dir)
		}
	}
}

func TestEnsureCreatesMissingParentsWithoutDeepCreate(t *testing.T) {
	made := []string{}
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { return fmt.Errorf("missing") },
		func(ctx context.Context, dir string) error { made = append(made, dir); return nil },
		false,
	)

	acted, err := e.Ensure(context.Background(), "a/b/c")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if !acted {
		t.Error("Ensure reported no action")
	}

	want := []string{"a", "a/b", "a/b/c"}
	if len(made) != len(want) {
		t.Fatalf("mkdir calls = %v, want %v", made, want)
	}
	for i := range want {
		if made[i] != want[i] {
			t.Errorf("mkdir[%d] = %q, want %q", i, made[i], want[i])
		}
	}
}

func TestEnsureSkipsMissingParentsWithDeepCreate(t *testing.T) {
	made := []string{}
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { return fmt.Errorf("missing") },
		func(ctx context.Context, dir string) error { made = append(made, dir); return nil },
		true,
	)

	if _, err := e.Ensure(context.Background(), "a/b/c"); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if len(made) != 1 || made[0] != "a/b/c" {
		t.Errorf("mkdir calls = %v, want [a/b/c]", made)
	}
}

func TestEnsureMemoizesPerSession(t *testing.T) {
	probes, mkdirs := 0, 0
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { probes++; return fmt.Errorf("missing") },
		func(ctx context.Context, dir string) error { mkdirs++; return nil },
		true,
	)

	for i := 0; i < 3; i++ {
		if _, err := e.Ensure(context.Background(), "releases/v1"); err != nil {
			t.Fatalf("Ensure error: %v", err)
		}
	}
	if probes != 1 || mkdirs != 1 {
		t.Errorf("probes = %d, mkdirs = %d, want 1 each", probes, mkdirs)
	}
	if !e.Checked("releases/v1") {
		t.Error("Checked(releases/v1) = false after Ensure")
	}
	if e.Checked("releases/v2") {
		t.Error("Checked(releases/v2) = true without Ensure")
	}

	// Same directory through a differently spelled path hits the cache.
	acted, err := e.Ensure(context.Background(), "/releases/v1/")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if acted {
		t.Error("Ensure acted on an already checked directory")
	}
}

func TestEnsureProbeSuccessSkipsMkdir(t *testing.T) {
	mkdirs := 0
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { return nil },
		func(ctx context.Context, dir string) error { mkdirs++; return nil },
		true,
	)

	if _, err := e.Ensure(context.Background(), "existing"); err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if mkdirs != 0 {
		t.Errorf("mkdir called %d times for an existing directory", mkdirs)
	}
}

func TestEnsureMkdirFailureNotCached(t *testing.T) {
	fail := errors.New("permission denied")
	attempts := 0
	e := NewDirEnsurer(
		func(ctx context.Context, dir string) error { return fmt.Errorf("missing") },
		func(ctx context.Context, dir string) error { attempts++; return fail },
		true,
	)

	if _, err := e.Ensure(context.Background(), "locked"); !errors.Is(err, fail) {
		t.Fatalf("Ensure error = %v, want %v", err, fail)
	}
	if e.Checked("locked") {
		t.Error("failed directory was cached as checked")
	}

	e.Ensure(context.Background(), "locked")
	if attempts != 2 {
		t.Errorf("mkdir attempts = %d, want 2 (failure must not memoize)", attempts)
	}
}

// Package transfer implements the machinery shared by all storage
// backends: remote directory creation, flat-listing reconciliation,
// continuation-token pagination, command hooks and the upload pipeline.
// Backends compose these helpers instead of inheriting shared state.
package transfer

import (
	"context"
	"fmt"

	"github.com/fruitsalade/deployer/internal/remotepath"
)

// DirEnsurer lazily creates remote parent directories before uploads.
// Directories confirmed present or created once are cached for the
// lifetime of the connection and never re-checked; the cache is
// invalidated only by reconnecting (a new ensurer). This trades a small
// risk of stale state for skipping an existence round trip before every
// upload, which is acceptable for short-lived deploy sessions.
type DirEnsurer struct {
	// Probe cheaply checks that dir exists; a non-nil error means missing.
	Probe func(ctx context.Context, dir string) error
	// Mkdir creates dir on the remote.
	Mkdir func(ctx context.Context, dir string) error
	// DeepCreate reports whether Mkdir creates missing parents itself.
	// When false the ensurer recursively ensures the parent first.
	DeepCreate bool

	checked map[string]struct{}
}

// NewDirEnsurer builds an ensurer around a backend's probe and mkdir
// primitives.
func NewDirEnsurer(probe, mkdir func(ctx context.Context, dir string) error, deepCreate bool) *DirEnsurer {
	return &DirEnsurer{
		Probe:      probe,
		Mkdir:      mkdir,
		DeepCreate: deepCreate,
		checked:    make(map[string]struct{}),
	}
}

// Ensure makes sure dir exists on the remote. It returns true when a
// probe or mkdir was actually issued and false when nothing was done
// (root, or already checked this session).
func (e *DirEnsurer) Ensure(ctx context.Context, dir string) (bool, error) {
	dir = remotepath.Normalize(dir)
	if dir == "" {
		// The root always exists and is never created.
		return false, nil
	}
	if e.checked == nil {
		e.checked = make(map[string]struct{})
	}
	if _, ok := e.checked[dir]; ok {
		return false, nil
	}

	if !e.DeepCreate {
		if parent := remotepath.Dir(dir); parent != "" && parent != dir {
			if _, err := e.Ensure(ctx, parent); err != nil {
				return false, err
			}
		}
	}

	if err := e.Probe(ctx, dir); err != nil {
		if err := e.Mkdir(ctx, dir); err != nil {
			return true, fmt.Errorf("create remote directory %q: %w", dir, err)
		}
	}

	e.checked[dir] = struct{}{}
	return true, nil
}

// Checked reports whether dir has already been confirmed this session.
func (e *DirEnsurer) Checked(dir string) bool {
	_, ok := e.checked[remotepath.Normalize(dir)]
	return ok
}

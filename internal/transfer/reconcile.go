package transfer

import (
	"context"
	"strings"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/remotepath"
)

// Reconcile turns a flat object-store key listing under prefix into a
// one-level directory/file split. Keys nested more than one level below
// the prefix contribute a single synthetic directory entry for their
// first segment; the first occurrence wins and later keys under the same
// subdirectory are deduplicated. File entries carry a lazy download thunk
// that calls back into the owning backend with the full key. Output
// order follows listing order, with each name appearing exactly once.
func Reconcile(prefix string, objects []client.FlatObject, download func(ctx context.Context, path string) ([]byte, error)) []client.Entry {
	prefix = remotepath.Normalize(prefix)

	var entries []client.Entry
	seenDirs := make(map[string]struct{})

	for _, obj := range objects {
		key := remotepath.Normalize(obj.Key)
		suffix := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"/") && key != prefix {
				continue
			}
			suffix = remotepath.Normalize(strings.TrimPrefix(key, prefix))
		}
		if suffix == "" {
			// The prefix itself listed as an object; not an entry.
			continue
		}

		if idx := strings.IndexByte(suffix, '/'); idx >= 0 {
			name := suffix[:idx]
			if _, ok := seenDirs[name]; ok {
				continue
			}
			seenDirs[name] = struct{}{}
			entries = append(entries, client.Entry{
				Name: name,
				Path: prefix,
				Kind: client.KindDirectory,
			})
			continue
		}

		fullPath := remotepath.Join(prefix, suffix)
		entries = append(entries, client.Entry{
			Name:    suffix,
			Path:    prefix,
			Size:    obj.Size,
			ModTime: obj.ModTime,
			Kind:    client.KindFile,
			Download: func(ctx context.Context) ([]byte, error) {
				return download(ctx, fullPath)
			},
		})
	}
	return entries
}

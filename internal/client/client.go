// Package client defines the uniform contract implemented by every
// remote storage backend (FTP, SFTP, S3, Azure Blob, Dropbox, Slack,
// local filesystem) and the directory-entry model shared across them.
package client

import (
	"context"
	"time"
)

// Kind tags a directory entry. Raw protocol type codes are decoded once
// at the backend boundary and never leak upward.
type Kind int

const (
	// KindUnknown marks entries whose type the backend could not decode.
	// They are preserved in listings rather than dropped.
	KindUnknown Kind = iota
	// KindDirectory marks a directory entry.
	KindDirectory
	// KindFile marks a regular file entry.
	KindFile
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is one item of a non-recursive directory listing.
type Entry struct {
	// Name is the entry's own segment, not a full path.
	Name string
	// Path is the canonical parent directory the entry was listed under.
	Path string
	// Size in bytes; zero for directories and when unknown.
	Size int64
	// ModTime is the last modification time in UTC, zero when unknown.
	ModTime time.Time
	// Kind tags the entry variant.
	Kind Kind
	// Download lazily fetches the file's bytes. Nil for non-file entries.
	// Backends that spawn an ephemeral connection per download must fully
	// release it before returning, independent of the parent client.
	Download func(ctx context.Context) ([]byte, error)
}

// FlatObject is one key of a flat object-store listing, before it is
// reconciled into directory entries.
type FlatObject struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Client is the capability contract every backend implements. A client
// moves Unconnected -> Connected -> Closed; a closed client must not be
// reused - callers construct a new one. Operations carry no built-in
// cancellation beyond ctx; callers wrap with their own timeouts.
type Client interface {
	// Delete removes a remote file. Delete is best-effort: any backend
	// error is swallowed and reported as false, never returned.
	Delete(ctx context.Context, path string) bool

	// Download fetches a remote file's bytes. Failures are returned,
	// never swallowed.
	Download(ctx context.Context, path string) ([]byte, error)

	// Upload writes data to the remote path, creating parent directories
	// as needed. It may be a no-op when a configured before-upload
	// callback vetoes the transfer.
	Upload(ctx context.Context, path string, data []byte) error

	// List returns the entries one level below dir, non-recursive.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Type returns the backend type identifier ("ftp", "s3", ...).
	Type() string

	// Close releases the connection. Idempotent; never returns an error
	// (failures are logged instead).
	Close() error
}

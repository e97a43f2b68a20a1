// Package remotepath canonicalizes remote paths shared by all storage
// backends. The canonical form uses forward slashes only and carries no
// leading or trailing slash; it is the only form that is compared or
// cached across calls. Backend-specific wrappers prepend whatever root
// marker the protocol requires.
package remotepath

import "strings"

// Normalize converts p to canonical form: platform separators become
// forward slashes, leading and trailing slashes are stripped, and the
// empty path (or ".") collapses to "". Normalize is idempotent.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// Join joins path segments and normalizes the result.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = Normalize(s)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Dir returns the canonical parent directory of p, or "" when p has no
// parent (root-level entries).
func Dir(p string) string {
	p = Normalize(p)
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

// Base returns the last segment of p, or "" for the root.
func Base(p string) string {
	p = Normalize(p)
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

// ToFTPPath wraps the canonical form of p as an absolute FTP path.
// The empty (root) path maps to "/", never "/.".
func ToFTPPath(p string) string {
	return "/" + Normalize(p)
}

// ToSFTPPath wraps the canonical form of p as an absolute SFTP path.
func ToSFTPPath(p string) string {
	return ToFTPPath(p)
}

// ToS3Path returns the canonical, relative object key for p.
func ToS3Path(p string) string {
	return Normalize(p)
}

// ToAzurePath returns the canonical, relative blob name for p.
func ToAzurePath(p string) string {
	return Normalize(p)
}

// ToDropboxPath returns the canonical, relative Dropbox path for p.
func ToDropboxPath(p string) string {
	return Normalize(p)
}

// ToSlackPath returns the canonical, relative Slack "path" for p.
func ToSlackPath(p string) string {
	return Normalize(p)
}

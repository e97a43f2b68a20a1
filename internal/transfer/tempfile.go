package transfer

import (
	"fmt"
	"os"
)

// WithTempFile runs fn with the path of a fresh temp file and removes
// the file on all exit paths. Backends that must buffer a remote stream
// to disk before returning bytes (SFTP, Azure Blob) use this to
// guarantee cleanup.
func WithTempFile(fn func(path string) error) error {
	f, err := os.CreateTemp("", ".deployer-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close temp file: %w", err)
	}
	defer os.Remove(name)

	return fn(name)
}

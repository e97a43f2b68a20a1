// Package local provides a local filesystem implementation of the
// client contract. It backs the download dispatcher's plain-path
// fallback and doubles as the reference backend in tests.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
)

// Config holds local filesystem backend settings.
type Config struct {
	RootPath   string `json:"root_path"`
	CreateDirs bool   `json:"create_dirs"`
}

// Client implements the storage client contract on the local filesystem.
type Client struct {
	rootPath   string
	createDirs bool
}

// New creates a local filesystem client rooted at cfg.RootPath.
func New(cfg Config) (*Client, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root_path is required")
	}

	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.RootPath, 0755); mkErr != nil {
				return nil, fmt.Errorf("create root path %s: %w", cfg.RootPath, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}

	return &Client{rootPath: cfg.RootPath, createDirs: cfg.CreateDirs}, nil
}

// NewFromJSON creates a Client from raw JSON config.
func NewFromJSON(raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}
	return New(cfg)
}

// Connect creates the client; there is no connection to establish.
func Connect(_ context.Context, raw json.RawMessage) (*Client, error) {
	return NewFromJSON(raw)
}

func (c *Client) fullPath(p string) string {
	return filepath.Join(c.rootPath, filepath.FromSlash(remotepath.Normalize(p)))
}

// Delete removes a file. Best-effort: errors are swallowed and reported
// as false.
func (c *Client) Delete(_ context.Context, path string) bool {
	err := os.Remove(c.fullPath(path))
	ok := err == nil || os.IsNotExist(err)
	if !ok {
		logging.Warn("local delete failed", zap.String("path", path), zap.Error(err))
	}
	metrics.RecordDelete(c.Type(), ok)
	return ok
}

// Download reads a file's bytes.
func (c *Client) Download(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(c.fullPath(path))
	metrics.RecordDownload(c.Type(), int64(len(data)), err == nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Upload writes data atomically via a temp file and rename.
func (c *Client) Upload(_ context.Context, path string, data []byte) error {
	full := c.fullPath(path)
	dir := filepath.Dir(full)

	if c.createDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			metrics.RecordUpload(c.Type(), 0, false)
			return fmt.Errorf("create dirs for %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".deployer-*.tmp")
	if err != nil {
		metrics.RecordUpload(c.Type(), 0, false)
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		metrics.RecordUpload(c.Type(), 0, false)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		metrics.RecordUpload(c.Type(), 0, false)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		metrics.RecordUpload(c.Type(), 0, false)
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}

	metrics.RecordUpload(c.Type(), int64(len(data)), true)
	return nil
}

// List returns the entries one level below dir.
func (c *Client) List(_ context.Context, dir string) ([]client.Entry, error) {
	canonical := remotepath.Normalize(dir)
	dirents, err := os.ReadDir(c.fullPath(canonical))
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]client.Entry, 0, len(dirents))
	for _, de := range dirents {
		entry := client.Entry{
			Name: de.Name(),
			Path: canonical,
			Kind: client.KindUnknown,
		}
		if info, err := de.Info(); err == nil {
			entry.Size = info.Size()
			entry.ModTime = info.ModTime().UTC()
		}
		switch {
		case de.IsDir():
			entry.Kind = client.KindDirectory
			entry.Size = 0
		case de.Type().IsRegular():
			entry.Kind = client.KindFile
			full := remotepath.Join(canonical, de.Name())
			entry.Download = func(ctx context.Context) ([]byte, error) {
				return c.Download(ctx, full)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Type returns "local".
func (c *Client) Type() string { return "local" }

// Close is a no-op for local clients.
func (c *Client) Close() error { return nil }

// Package slack treats a Slack channel's file attachments as a flat
// remote store. Files have no directory structure; the canonical path's
// base name is the file name in the channel.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	goslack "github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
)

// Config holds Slack target settings.
type Config struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`

	// BeforeUpload may veto an upload or rewrite its payload.
	BeforeUpload func(ctx context.Context, file *transfer.UploadFile) (bool, error) `json:"-"`
	// UploadCompleted runs after every upload attempt; returning true
	// marks a transfer error as handled.
	UploadCompleted func(ctx context.Context, info transfer.CompletedInfo) bool `json:"-"`
}

// Client posts and fetches files in a single Slack channel.
type Client struct {
	cfg Config
	api *goslack.Client
}

// New constructs a client; construction performs no network I/O.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	return &Client{cfg: cfg, api: goslack.New(cfg.Token)}, nil
}

// Connect constructs a client and verifies the token via auth.test.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		metrics.RecordConnection("slack", false)
		return nil, err
	}
	if _, err := c.api.AuthTestContext(ctx); err != nil {
		metrics.RecordConnection(c.Type(), false)
		return nil, fmt.Errorf("%w: slack: %w", client.ErrCouldNotConnect, err)
	}
	metrics.RecordConnection(c.Type(), true)
	return c, nil
}

// ConnectFromJSON connects using a raw JSON target config.
func ConnectFromJSON(ctx context.Context, raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse slack config: %w", err)
	}
	return Connect(ctx, cfg)
}

// findByName scans the channel's files for the newest file matching
// name.
func (c *Client) findByName(ctx context.Context, name string) (*goslack.File, error) {
	matches, err := transfer.FetchAll(ctx, func(ctx context.Context, cursor string) (transfer.Page[goslack.File], error) {
		params := goslack.ListFilesParameters{Channel: c.cfg.Channel, Cursor: cursor}
		listed, next, err := c.api.ListFilesContext(ctx, params)
		if err != nil {
			return transfer.Page[goslack.File]{}, err
		}
		page := transfer.Page[goslack.File]{Items: listed}
		if next != nil {
			page.Next = next.Cursor
		}
		return page, nil
	})
	if err != nil {
		return nil, err
	}

	var found *goslack.File
	for i := range matches {
		f := &matches[i]
		if f.Name != name {
			continue
		}
		if found == nil || f.Created.Time().After(found.Created.Time()) {
			found = f
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: slack file %s", client.ErrNotFound, name)
	}
	return found, nil
}

// Delete removes the newest channel file matching the path's base name.
// Best-effort: errors are swallowed and reported as false.
func (c *Client) Delete(ctx context.Context, path string) bool {
	name := remotepath.Base(path)
	err := c.delete(ctx, name)
	if err != nil {
		logging.Warn("slack delete failed", zap.String("name", name), zap.Error(err))
	}
	metrics.RecordDelete(c.Type(), err == nil)
	return err == nil
}

func (c *Client) delete(ctx context.Context, name string) error {
	file, err := c.findByName(ctx, name)
	if err != nil {
		return err
	}
	return c.api.DeleteFileContext(ctx, file.ID)
}

// Download fetches the newest channel file matching the path's base
// name.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	name := remotepath.Base(path)
	file, err := c.findByName(ctx, name)
	if err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, file.URLPrivateDownload, &buf); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, fmt.Errorf("slack download %s: %w", name, err)
	}
	metrics.RecordDownload(c.Type(), int64(buf.Len()), true)
	return buf.Bytes(), nil
}

// Upload posts data as a file to the configured channel through the
// upload pipeline.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	pipeline := &transfer.UploadPipeline{
		BackendType:     c.Type(),
		BeforeUpload:    c.cfg.BeforeUpload,
		UploadCompleted: c.cfg.UploadCompleted,
		Put:             c.put,
	}
	return pipeline.Run(ctx, path, data)
}

func (c *Client) put(ctx context.Context, path string, data []byte, _ os.FileMode, _ string) error {
	name := remotepath.Base(path)
	_, err := c.api.UploadFileV2Context(ctx, goslack.UploadFileV2Parameters{
		Filename: name,
		FileSize: len(data),
		Reader:   bytes.NewReader(data),
		Channel:  c.cfg.Channel,
	})
	if err != nil {
		return fmt.Errorf("slack upload %s: %w", name, err)
	}
	return nil
}

// List returns the channel's files. The store is flat, so dir is
// ignored and every entry is a file at the root.
func (c *Client) List(ctx context.Context, _ string) ([]client.Entry, error) {
	listed, err := transfer.FetchAll(ctx, func(ctx context.Context, cursor string) (transfer.Page[goslack.File], error) {
		params := goslack.ListFilesParameters{Channel: c.cfg.Channel, Cursor: cursor}
		page, next, err := c.api.ListFilesContext(ctx, params)
		if err != nil {
			return transfer.Page[goslack.File]{}, err
		}
		out := transfer.Page[goslack.File]{Items: page}
		if next != nil {
			out.Next = next.Cursor
		}
		return out, nil
	})
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("slack list channel %s: %w", c.cfg.Channel, err)
	}

	entries := make([]client.Entry, 0, len(listed))
	for _, f := range listed {
		name := f.Name
		entries = append(entries, client.Entry{
			Name:    name,
			Path:    "",
			Size:    int64(f.Size),
			ModTime: f.Created.Time().UTC(),
			Kind:    client.KindFile,
			Download: func(ctx context.Context) ([]byte, error) {
				return c.Download(ctx, name)
			},
		})
	}
	return entries, nil
}

// Type returns "slack".
func (c *Client) Type() string { return "slack" }

// Close is a no-op; the Slack client is stateless.
func (c *Client) Close() error { return nil }

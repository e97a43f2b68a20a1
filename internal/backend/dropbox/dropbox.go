// Package dropbox provides a Dropbox implementation of the client
// contract on top of the unofficial Dropbox SDK.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	dbx "github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
)

// Config holds Dropbox target settings.
type Config struct {
	Token string `json:"token"`

	// BeforeUpload may veto an upload or rewrite its payload.
	BeforeUpload func(ctx context.Context, file *transfer.UploadFile) (bool, error) `json:"-"`
	// UploadCompleted runs after every upload attempt; returning true
	// marks a transfer error as handled.
	UploadCompleted func(ctx context.Context, info transfer.CompletedInfo) bool `json:"-"`
}

// Client is a Dropbox API client.
type Client struct {
	cfg   Config
	files files.Client
}

// New constructs a client; construction performs no network I/O.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("token is required")
	}
	dbxCfg := dbx.Config{Token: cfg.Token}
	return &Client{cfg: cfg, files: files.New(dbxCfg)}, nil
}

// Connect constructs a client and verifies the token by fetching the
// current account.
func Connect(_ context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		metrics.RecordConnection("dropbox", false)
		return nil, err
	}
	probe := users.New(dbx.Config{Token: cfg.Token})
	if _, err := probe.GetCurrentAccount(); err != nil {
		metrics.RecordConnection(c.Type(), false)
		return nil, fmt.Errorf("%w: dropbox: %w", client.ErrCouldNotConnect, err)
	}
	metrics.RecordConnection(c.Type(), true)
	return c, nil
}

// ConnectFromJSON connects using a raw JSON target config.
func ConnectFromJSON(ctx context.Context, raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse dropbox config: %w", err)
	}
	return Connect(ctx, cfg)
}

// apiPath maps a canonical path to the Dropbox API form: a leading
// slash, except the root folder which the API wants as "".
func apiPath(p string) string {
	canonical := remotepath.ToDropboxPath(p)
	if canonical == "" {
		return ""
	}
	return "/" + canonical
}

// Delete removes a remote file. Best-effort: errors are swallowed and
// reported as false.
func (c *Client) Delete(_ context.Context, path string) bool {
	arg := files.NewDeleteArg(apiPath(path))
	_, err := c.files.DeleteV2(arg)
	if err != nil {
		logging.Warn("dropbox delete failed", zap.String("path", path), zap.Error(err))
	}
	metrics.RecordDelete(c.Type(), err == nil)
	return err == nil
}

// Download fetches a remote file's bytes.
func (c *Client) Download(_ context.Context, path string) ([]byte, error) {
	arg := files.NewDownloadArg(apiPath(path))
	_, content, err := c.files.Download(arg)
	if err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, fmt.Errorf("dropbox download %s: %w", path, err)
	}
	defer content.Close()

	data, err := io.ReadAll(content)
	metrics.RecordDownload(c.Type(), int64(len(data)), err == nil)
	if err != nil {
		return nil, fmt.Errorf("dropbox read %s: %w", path, err)
	}
	return data, nil
}

// Upload writes data to the remote path through the upload pipeline.
// Dropbox creates intermediate folders implicitly on upload.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	pipeline := &transfer.UploadPipeline{
		BackendType:     c.Type(),
		BeforeUpload:    c.cfg.BeforeUpload,
		UploadCompleted: c.cfg.UploadCompleted,
		Put:             c.put,
	}
	return pipeline.Run(ctx, path, data)
}

func (c *Client) put(_ context.Context, path string, data []byte, _ os.FileMode, _ string) error {
	arg := files.NewUploadArg(apiPath(path))
	arg.Mode = &files.WriteMode{Tagged: dbx.Tagged{Tag: "overwrite"}}
	if _, err := c.files.Upload(arg, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("dropbox upload %s: %w", path, err)
	}
	return nil
}

// List returns the entries one level below dir. Cursors page the
// listing strictly sequentially; any page error aborts the whole
// listing.
func (c *Client) List(ctx context.Context, dir string) ([]client.Entry, error) {
	canonical := remotepath.ToDropboxPath(dir)

	raw, err := transfer.FetchAll(ctx, func(_ context.Context, cursor string) (transfer.Page[files.IsMetadata], error) {
		var (
			res *files.ListFolderResult
			err error
		)
		if cursor == "" {
			res, err = c.files.ListFolder(files.NewListFolderArg(apiPath(canonical)))
		} else {
			res, err = c.files.ListFolderContinue(files.NewListFolderContinueArg(cursor))
		}
		if err != nil {
			return transfer.Page[files.IsMetadata]{}, err
		}
		page := transfer.Page[files.IsMetadata]{Items: res.Entries}
		if res.HasMore {
			page.Next = res.Cursor
		}
		return page, nil
	})
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("dropbox list %s: %w", canonical, err)
	}

	return c.entriesFromMetadata(canonical, raw), nil
}

// entriesFromMetadata decodes the SDK's metadata variants into entries.
// Deleted and unrecognized variants stay visible as untyped entries,
// keeping their name where the metadata carries one.
func (c *Client) entriesFromMetadata(canonical string, raw []files.IsMetadata) []client.Entry {
	entries := make([]client.Entry, 0, len(raw))
	for _, md := range raw {
		switch meta := md.(type) {
		case *files.FileMetadata:
			full := remotepath.Join(canonical, meta.Name)
			entries = append(entries, client.Entry{
				Name:    meta.Name,
				Path:    canonical,
				Size:    int64(meta.Size),
				ModTime: meta.ServerModified.UTC(),
				Kind:    client.KindFile,
				Download: func(ctx context.Context) ([]byte, error) {
					return c.Download(ctx, full)
				},
			})
		case *files.FolderMetadata:
			entries = append(entries, client.Entry{
				Name: meta.Name,
				Path: canonical,
				Kind: client.KindDirectory,
			})
		case *files.DeletedMetadata:
			entries = append(entries, client.Entry{
				Name: meta.Name,
				Path: canonical,
				Kind: client.KindUnknown,
			})
		default:
			entries = append(entries, client.Entry{
				Path: canonical,
				Kind: client.KindUnknown,
			})
		}
	}
	return entries
}

// Type returns "dropbox".
func (c *Client) Type() string { return "dropbox" }

// Close is a no-op; the Dropbox client is stateless.
func (c *Client) Close() error { return nil }

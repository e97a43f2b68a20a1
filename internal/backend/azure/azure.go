// Package azure provides an Azure Blob Storage implementation of the
// client contract, built on the azblob SDK.
package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
)

// CredentialStrategy selects how the blob client authenticates. The set
// is closed and matched exhaustively.
type CredentialStrategy string

const (
	// CredentialConnectionString uses a full storage connection string.
	CredentialConnectionString CredentialStrategy = "connection_string"
	// CredentialSharedKey uses account name + account key.
	CredentialSharedKey CredentialStrategy = "shared_key"
	// CredentialSAS appends a SAS token to the service endpoint.
	CredentialSAS CredentialStrategy = "sas"
)

// Config holds Azure Blob target settings.
type Config struct {
	Container        string             `json:"container"`
	Credentials      CredentialStrategy `json:"credentials"`
	ConnectionString string             `json:"connection_string"`
	AccountName      string             `json:"account_name"`
	AccountKey       string             `json:"account_key"`
	SASToken         string             `json:"sas_token"`
	Endpoint         string             `json:"endpoint"`
	// EnsureContainer creates the container on connect when missing.
	EnsureContainer bool `json:"ensure_container"`

	// BeforeUpload may veto an upload or rewrite its payload.
	BeforeUpload func(ctx context.Context, file *transfer.UploadFile) (bool, error) `json:"-"`
	// UploadCompleted runs after every upload attempt; returning true
	// marks a transfer error as handled.
	UploadCompleted func(ctx context.Context, info transfer.CompletedInfo) bool `json:"-"`
}

func (cfg Config) strategy() CredentialStrategy {
	if cfg.Credentials != "" {
		return cfg.Credentials
	}
	switch {
	case cfg.ConnectionString != "":
		return CredentialConnectionString
	case cfg.SASToken != "":
		return CredentialSAS
	default:
		return CredentialSharedKey
	}
}

func buildClient(cfg Config) (*azblob.Client, error) {
	switch cfg.strategy() {
	case CredentialConnectionString:
		return azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)

	case CredentialSAS:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		serviceURL := endpoint + "?" + cfg.SASToken
		return azblob.NewClientWithNoCredential(serviceURL, nil)

	case CredentialSharedKey:
		if cfg.AccountName == "" || cfg.AccountKey == "" {
			return nil, fmt.Errorf("shared key credentials need account_name and account_key")
		}
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid shared key credential: %w", err)
		}
		return azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)

	default:
		return nil, fmt.Errorf("unknown credential strategy %q", cfg.Credentials)
	}
}

// Client is an Azure Blob storage client.
type Client struct {
	cfg Config
	svc *azblob.Client
}

// New constructs a client; construction performs no network I/O.
func New(cfg Config) (*Client, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("container is required")
	}
	svc, err := buildClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, svc: svc}, nil
}

// Connect constructs a client and, when configured, makes sure the
// container exists.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		metrics.RecordConnection("azure", false)
		return nil, fmt.Errorf("%w: azure: %w", client.ErrCouldNotConnect, err)
	}
	if cfg.EnsureContainer {
		if err := c.ensureContainer(ctx); err != nil {
			metrics.RecordConnection(c.Type(), false)
			return nil, fmt.Errorf("%w: azure container %s: %w", client.ErrCouldNotConnect, cfg.Container, err)
		}
	}
	metrics.RecordConnection(c.Type(), true)
	return c, nil
}

// ConnectFromJSON connects using a raw JSON target config.
func ConnectFromJSON(ctx context.Context, raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse azure config: %w", err)
	}
	return Connect(ctx, cfg)
}

func (c *Client) ensureContainer(ctx context.Context) error {
	_, err := c.svc.CreateContainer(ctx, c.cfg.Container, nil)
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "ContainerAlreadyExists" {
		return nil
	}
	return err
}

// Delete removes a blob. Best-effort: errors are swallowed and reported
// as false.
func (c *Client) Delete(ctx context.Context, path string) bool {
	name := remotepath.ToAzurePath(path)
	_, err := c.svc.DeleteBlob(ctx, c.cfg.Container, name, nil)
	if err != nil {
		logging.Warn("azure delete failed", zap.String("blob", name), zap.Error(err))
	}
	metrics.RecordDelete(c.Type(), err == nil)
	return err == nil
}

// Download fetches a blob's bytes. The stream is buffered through a
// scoped temp file before the bytes are returned.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	name := remotepath.ToAzurePath(path)

	var data []byte
	err := transfer.WithTempFile(func(tmpPath string) error {
		resp, err := c.svc.DownloadStream(ctx, c.cfg.Container, name, nil)
		if err != nil {
			return fmt.Errorf("azure download %s: %w", name, err)
		}
		defer resp.Body.Close()

		local, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(local, resp.Body); err != nil {
			local.Close()
			return fmt.Errorf("azure download %s: %w", name, err)
		}
		if err := local.Close(); err != nil {
			return err
		}

		data, err = os.ReadFile(tmpPath)
		return err
	})
	metrics.RecordDownload(c.Type(), int64(len(data)), err == nil)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Upload writes data to the blob through the upload pipeline. Blob
// names imply their directories, so no directory creation is needed.
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
	name := remotepath.ToAzurePath(path)
	if _, err := c.svc.UploadBuffer(ctx, c.cfg.Container, name, data, nil); err != nil {
		return fmt.Errorf("azure upload %s: %w", name, err)
	}
	return nil
}

// List returns the entries one level below dir, reconciling the flat
// blob listing into a directory/file split. Markers page the listing
// strictly sequentially; any page error aborts the whole listing.
func (c *Client) List(ctx context.Context, dir string) ([]client.Entry, error) {
	prefix := remotepath.ToAzurePath(dir)
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	objects, err := transfer.FetchAll(ctx, func(ctx context.Context, cursor string) (transfer.Page[client.FlatObject], error) {
		opts := &azblob.ListBlobsFlatOptions{}
		if listPrefix != "" {
			opts.Prefix = &listPrefix
		}
		if cursor != "" {
			opts.Marker = &cursor
		}

		pager := c.svc.NewListBlobsFlatPager(c.cfg.Container, opts)
		if !pager.More() {
			return transfer.Page[client.FlatObject]{}, nil
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return transfer.Page[client.FlatObject]{}, err
		}

		out := transfer.Page[client.FlatObject]{}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			flat := client.FlatObject{Key: *item.Name}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					flat.Size = *props.ContentLength
				}
				if props.LastModified != nil {
					flat.ModTime = props.LastModified.UTC()
				}
			}
			out.Items = append(out.Items, flat)
		}
		if page.NextMarker != nil {
			out.Next = *page.NextMarker
		}
		return out, nil
	})
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("azure list %s: %w", prefix, err)
	}

	return transfer.Reconcile(prefix, objects, c.Download), nil
}

// Type returns "azure".
func (c *Client) Type() string { return "azure" }

// Close is a no-op; the blob client is stateless.
func (c *Client) Close() error { return nil }

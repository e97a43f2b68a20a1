// Package s3 provides an S3-compatible object storage implementation of
// the client contract, built on aws-sdk-go-v2. It works against AWS and
// S3-compatible endpoints such as MinIO.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
)

// CredentialStrategy selects how the AWS client authenticates. The set
// is closed; unknown values are a configuration error, not a dynamic
// lookup miss.
type CredentialStrategy string

const (
	// CredentialDefault uses the SDK's default chain (env, shared
	// config, instance metadata).
	CredentialDefault CredentialStrategy = "default"
	// CredentialStatic uses the access key pair from the config.
	CredentialStatic CredentialStrategy = "static"
	// CredentialAnonymous signs nothing; for public buckets.
	CredentialAnonymous CredentialStrategy = "anonymous"
)

// Config holds S3 target settings.
type Config struct {
	Bucket          string             `json:"bucket"`
	Region          string             `json:"region"`
	Endpoint        string             `json:"endpoint"`
	UsePathStyle    bool               `json:"use_path_style"`
	Credentials     CredentialStrategy `json:"credentials"`
	AccessKeyID     string             `json:"access_key_id"`
	SecretAccessKey string             `json:"secret_access_key"`
	SessionToken    string             `json:"session_token"`
	// ACL is the default canned ACL for uploads ("private" when empty).
	ACL string `json:"acl"`

	// DetectACL overrides the canned ACL per path.
	DetectACL func(path string) string `json:"-"`
	// BeforeUpload may veto an upload or rewrite its payload.
	BeforeUpload func(ctx context.Context, file *transfer.UploadFile) (bool, error) `json:"-"`
	// UploadCompleted runs after every upload attempt; returning true
	// marks a transfer error as handled.
	UploadCompleted func(ctx context.Context, info transfer.CompletedInfo) bool `json:"-"`
}

func (cfg Config) awsConfig(ctx context.Context) (aws.Config, error) {
	strategy := cfg.Credentials
	if strategy == "" {
		if cfg.AccessKeyID != "" {
			strategy = CredentialStatic
		} else {
			strategy = CredentialDefault
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	switch strategy {
	case CredentialDefault:
	case CredentialStatic:
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	case CredentialAnonymous:
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	default:
		return aws.Config{}, fmt.Errorf("unknown credential strategy %q", strategy)
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// Client is an S3 object storage client.
type Client struct {
	cfg Config
	s3  *s3.Client
	acl *transfer.ACLResolver
}

// New constructs a client; construction performs no network I/O.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	awsCfg, err := cfg.awsConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	svc := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	acl := cfg.ACL
	if acl == "" {
		acl = "private"
	}
	return &Client{
		cfg: cfg,
		s3:  svc,
		acl: &transfer.ACLResolver{Detect: cfg.DetectACL, Default: acl},
	}, nil
}

// Connect constructs a client and verifies the bucket is reachable.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	_, err = c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)})
	metrics.RecordConnection(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: s3 bucket %s: %w", client.ErrCouldNotConnect, cfg.Bucket, err)
	}
	return c, nil
}

// ConnectFromJSON connects using a raw JSON target config.
func ConnectFromJSON(ctx context.Context, raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse s3 config: %w", err)
	}
	return Connect(ctx, cfg)
}

// Delete removes an object. Best-effort: errors are swallowed and
// reported as false.
func (c *Client) Delete(ctx context.Context, path string) bool {
	key := remotepath.ToS3Path(path)
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		logging.Warn("s3 delete failed", zap.String("key", key), zap.Error(err))
	}
	metrics.RecordDelete(c.Type(), err == nil)
	return err == nil
}

// Download fetches an object's bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	key := remotepath.ToS3Path(path)
	resp, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, fmt.Errorf("s3 download %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordDownload(c.Type(), int64(len(data)), err == nil)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

// Upload writes data to the object key through the upload pipeline.
// Object stores need no directory creation; the resolved canned ACL is
// applied on the put.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	pipeline := &transfer.UploadPipeline{
		BackendType:     c.Type(),
		ACL:             c.acl,
		BeforeUpload:    c.cfg.BeforeUpload,
		UploadCompleted: c.cfg.UploadCompleted,
		Put:             c.put,
	}
	return pipeline.Run(ctx, path, data)
}

func (c *Client) put(ctx context.Context, path string, data []byte, _ os.FileMode, acl string) error {
	key := remotepath.ToS3Path(path)
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		ACL:    types.ObjectCannedACL(acl),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}

// List returns the entries one level below dir, reconciling the flat
// key listing into a directory/file split. Pages are fetched strictly
// sequentially via continuation tokens; any page error aborts the whole
// listing.
func (c *Client) List(ctx context.Context, dir string) ([]client.Entry, error) {
	prefix := remotepath.ToS3Path(dir)
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	objects, err := transfer.FetchAll(ctx, func(ctx context.Context, cursor string) (transfer.Page[client.FlatObject], error) {
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(c.cfg.Bucket),
		}
		if listPrefix != "" {
			input.Prefix = aws.String(listPrefix)
		}
		if cursor != "" {
			input.ContinuationToken = aws.String(cursor)
		}

		page, err := c.s3.ListObjectsV2(ctx, input)
		if err != nil {
			return transfer.Page[client.FlatObject]{}, err
		}

		out := transfer.Page[client.FlatObject]{Items: make([]client.FlatObject, 0, len(page.Contents))}
		for _, obj := range page.Contents {
			flat := client.FlatObject{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				flat.Size = *obj.Size
			}
			if obj.LastModified != nil {
				flat.ModTime = obj.LastModified.UTC()
			}
			out.Items = append(out.Items, flat)
		}
		if page.NextContinuationToken != nil {
			out.Next = *page.NextContinuationToken
		}
		return out, nil
	})
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
	}

	return transfer.Reconcile(prefix, objects, c.Download), nil
}

// Type returns "s3".
func (c *Client) Type() string { return "s3" }

// Close is a no-op; the S3 client is stateless.
func (c *Client) Close() error { return nil }

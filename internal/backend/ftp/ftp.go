// Package ftp provides an FTP implementation of the client contract on
// top of goftp. Command hooks execute over the control connection via
// the raw-command primitive.
package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/secsy/goftp"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
	"github.com/fruitsalade/deployer/internal/values"
)

// Config holds FTP target settings.
type Config struct {
	Host           string                 `json:"host"`
	Port           int                    `json:"port"`
	User           string                 `json:"user"`
	Password       string                 `json:"password"`
	TimeoutSeconds int `json:"timeout"`
	// TLS switches the control connection to explicit FTPS.
	TLS      bool                   `json:"tls"`
	Commands transfer.Commands      `json:"commands"`
	Modes    []transfer.ModeMapping `json:"modes"`
	Values   map[string]string      `json:"values"`

	// BeforeUpload may veto an upload or rewrite its payload.
	BeforeUpload func(ctx context.Context, file *transfer.UploadFile) (bool, error) `json:"-"`
	// UploadCompleted runs after every upload attempt; returning true
	// marks a transfer error as handled.
	UploadCompleted func(ctx context.Context, info transfer.CompletedInfo) bool `json:"-"`
	// ValueProvider supplies additional placeholder values.
	ValueProvider func() []values.Value `json:"-"`
}

func (cfg Config) addr() string {
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}

// Client is a connected FTP client.
type Client struct {
	cfg       Config
	conn      *goftp.Client
	hooks     *transfer.HookRunner
	ensurer   *transfer.DirEnsurer
	modes     *transfer.ModeResolver
	commands  transfer.Commands
	closeOnce sync.Once
}

// New constructs an unconnected client; it performs no I/O.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	modes, err := transfer.NewModeResolver(cfg.Modes)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, modes: modes, commands: cfg.Commands.WithDefaults()}, nil
}

// Connect constructs a client and establishes the control connection,
// running any configured post-connect hooks.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.connect(ctx); err != nil {
		metrics.RecordConnection(c.Type(), false)
		return nil, err
	}
	metrics.RecordConnection(c.Type(), true)
	return c, nil
}

// ConnectFromJSON connects using a raw JSON target config.
func ConnectFromJSON(ctx context.Context, raw json.RawMessage) (*Client, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse ftp config: %w", err)
	}
	return Connect(ctx, cfg)
}

func dial(cfg Config) (*goftp.Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialCfg := goftp.Config{
		User:     cfg.User,
		Password: cfg.Password,
		Timeout:  timeout,
	}
	if cfg.TLS {
		dialCfg.TLSConfig = &tls.Config{ServerName: cfg.Host}
		dialCfg.TLSMode = goftp.TLSExplicit
	}
	conn, err := goftp.DialConfig(dialCfg, cfg.addr())
	if err != nil {
		return nil, err
	}
	// goftp dials lazily; force the control connection up front so
	// connection errors surface here, classified.
	if _, err := conn.Getwd(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, err := dial(c.cfg)
	if err != nil {
		return fmt.Errorf("%w: ftp %s: %w", client.ErrCouldNotConnect, c.cfg.addr(), err)
	}
	c.conn = conn

	c.hooks = transfer.NewHookRunner(c.exec)
	c.hooks.Provider = c.valueProvider
	c.ensurer = transfer.NewDirEnsurer(c.probeDir, c.mkdir, false)

	if err := c.hooks.Run(ctx, c.commands.Connected, nil); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Client) valueProvider() []values.Value {
	vals := values.FromMap(c.cfg.Values)
	if c.cfg.ValueProvider != nil {
		vals = append(vals, c.cfg.ValueProvider()...)
	}
	return vals
}

// exec sends a raw command over the control connection and captures the
// server's response text.
func (c *Client) exec(_ context.Context, command string) ([]byte, error) {
	raw, err := c.conn.OpenRawConn()
	if err != nil {
		return nil, fmt.Errorf("open raw connection: %w", err)
	}
	defer raw.Close()

	code, msg, err := raw.SendCommand("%s", command)
	if err != nil {
		return nil, err
	}
	if code >= 400 {
		return nil, fmt.Errorf("ftp command rejected with %d: %s", code, msg)
	}
	return []byte(msg), nil
}

func (c *Client) probeDir(_ context.Context, dir string) error {
	info, err := c.conn.Stat(remotepath.ToFTPPath(dir))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dir)
	}
	return nil
}

func (c *Client) mkdir(_ context.Context, dir string) error {
	_, err := c.conn.Mkdir(remotepath.ToFTPPath(dir))
	return err
}

// Delete removes a remote file, running the configured hooks around it.
// Best-effort: every error is swallowed and reported as false.
func (c *Client) Delete(ctx context.Context, path string) bool {
	ok := c.delete(ctx, path) == nil
	metrics.RecordDelete(c.Type(), ok)
	return ok
}

func (c *Client) delete(ctx context.Context, path string) error {
	canonical := remotepath.Normalize(path)
	hookValues := fileHookValues(canonical)

	if err := c.hooks.Run(ctx, c.commands.BeforeDelete, hookValues); err != nil {
		logging.Warn("before-delete hook failed", zap.String("path", canonical), zap.Error(err))
		return err
	}
	if err := c.conn.Delete(remotepath.ToFTPPath(canonical)); err != nil {
		logging.Warn("ftp delete failed", zap.String("path", canonical), zap.Error(err))
		return err
	}
	if err := c.hooks.Run(ctx, c.commands.Deleted, hookValues); err != nil {
		logging.Warn("deleted hook failed", zap.String("path", canonical), zap.Error(err))
		return err
	}
	return nil
}

// Download fetches a remote file's bytes, running the configured hooks
// around the transfer.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	canonical := remotepath.Normalize(path)
	hookValues := fileHookValues(canonical)

	if err := c.hooks.Run(ctx, c.commands.BeforeDownload, hookValues); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.conn.Retrieve(remotepath.ToFTPPath(canonical), &buf); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, fmt.Errorf("ftp download %s: %w", canonical, err)
	}

	if err := c.hooks.Run(ctx, c.commands.Downloaded, hookValues); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}
	metrics.RecordDownload(c.Type(), int64(buf.Len()), true)
	return buf.Bytes(), nil
}

// Upload writes data to the remote path through the upload pipeline.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	pipeline := &transfer.UploadPipeline{
		BackendType:       c.Type(),
		Hooks:             c.hooks,
		BeforeUploadHooks: c.commands.BeforeUpload,
		UploadedHooks:     c.commands.Uploaded,
		Ensurer:           c.ensurer,
		Modes:             c.modes,
		BeforeUpload:      c.cfg.BeforeUpload,
		UploadCompleted:   c.cfg.UploadCompleted,
		Put:               c.put,
	}
	return pipeline.Run(ctx, path, data)
}

func (c *Client) put(_ context.Context, path string, data []byte, _ os.FileMode, _ string) error {
	return c.conn.Store(remotepath.ToFTPPath(path), bytes.NewReader(data))
}

// List returns the entries one level below dir. File entries download
// through a fresh, ephemeral connection that is fully closed before the
// thunk returns, independent of this client's lifecycle.
func (c *Client) List(_ context.Context, dir string) ([]client.Entry, error) {
	canonical := remotepath.Normalize(dir)
	infos, err := c.conn.ReadDir(remotepath.ToFTPPath(canonical))
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", canonical, err)
	}

	cfg := c.cfg
	entries := make([]client.Entry, 0, len(infos))
	for _, info := range infos {
		entry := client.Entry{
			Name:    info.Name(),
			Path:    canonical,
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
			Kind:    client.KindUnknown,
		}
		switch {
		case info.IsDir():
			entry.Kind = client.KindDirectory
			entry.Size = 0
		case info.Mode().IsRegular():
			entry.Kind = client.KindFile
			full := remotepath.Join(canonical, info.Name())
			entry.Download = func(ctx context.Context) ([]byte, error) {
				return downloadEphemeral(ctx, cfg, full)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func downloadEphemeral(_ context.Context, cfg Config, path string) ([]byte, error) {
	conn, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: ftp %s: %w", client.ErrCouldNotConnect, cfg.addr(), err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logging.Warn("close ephemeral ftp connection", zap.Error(err))
		}
	}()

	var buf bytes.Buffer
	if err := conn.Retrieve(remotepath.ToFTPPath(path), &buf); err != nil {
		return nil, fmt.Errorf("ftp download %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Type returns "ftp".
func (c *Client) Type() string { return "ftp" }

// Close releases the control connection. Idempotent; never returns an
// error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil {
			logging.Warn("close ftp connection", zap.Error(err))
		}
	})
	return nil
}

func fileHookValues(canonical string) map[string]string {
	return map[string]string{
		"remote_dir":  remotepath.Dir(canonical),
		"remote_file": canonical,
		"remote_name": remotepath.Base(canonical),
	}
}

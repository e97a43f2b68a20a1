// Package sftp provides an SFTP implementation of the client contract
// on top of pkg/sftp over an SSH connection. Command hooks execute in
// SSH sessions on the remote host.
package sftp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
	"github.com/fruitsalade/deployer/internal/transfer"
	"github.com/fruitsalade/deployer/internal/values"
)

// Config holds SFTP target settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	// PrivateKey is an inline PEM-encoded key; PrivateKeyFile points to
	// one on disk. Either may be combined with Passphrase.
	PrivateKey     string `json:"private_key"`
	PrivateKeyFile string `json:"private_key_file"`
	Passphrase     string `json:"passphrase"`
	// ReadyTimeoutMillis bounds the SSH handshake, not individual
	// operations.
	ReadyTimeoutMillis int `json:"ready_timeout"`
	// HostKeyHashes restricts accepted server host keys to the listed
	// fingerprints (SHA256 base64 or hex MD5, colons optional). Empty
	// accepts any host key.
	HostKeyHashes []string `json:"host_key_hashes"`

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
		port = 22
	}
	return fmt.Sprintf("%s:%d", cfg.Host, port)
}

func (cfg Config) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	keyPEM := []byte(cfg.PrivateKey)
	if cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file %s: %w", cfg.PrivateKeyFile, err)
		}
		keyPEM = data
	}
	if len(keyPEM) > 0 {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyPEM, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyPEM)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication configured: set password or private key")
	}
	return methods, nil
}

func (cfg Config) hostKeyCallback() ssh.HostKeyCallback {
	if len(cfg.HostKeyHashes) == 0 {
		return ssh.InsecureIgnoreHostKey()
	}
	allowed := make(map[string]struct{}, len(cfg.HostKeyHashes))
	for _, h := range cfg.HostKeyHashes {
		allowed[normalizeFingerprint(h)] = struct{}{}
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		for _, fp := range []string{ssh.FingerprintSHA256(key), ssh.FingerprintLegacyMD5(key)} {
			if _, ok := allowed[normalizeFingerprint(fp)]; ok {
				return nil
			}
		}
		return fmt.Errorf("host key of %s matches none of the configured fingerprints", hostname)
	}
}

func normalizeFingerprint(fp string) string {
	fp = strings.TrimPrefix(fp, "SHA256:")
	fp = strings.TrimPrefix(fp, "MD5:")
	fp = strings.ReplaceAll(fp, ":", "")
	return strings.ToLower(fp)
}

// Client is a connected SFTP client.
type Client struct {
	cfg       Config
	ssh       *ssh.Client
	sftp      *sftp.Client
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

// Connect constructs a client, performs the SSH handshake and opens the
// SFTP subsystem, running any configured post-connect hooks.
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
		return nil, fmt.Errorf("parse sftp config: %w", err)
	}
	return Connect(ctx, cfg)
}

func (c *Client) connect(ctx context.Context) error {
	auth, err := c.cfg.authMethods()
	if err != nil {
		return err
	}

	timeout := time.Duration(c.cfg.ReadyTimeoutMillis) * time.Millisecond
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	sshConf := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            auth,
		HostKeyCallback: c.cfg.hostKeyCallback(),
		Timeout:         timeout,
	}

	sshConn, err := ssh.Dial("tcp", c.cfg.addr(), sshConf)
	if err != nil {
		return fmt.Errorf("%w: sftp %s: %w", client.ErrCouldNotConnect, c.cfg.addr(), err)
	}
	sf, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return fmt.Errorf("%w: sftp subsystem on %s: %w", client.ErrCouldNotConnect, c.cfg.addr(), err)
	}
	c.ssh = sshConn
	c.sftp = sf

	c.hooks = transfer.NewHookRunner(c.exec)
	c.hooks.Provider = c.valueProvider
	c.ensurer = transfer.NewDirEnsurer(c.probeDir, c.mkdir, true)

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

// exec runs a command in a fresh SSH session and captures its combined
// output.
func (c *Client) exec(_ context.Context, command string) ([]byte, error) {
	sess, err := c.ssh.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer sess.Close()
	return sess.CombinedOutput(command)
}

func (c *Client) probeDir(_ context.Context, dir string) error {
	info, err := c.sftp.Stat(remotepath.ToSFTPPath(dir))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dir)
	}
	return nil
}

func (c *Client) mkdir(_ context.Context, dir string) error {
	return c.sftp.MkdirAll(remotepath.ToSFTPPath(dir))
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
	if err := c.sftp.Remove(remotepath.ToSFTPPath(canonical)); err != nil {
		logging.Warn("sftp delete failed", zap.String("path", canonical), zap.Error(err))
		return err
	}
	if err := c.hooks.Run(ctx, c.commands.Deleted, hookValues); err != nil {
		logging.Warn("deleted hook failed", zap.String("path", canonical), zap.Error(err))
		return err
	}
	return nil
}

// Download fetches a remote file's bytes. The stream is buffered through
// a scoped temp file before the bytes are returned.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	canonical := remotepath.Normalize(path)
	hookValues := fileHookValues(canonical)

	if err := c.hooks.Run(ctx, c.commands.BeforeDownload, hookValues); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}

	var data []byte
	err := transfer.WithTempFile(func(tmpPath string) error {
		remote, err := c.sftp.Open(remotepath.ToSFTPPath(canonical))
		if err != nil {
			return fmt.Errorf("open remote %s: %w", canonical, err)
		}
		defer remote.Close()

		local, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(local, remote); err != nil {
			local.Close()
			return fmt.Errorf("download %s: %w", canonical, err)
		}
		if err := local.Close(); err != nil {
			return err
		}

		data, err = os.ReadFile(tmpPath)
		return err
	})
	if err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}

	if err := c.hooks.Run(ctx, c.commands.Downloaded, hookValues); err != nil {
		metrics.RecordDownload(c.Type(), 0, false)
		return nil, err
	}
	metrics.RecordDownload(c.Type(), int64(len(data)), true)
	return data, nil
}

// Upload writes data to the remote path through the upload pipeline. A
// resolved file mode is applied with a separate chmod after the upload;
// chmod failures are logged, never fatal.
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
		Chmod:             c.chmod,
	}
	return pipeline.Run(ctx, path, data)
}

func (c *Client) put(_ context.Context, path string, data []byte, _ os.FileMode, _ string) error {
	f, err := c.sftp.Create(remotepath.ToSFTPPath(path))
	if err != nil {
		return fmt.Errorf("create remote %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write remote %s: %w", path, err)
	}
	return f.Close()
}

func (c *Client) chmod(_ context.Context, path string, mode os.FileMode) error {
	return c.sftp.Chmod(remotepath.ToSFTPPath(path), mode)
}

// List returns the entries one level below dir.
func (c *Client) List(_ context.Context, dir string) ([]client.Entry, error) {
	canonical := remotepath.Normalize(dir)
	infos, err := c.sftp.ReadDir(remotepath.ToSFTPPath(canonical))
	metrics.RecordListing(c.Type(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("sftp list %s: %w", canonical, err)
	}

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
				return c.Download(ctx, full)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Type returns "sftp".
func (c *Client) Type() string { return "sftp" }

// Close releases the SFTP subsystem and the SSH connection. Idempotent;
// never returns an error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.sftp != nil {
			if err := c.sftp.Close(); err != nil {
				logging.Warn("close sftp subsystem", zap.Error(err))
			}
		}
		if c.ssh != nil {
			if err := c.ssh.Close(); err != nil {
				logging.Warn("close ssh connection", zap.Error(err))
			}
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

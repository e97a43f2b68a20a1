// Package download fetches a file's bytes from a URL, dispatching on
// the URL scheme to the matching backend client. Connection settings
// travel in the URL itself (userinfo, host, query parameters).
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/backend/dropbox"
	ftpbackend "github.com/fruitsalade/deployer/internal/backend/ftp"
	sftpbackend "github.com/fruitsalade/deployer/internal/backend/sftp"
	slackbackend "github.com/fruitsalade/deployer/internal/backend/slack"
	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
)

// HTTP failures are classified by status bucket.
var (
	ErrHTTPClient = errors.New("http client error")
	ErrHTTPServer = errors.New("http server error")
	ErrHTTPOther  = errors.New("http unexpected status")
)

// Fetcher resolves download URLs. ScopeDirs are tried, in order, for
// plain local paths.
type Fetcher struct {
	ScopeDirs []string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Fetch downloads the bytes behind rawURL. URLs without a recognized
// scheme are treated as local file paths and resolved against the
// scope directories.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return f.fetchLocal(rawURL)
	}

	switch u.Scheme {
	case "dropbox":
		return f.fetchDropbox(ctx, u)
	case "ftp":
		return f.fetchFTP(ctx, u)
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	case "sftp":
		return f.fetchSFTP(ctx, u)
	case "slack":
		return f.fetchSlack(ctx, u)
	default:
		return f.fetchLocal(rawURL)
	}
}

// fetchLocal resolves path against the scope directories. Absolute
// paths that exist are used as-is; otherwise each scope directory is
// tried in order and the first match wins.
func (f *Fetcher) fetchLocal(path string) ([]byte, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return os.ReadFile(path)
		}
	}
	for _, dir := range f.ScopeDirs {
		candidate := filepath.Join(dir, path)
		if _, err := os.Stat(candidate); err == nil {
			return os.ReadFile(candidate)
		}
	}
	return nil, fmt.Errorf("%w: %s", client.ErrNotFound, path)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	httpClient := f.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bucket := ErrHTTPOther
		switch {
		case resp.StatusCode >= 400 && resp.StatusCode <= 499:
			bucket = ErrHTTPClient
		case resp.StatusCode >= 500 && resp.StatusCode <= 599:
			bucket = ErrHTTPServer
		}
		return nil, fmt.Errorf("%w: %s returned %d", bucket, rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) fetchDropbox(ctx context.Context, u *url.URL) ([]byte, error) {
	q := u.Query()
	c, err := dropbox.Connect(ctx, dropbox.Config{Token: q.Get("token")})
	if err != nil {
		return nil, err
	}
	defer closeQuiet(c)
	return c.Download(ctx, u.Host+u.Path)
}

// ftpConfigFromURL maps connection-string query parameters onto FTP
// options with per-field coercion.
func ftpConfigFromURL(u *url.URL) ftpbackend.Config {
	q := u.Query()
	cfg := ftpbackend.Config{
		Host:           u.Hostname(),
		Port:           queryInt(q, "port", portOf(u)),
		User:           u.User.Username(),
		TimeoutSeconds: queryInt(q, "timeout", 0),
		TLS:            queryBool(q, "tls"),
	}
	if pass, ok := u.User.Password(); ok {
		cfg.Password = pass
	}
	return cfg
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	c, err := ftpbackend.Connect(ctx, ftpConfigFromURL(u))
	if err != nil {
		return nil, err
	}
	defer closeQuiet(c)
	return c.Download(ctx, u.Path)
}

// sftpConfigFromURL maps connection-string query parameters onto SFTP
// options with per-field coercion; the comma-split hashes field becomes
// the host-key fingerprint allow-list.
func sftpConfigFromURL(u *url.URL) sftpbackend.Config {
	q := u.Query()
	cfg := sftpbackend.Config{
		Host:               u.Hostname(),
		Port:               queryInt(q, "port", portOf(u)),
		User:               u.User.Username(),
		PrivateKey:         q.Get("privateKey"),
		PrivateKeyFile:     q.Get("privateKeyFile"),
		Passphrase:         q.Get("passphrase"),
		ReadyTimeoutMillis: queryInt(q, "readyTimeout", 0),
		HostKeyHashes:      queryStringArray(q, "hashes"),
	}
	if pass, ok := u.User.Password(); ok {
		cfg.Password = pass
	}
	return cfg
}

func (f *Fetcher) fetchSFTP(ctx context.Context, u *url.URL) ([]byte, error) {
	c, err := sftpbackend.Connect(ctx, sftpConfigFromURL(u))
	if err != nil {
		return nil, err
	}
	defer closeQuiet(c)
	return c.Download(ctx, u.Path)
}

func (f *Fetcher) fetchSlack(ctx context.Context, u *url.URL) ([]byte, error) {
	q := u.Query()
	cfg := slackbackend.Config{
		Token: q.Get("token"),
		// The hostname carries the channel ID; URL parsing lowercases
		// it, Slack channel IDs are uppercase.
		Channel: strings.ToUpper(u.Hostname()),
	}

	c, err := slackbackend.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeQuiet(c)
	return c.Download(ctx, u.Path)
}

func closeQuiet(c client.Client) {
	if err := c.Close(); err != nil {
		logging.Warn("close download client", zap.String("type", c.Type()), zap.Error(err))
	}
}

func portOf(u *url.URL) int {
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return p
}

// queryInt coerces a query field to int, falling back on absence or a
// parse failure.
func queryInt(q url.Values, key string, fallback int) int {
	raw := q.Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// queryBool coerces a query field to bool; 1/true/y/yes count as true.
func queryBool(q url.Values, key string) bool {
	switch strings.ToLower(q.Get(key)) {
	case "1", "true", "y", "yes":
		return true
	}
	return false
}

// queryStringArray splits a comma-separated query field.
func queryStringArray(q url.Values, key string) []string {
	raw := q.Get(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

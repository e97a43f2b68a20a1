// Package deploy walks a local workspace and uploads its files to a
// target client.
package deploy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
)

// Stats summarizes a deployment run.
type Stats struct {
	Uploaded int
	Skipped  int
	Bytes    int64
	Elapsed  time.Duration
}

// Options controls a deployment.
type Options struct {
	// SourceDir is the local workspace root to walk.
	SourceDir string
	// TargetDir is the remote directory prefix uploads land under.
	TargetDir string
	// Filter skips files when it returns false. Nil uploads everything.
	Filter func(relPath string) bool
}

// Run uploads every regular file below SourceDir to the target client,
// preserving the relative layout under TargetDir. Cancellation is
// checked between files, not mid-transfer; the first upload error
// aborts the run.
func Run(ctx context.Context, target client.Client, opts Options) (Stats, error) {
	start := time.Now()
	stats := Stats{}

	if opts.SourceDir == "" {
		return stats, fmt.Errorf("source dir is required")
	}

	err := filepath.WalkDir(opts.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(opts.SourceDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if opts.Filter != nil && !opts.Filter(rel) {
			stats.Skipped++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		remote := remotepath.Join(opts.TargetDir, rel)
		if err := target.Upload(ctx, remote, data); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}

		logging.Debug("deployed file",
			zap.String("file", rel),
			zap.String("remote", remote),
			zap.Int("bytes", len(data)))
		stats.Uploaded++
		stats.Bytes += int64(len(data))
		return nil
	})

	stats.Elapsed = time.Since(start)
	metrics.RecordOperationDuration(target.Type(), "deploy", stats.Elapsed)
	if err != nil {
		return stats, err
	}

	logging.Info("deployment finished",
		zap.String("backend", target.Type()),
		zap.Int("uploaded", stats.Uploaded),
		zap.Int("skipped", stats.Skipped),
		zap.Int64("bytes", stats.Bytes),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

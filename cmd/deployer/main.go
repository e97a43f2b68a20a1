// Deployer
//
// Deploys local workspaces to remote targets (FTP, SFTP, S3, Azure
// Blob, Dropbox, Slack) behind one client contract, with command
// hooks, permission mode mapping and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/backend"
	"github.com/fruitsalade/deployer/internal/client"
	"github.com/fruitsalade/deployer/internal/config"
	"github.com/fruitsalade/deployer/internal/deploy"
	"github.com/fruitsalade/deployer/internal/download"
	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		logging.Fatal("command failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		usage()
		return fmt.Errorf("no command given")
	}

	switch args[0] {
	case "deploy":
		return cmdDeploy(ctx, cfg, args[1:])
	case "ls":
		return cmdList(ctx, cfg, args[1:])
	case "rm":
		return cmdRemove(ctx, cfg, args[1:])
	case "pull":
		return cmdPull(ctx, cfg, args[1:])
	case "fetch":
		return cmdFetch(ctx, cfg, args[1:])
	default:
		usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: deployer <command> [flags]

commands:
  deploy  -target <name> -source <dir>   upload a workspace to a target
  ls      -target <name> [-dir <path>]   list a remote directory
  rm      -target <name> -path <path>    delete a remote file
  pull    -target <name> -path <path>    download a remote file to stdout
  fetch   <url>                          download from a URL (any scheme)`)
}

// connectTarget resolves a named target and opens its client.
func connectTarget(ctx context.Context, cfg *config.Config, name string) (client.Client, config.Target, error) {
	targets, err := config.LoadTargets(cfg.TargetsFile)
	if err != nil {
		return nil, config.Target{}, err
	}
	target, err := config.FindTarget(targets, name)
	if err != nil {
		return nil, config.Target{}, err
	}
	c, err := backend.Connect(ctx, target.Type, target.Config)
	if err != nil {
		return nil, config.Target{}, err
	}
	return c, target, nil
}

func cmdDeploy(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	targetName := fs.String("target", "", "target name from the targets file")
	source := fs.String("source", ".", "local workspace directory")
	dir := fs.String("dir", "", "remote directory (defaults to the target's dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetName == "" {
		return fmt.Errorf("-target is required")
	}

	c, target, err := connectTarget(ctx, cfg, *targetName)
	if err != nil {
		return err
	}
	defer c.Close()

	remoteDir := *dir
	if remoteDir == "" {
		remoteDir = target.Dir
	}

	logging.Info("deploying",
		zap.String("target", target.Name),
		zap.String("backend", c.Type()),
		zap.String("source", *source),
		zap.String("dir", remoteDir))

	stats, err := deploy.Run(ctx, c, deploy.Options{
		SourceDir: *source,
		TargetDir: remoteDir,
	})
	if err != nil {
		return err
	}
	fmt.Printf("uploaded %d files (%d bytes) in %s\n", stats.Uploaded, stats.Bytes, stats.Elapsed)
	return nil
}

func cmdList(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	targetName := fs.String("target", "", "target name from the targets file")
	dir := fs.String("dir", "", "remote directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetName == "" {
		return fmt.Errorf("-target is required")
	}

	c, target, err := connectTarget(ctx, cfg, *targetName)
	if err != nil {
		return err
	}
	defer c.Close()

	remoteDir := *dir
	if remoteDir == "" {
		remoteDir = target.Dir
	}

	entries, err := c.List(ctx, remoteDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		marker := " "
		if e.Kind == client.KindDirectory {
			marker = "d"
		}
		fmt.Printf("%s %10d %s %s\n", marker, e.Size, e.ModTime.Format("2006-01-02 15:04"), e.Name)
	}
	return nil
}

func cmdRemove(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("rm", flag.ExitOnError)
	targetName := fs.String("target", "", "target name from the targets file")
	path := fs.String("path", "", "remote file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetName == "" || *path == "" {
		return fmt.Errorf("-target and -path are required")
	}

	c, _, err := connectTarget(ctx, cfg, *targetName)
	if err != nil {
		return err
	}
	defer c.Close()

	if !c.Delete(ctx, *path) {
		return fmt.Errorf("could not delete %s", *path)
	}
	fmt.Printf("deleted %s\n", *path)
	return nil
}

func cmdPull(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	targetName := fs.String("target", "", "target name from the targets file")
	path := fs.String("path", "", "remote file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetName == "" || *path == "" {
		return fmt.Errorf("-target and -path are required")
	}

	c, _, err := connectTarget(ctx, cfg, *targetName)
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := c.Download(ctx, *path)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdFetch(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: deployer fetch <url>")
	}

	fetcher := &download.Fetcher{ScopeDirs: cfg.ScopeDirs}
	data, err := fetcher.Fetch(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

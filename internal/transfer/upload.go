package transfer

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/remotepath"
)

// UploadFile describes the file an upload pipeline run operates on. The
// before-upload callback may mutate Data to rewrite the payload.
type UploadFile struct {
	// Path is the canonical remote path.
	Path string
	// Dir is the canonical remote parent directory.
	Dir string
	// Name is the file's own segment.
	Name string
	// Data is the payload.
	Data []byte
}

// CompletedInfo is passed to the upload-completed callback after every
// pipeline run, whether the transfer happened or not.
type CompletedInfo struct {
	// Err is the captured transfer error, nil on success or veto.
	Err error
	// HasBeenUploaded reports whether the payload reached the remote.
	HasBeenUploaded bool
	// File is the file the run operated on.
	File UploadFile
}

// UploadPipeline orchestrates one backend's upload sequence: before
// hooks, veto callback, directory ensure, mode/ACL resolution, the
// actual put, uploaded hooks, completion callback, optional chmod.
type UploadPipeline struct {
	// BackendType labels metrics and log lines.
	BackendType string

	// Hooks runs command hooks; nil for backends without an exec
	// primitive.
	Hooks *HookRunner
	// BeforeUploadHooks run before any remote mutation.
	BeforeUploadHooks []CommandEntry
	// UploadedHooks run after a successful put.
	UploadedHooks []CommandEntry

	// Ensurer creates missing remote parent directories; nil for object
	// stores where keys imply their directories.
	Ensurer *DirEnsurer
	// Modes resolves the file mode to upload with.
	Modes *ModeResolver
	// ACL resolves the canned ACL for object-store uploads.
	ACL *ACLResolver

	// BeforeUpload, when set, may veto the upload by returning false or
	// mutate file.Data. A veto stops the pipeline without error.
	BeforeUpload func(ctx context.Context, file *UploadFile) (bool, error)
	// UploadCompleted always runs after the transfer attempt. Returning
	// true marks a transfer error as handled: the pipeline then resolves
	// without returning it.
	UploadCompleted func(ctx context.Context, info CompletedInfo) bool

	// Put performs the backend's actual write.
	Put func(ctx context.Context, path string, data []byte, mode os.FileMode, acl string) error
	// Chmod applies the resolved mode in a separate call after the put
	// (SFTP). Chmod failures are logged, never returned.
	Chmod func(ctx context.Context, path string, mode os.FileMode) error
}

// Run executes the pipeline for one file. Failures before the first
// remote mutation are returned directly and the upload is safe to
// retry; transfer failures are captured so the completion callback is
// guaranteed to run, and are returned afterwards unless the callback
// marks them handled.
func (p *UploadPipeline) Run(ctx context.Context, path string, data []byte) error {
	canonical := remotepath.Normalize(path)
	file := UploadFile{
		Path: canonical,
		Dir:  remotepath.Dir(canonical),
		Name: remotepath.Base(canonical),
		Data: data,
	}

	hookValues := map[string]string{
		"remote_dir":  file.Dir,
		"remote_file": file.Path,
		"remote_name": file.Name,
	}

	if p.Hooks != nil {
		if err := p.Hooks.Run(ctx, p.BeforeUploadHooks, hookValues); err != nil {
			return err
		}
	}

	if p.BeforeUpload != nil {
		ok, err := p.BeforeUpload(ctx, &file)
		if err != nil {
			return err
		}
		if !ok {
			logging.Debug("upload vetoed by callback",
				zap.String("backend", p.BackendType),
				zap.String("path", file.Path))
			if p.UploadCompleted != nil {
				p.UploadCompleted(ctx, CompletedInfo{File: file})
			}
			return nil
		}
	}

	uploaded := false
	err := p.transfer(ctx, &file, hookValues, &uploaded)
	metrics.RecordUpload(p.BackendType, int64(len(file.Data)), err == nil)

	if p.UploadCompleted != nil {
		handled := p.UploadCompleted(ctx, CompletedInfo{
			Err:             err,
			HasBeenUploaded: uploaded,
			File:            file,
		})
		if handled {
			if err != nil {
				logging.Warn("upload error marked handled by callback",
					zap.String("backend", p.BackendType),
					zap.String("path", file.Path),
					zap.Error(err))
			}
			return nil
		}
	}
	return err
}

func (p *UploadPipeline) transfer(ctx context.Context, file *UploadFile, hookValues map[string]string, uploaded *bool) error {
	if p.Ensurer != nil && file.Dir != "" {
		if _, err := p.Ensurer.Ensure(ctx, file.Dir); err != nil {
			return err
		}
	}

	mode, hasMode := p.Modes.Resolve(file.Path)
	acl := p.ACL.Resolve(file.Path)

	if err := p.Put(ctx, file.Path, file.Data, mode, acl); err != nil {
		return err
	}
	*uploaded = true

	if p.Hooks != nil {
		if err := p.Hooks.Run(ctx, p.UploadedHooks, hookValues); err != nil {
			return err
		}
	}

	if p.Chmod != nil && hasMode {
		if err := p.Chmod(ctx, file.Path, mode); err != nil {
			logging.Warn("chmod after upload failed",
				zap.String("backend", p.BackendType),
				zap.String("path", file.Path),
				zap.String("mode", mode.String()),
				zap.Error(err))
		}
	}
	return nil
}

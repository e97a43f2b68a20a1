package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestUploadPipelineHappyPath(t *testing.T) {
	var putPath string
	var putData []byte
	ensured := false

	p := &UploadPipeline{
		BackendType: "test",
		Ensurer: NewDirEnsurer(
			func(ctx context.Context, dir string) error { ensured = true; return nil },
			func(ctx context.Context, dir string) error { return nil },
			true,
		),
		Put: func(_ context.Context, path string, data []byte, _ os.FileMode, _ string) error {
			putPath, putData = path, data
			return nil
		},
	}

	if err := p.Run(context.Background(), "/releases/app.bin/", []byte("bits")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if putPath != "releases/app.bin" {
		t.Errorf("put path = %q, want canonical releases/app.bin", putPath)
	}
	if string(putData) != "bits" {
		t.Errorf("put data = %q", putData)
	}
	if !ensured {
		t.Error("parent directory was not ensured")
	}
}

func TestUploadPipelineSharesDirectoryCacheAcrossUploads(t *testing.T) {
	var made []string
	ensurer := NewDirEnsurer(
		func(ctx context.Context, dir string) error { return fmt.Errorf("missing") },
		func(ctx context.Context, dir string) error { made = append(made, dir); return nil },
		false,
	)

	p := &UploadPipeline{
		BackendType: "test",
		Ensurer:     ensurer,
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			return nil
		},
	}

	if err := p.Run(context.Background(), "sub/dir/file.txt", []byte("hello")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(made) != 2 || made[0] != "sub" || made[1] != "sub/dir" {
		t.Fatalf("mkdir calls = %v, want [sub sub/dir]", made)
	}

	if err := p.Run(context.Background(), "sub/dir/file2.txt", []byte("world")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(made) != 2 {
		t.Errorf("second upload issued %d extra directory calls", len(made)-2)
	}
}

func TestUploadPipelineVetoSkipsPutButCompletes(t *testing.T) {
	putCalled := false
	var completed *CompletedInfo

	p := &UploadPipeline{
		BackendType: "test",
		BeforeUpload: func(_ context.Context, file *UploadFile) (bool, error) {
			return false, nil
		},
		UploadCompleted: func(_ context.Context, info CompletedInfo) bool {
			completed = &info
			return false
		},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			putCalled = true
			return nil
		},
	}

	if err := p.Run(context.Background(), "a/b.txt", []byte("x")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if putCalled {
		t.Error("put ran despite veto")
	}
	if completed == nil {
		t.Fatal("completion callback did not run on veto")
	}
	if completed.HasBeenUploaded || completed.Err != nil {
		t.Errorf("veto completion = %+v, want no upload, no error", completed)
	}
}

func TestUploadPipelineBeforeUploadMutatesPayload(t *testing.T) {
	var putData []byte
	p := &UploadPipeline{
		BackendType: "test",
		BeforeUpload: func(_ context.Context, file *UploadFile) (bool, error) {
			file.Data = []byte("rewritten")
			return true, nil
		},
		Put: func(_ context.Context, _ string, data []byte, _ os.FileMode, _ string) error {
			putData = data
			return nil
		},
	}

	if err := p.Run(context.Background(), "f", []byte("original")); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(putData) != "rewritten" {
		t.Errorf("put data = %q, want rewritten", putData)
	}
}

func TestUploadPipelineCompletionCanHandleError(t *testing.T) {
	boom := errors.New("connection reset")
	var completed *CompletedInfo

	p := &UploadPipeline{
		BackendType: "test",
		UploadCompleted: func(_ context.Context, info CompletedInfo) bool {
			completed = &info
			return true
		},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			return boom
		},
	}

	if err := p.Run(context.Background(), "f", nil); err != nil {
		t.Fatalf("Run error = %v, want handled (nil)", err)
	}
	if completed == nil || !errors.Is(completed.Err, boom) || completed.HasBeenUploaded {
		t.Errorf("completion info = %+v, want captured error, not uploaded", completed)
	}
}

func TestUploadPipelineUnhandledErrorPropagates(t *testing.T) {
	boom := errors.New("quota exceeded")
	p := &UploadPipeline{
		BackendType: "test",
		UploadCompleted: func(_ context.Context, info CompletedInfo) bool {
			return false
		},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			return boom
		},
	}

	if err := p.Run(context.Background(), "f", nil); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
}

func TestUploadPipelineRunsHooksAroundPut(t *testing.T) {
	var order []string
	h := NewHookRunner(func(_ context.Context, command string) ([]byte, error) {
		order = append(order, command)
		return nil, nil
	})

	p := &UploadPipeline{
		BackendType:       "test",
		Hooks:             h,
		BeforeUploadHooks: []CommandEntry{{Command: "before ${remote_file}"}},
		UploadedHooks:     []CommandEntry{{Command: "after ${remote_name}"}},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			order = append(order, "put")
			return nil
		},
	}

	if err := p.Run(context.Background(), "dist/app.js", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	want := []string{"before dist/app.js", "put", "after app.js"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestUploadPipelineBeforeHookFailureStopsBeforeMutation(t *testing.T) {
	h := NewHookRunner(func(_ context.Context, command string) ([]byte, error) {
		return nil, fmt.Errorf("refused")
	})

	putCalled := false
	completionCalled := false
	p := &UploadPipeline{
		BackendType:       "test",
		Hooks:             h,
		BeforeUploadHooks: []CommandEntry{{Command: "guard"}},
		UploadCompleted: func(_ context.Context, info CompletedInfo) bool {
			completionCalled = true
			return false
		},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			putCalled = true
			return nil
		},
	}

	if err := p.Run(context.Background(), "f", nil); err == nil {
		t.Fatal("Run succeeded despite failing before-upload hook")
	}
	if putCalled {
		t.Error("put ran after failed before-upload hook")
	}
	if completionCalled {
		t.Error("completion ran for a failure before any remote mutation")
	}
}

func TestUploadPipelineAppliesResolvedMode(t *testing.T) {
	modes, err := NewModeResolver([]ModeMapping{
		{Pattern: "**.sh", Mode: "0755"},
		{Pattern: "**", Mode: "0644"},
	})
	if err != nil {
		t.Fatalf("NewModeResolver error: %v", err)
	}

	var putMode os.FileMode
	var chmodMode os.FileMode
	p := &UploadPipeline{
		BackendType: "test",
		Modes:       modes,
		Put: func(_ context.Context, _ string, _ []byte, mode os.FileMode, _ string) error {
			putMode = mode
			return nil
		},
		Chmod: func(_ context.Context, _ string, mode os.FileMode) error {
			chmodMode = mode
			return nil
		},
	}

	if err := p.Run(context.Background(), "bin/run.sh", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if putMode != 0755 || chmodMode != 0755 {
		t.Errorf("mode = put %o / chmod %o, want 0755", putMode, chmodMode)
	}
}

func TestUploadPipelineChmodFailureIsNotReturned(t *testing.T) {
	modes, _ := NewModeResolver([]ModeMapping{{Pattern: "**", Mode: "0600"}})
	p := &UploadPipeline{
		BackendType: "test",
		Modes:       modes,
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, _ string) error {
			return nil
		},
		Chmod: func(_ context.Context, _ string, _ os.FileMode) error {
			return errors.New("chmod unsupported")
		},
	}

	if err := p.Run(context.Background(), "f", nil); err != nil {
		t.Fatalf("Run error = %v, chmod failures must only be logged", err)
	}
}

func TestUploadPipelineResolvesACL(t *testing.T) {
	var putACL string
	p := &UploadPipeline{
		BackendType: "test",
		ACL: &ACLResolver{
			Detect: func(path string) string {
				if path == "public/index.html" {
					return "public-read"
				}
				return ""
			},
			Default: "private",
		},
		Put: func(_ context.Context, _ string, _ []byte, _ os.FileMode, acl string) error {
			putACL = acl
			return nil
		},
	}

	if err := p.Run(context.Background(), "public/index.html", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if putACL != "public-read" {
		t.Errorf("acl = %q, want public-read", putACL)
	}

	if err := p.Run(context.Background(), "internal/secret", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if putACL != "private" {
		t.Errorf("acl = %q, want private", putACL)
	}
}

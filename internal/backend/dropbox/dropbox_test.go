package dropbox

import (
	"testing"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/fruitsalade/deployer/internal/client"
)

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted an empty token")
	}
}

func TestAPIPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"a/b.txt", "/a/b.txt"},
		{"/a/b.txt/", "/a/b.txt"},
	}
	for _, c := range cases {
		if got := apiPath(c.in); got != c.want {
			t.Errorf("apiPath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEntriesFromMetadata(t *testing.T) {
	modified := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	raw := []files.IsMetadata{
		&files.FileMetadata{
			Metadata:       files.Metadata{Name: "report.pdf"},
			Size:           2048,
			ServerModified: modified,
		},
		&files.FolderMetadata{
			Metadata: files.Metadata{Name: "archive"},
		},
		&files.DeletedMetadata{
			Metadata: files.Metadata{Name: "gone.txt"},
		},
	}

	c := &Client{}
	entries := c.entriesFromMetadata("docs", raw)
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(entries), entries)
	}

	file := entries[0]
	if file.Name != "report.pdf" || file.Kind != client.KindFile {
		t.Errorf("file entry = %+v", file)
	}
	if file.Size != 2048 || !file.ModTime.Equal(modified) {
		t.Errorf("file metadata not carried through: %+v", file)
	}
	if file.Download == nil {
		t.Error("file entry has no download thunk")
	}

	if entries[1].Name != "archive" || entries[1].Kind != client.KindDirectory {
		t.Errorf("folder entry = %+v", entries[1])
	}

	deleted := entries[2]
	if deleted.Kind != client.KindUnknown {
		t.Errorf("deleted entry kind = %v, want unknown", deleted.Kind)
	}
	if deleted.Name != "gone.txt" {
		t.Errorf("deleted entry name = %q, want gone.txt", deleted.Name)
	}
	if deleted.Path != "docs" {
		t.Errorf("deleted entry path = %q, want docs", deleted.Path)
	}
}

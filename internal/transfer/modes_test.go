package transfer

import "testing"

func TestModeResolverFirstMatchWins(t *testing.T) {
	r, err := NewModeResolver([]ModeMapping{
		{Pattern: "bin/*.sh", Mode: "0755"},
		{Pattern: "**.sh", Mode: "0700"},
		{Pattern: "**", Mode: "0644"},
	})
	if err != nil {
		t.Fatalf("NewModeResolver error: %v", err)
	}

	tests := []struct {
		path string
		want uint32
		ok   bool
	}{
		{"bin/run.sh", 0755, true},
		{"scripts/deep/setup.sh", 0700, true},
		{"readme.md", 0644, true},
		{"/bin/run.sh", 0755, true},
	}
	for _, tt := range tests {
		mode, ok := r.Resolve(tt.path)
		if ok != tt.ok || uint32(mode) != tt.want {
			t.Errorf("Resolve(%q) = %o/%v, want %o/%v", tt.path, mode, ok, tt.want, tt.ok)
		}
	}
}

func TestModeResolverNoMatch(t *testing.T) {
	r, err := NewModeResolver([]ModeMapping{{Pattern: "*.sh", Mode: "0755"}})
	if err != nil {
		t.Fatalf("NewModeResolver error: %v", err)
	}
	if _, ok := r.Resolve("nested/run.sh"); ok {
		t.Error("single-star pattern matched across separators")
	}
	if _, ok := r.Resolve("plain.txt"); ok {
		t.Error("Resolve matched with no applicable rule")
	}
}

func TestModeResolverRejectsBadMode(t *testing.T) {
	if _, err := NewModeResolver([]ModeMapping{{Pattern: "**", Mode: "rwxr-xr-x"}}); err == nil {
		t.Error("NewModeResolver accepted a non-octal mode")
	}
}

func TestModeResolverNilIsEmpty(t *testing.T) {
	var r *ModeResolver
	if _, ok := r.Resolve("anything"); ok {
		t.Error("nil resolver resolved a mode")
	}
}

func TestACLResolverDetectAndDefault(t *testing.T) {
	r := &ACLResolver{
		Detect: func(path string) string {
			if path == "www/page.html" {
				return "public-read"
			}
			return ""
		},
		Default: "private",
	}

	if got := r.Resolve("/www/page.html"); got != "public-read" {
		t.Errorf("Resolve = %q, want public-read", got)
	}
	if got := r.Resolve("data/db.bin"); got != "private" {
		t.Errorf("Resolve = %q, want private", got)
	}

	var nilR *ACLResolver
	if got := nilR.Resolve("x"); got != "" {
		t.Errorf("nil resolver Resolve = %q, want empty", got)
	}
}

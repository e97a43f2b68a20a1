package transfer

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gobwas/glob"

	"github.com/fruitsalade/deployer/internal/remotepath"
)

// ModeMapping maps a glob pattern to an octal file mode string. Patterns
// are implicitly rooted at "/".
type ModeMapping struct {
	Pattern string `json:"pattern"`
	Mode    string `json:"mode"`
}

type compiledMode struct {
	glob glob.Glob
	mode os.FileMode
}

// ModeResolver resolves the file mode to apply for a remote path from an
// ordered list of glob mappings; the first match wins.
type ModeResolver struct {
	rules []compiledMode
}

// NewModeResolver compiles the given mappings. Modes are parsed as octal
// (e.g. "0644").
func NewModeResolver(mappings []ModeMapping) (*ModeResolver, error) {
	r := &ModeResolver{rules: make([]compiledMode, 0, len(mappings))}
	for _, m := range mappings {
		pattern := m.Pattern
		if pattern == "" {
			continue
		}
		if pattern[0] != '/' {
			pattern = "/" + pattern
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile mode pattern %q: %w", m.Pattern, err)
		}
		mode, err := strconv.ParseUint(m.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("parse mode %q for pattern %q: %w", m.Mode, m.Pattern, err)
		}
		r.rules = append(r.rules, compiledMode{glob: g, mode: os.FileMode(mode)})
	}
	return r, nil
}

// Resolve matches path against the mappings in declaration order and
// returns the first matching mode.
func (r *ModeResolver) Resolve(path string) (os.FileMode, bool) {
	if r == nil {
		return 0, false
	}
	p := "/" + remotepath.Normalize(path)
	for _, rule := range r.rules {
		if rule.glob.Match(p) {
			return rule.mode, true
		}
	}
	return 0, false
}

// ACLResolver resolves the canned ACL for an object-store upload, via a
// user-supplied detector or a fixed default.
type ACLResolver struct {
	Detect  func(path string) string
	Default string
}

// Resolve returns the ACL to apply for path.
func (r *ACLResolver) Resolve(path string) string {
	if r == nil {
		return ""
	}
	if r.Detect != nil {
		if acl := r.Detect(remotepath.Normalize(path)); acl != "" {
			return acl
		}
	}
	return r.Default
}

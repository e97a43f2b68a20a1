// Package values implements named, lazily-resolved string values and
// ${name} placeholder substitution for command and path templates.
package values

import (
	"os"
	"regexp"
	"strings"
	"time"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// Value is a named, lazily-resolved string.
type Value struct {
	Name    string
	Resolve func() string
}

// Static returns a Value with a fixed string.
func Static(name, v string) Value {
	return Value{Name: name, Resolve: func() string { return v }}
}

// FromMap converts a plain map into a Value slice.
func FromMap(m map[string]string) []Value {
	out := make([]Value, 0, len(m))
	for k, v := range m {
		out = append(out, Static(k, v))
	}
	return out
}

// Builtin returns the values available to every template.
func Builtin() []Value {
	now := time.Now()
	return []Value{
		{Name: "time", Resolve: func() string { return now.UTC().Format(time.RFC3339) }},
		{Name: "timestamp", Resolve: func() string { return now.UTC().Format("20060102150405") }},
	}
}

// Replace expands ${name} placeholders in template using the given
// values. When the same name appears more than once the last value
// wins. Unknown placeholders are left untouched. Name lookup is
// case-insensitive.
func Replace(vals []Value, template string) string {
	if template == "" || !strings.Contains(template, "${") {
		return template
	}

	byName := make(map[string]Value, len(vals))
	for _, v := range vals {
		if v.Name == "" || v.Resolve == nil {
			continue
		}
		byName[strings.ToLower(v.Name)] = v
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-1])
		// Environment variable names stay in their original case; only
		// the prefix match is case-insensitive.
		if len(name) > 4 && strings.EqualFold(name[:4], "env:") {
			return os.Getenv(strings.TrimSpace(name[4:]))
		}
		if v, ok := byName[strings.ToLower(name)]; ok {
			return v.Resolve()
		}
		return m
	})
}

package transfer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/fruitsalade/deployer/internal/logging"
	"github.com/fruitsalade/deployer/internal/metrics"
	"github.com/fruitsalade/deployer/internal/values"
)

// CommandEntry is one configured remote command to run around a file
// operation. In JSON it may be a bare string (the command) or an object.
type CommandEntry struct {
	// Command is the template to execute; ${name} placeholders are
	// expanded before execution.
	Command string `json:"command"`
	// WriteOutputTo names the connection value that receives the
	// command's captured output.
	WriteOutputTo string `json:"write_output_to"`
	// TransformOutput is a JavaScript expression applied to the captured
	// output before it is stored. The expression sees `output` (decoded
	// string) and `command` (the substituted command).
	TransformOutput string `json:"transform_output"`
	// Encoding selects how raw output bytes are decoded before storing:
	// "" or "utf-8" (default), "hex", or "base64".
	Encoding string `json:"encoding"`
}

// UnmarshalJSON accepts both the bare-string and the object form.
func (e *CommandEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = CommandEntry{Command: s}
		return nil
	}

	type plain CommandEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = CommandEntry(p)
	return nil
}

// HookRunner executes command-hook batches against one connection. It
// owns the connection's mutable value map: output captured by one hook
// is visible to placeholders in every later hook, within the same batch
// and across batches, until the connection is closed.
type HookRunner struct {
	// Exec is the backend's raw command-exec primitive.
	Exec func(ctx context.Context, command string) ([]byte, error)
	// Provider supplies additional connection-level values, resolved
	// lazily per substitution.
	Provider func() []values.Value

	vals map[string]string
}

// NewHookRunner builds a runner around a backend's exec primitive.
func NewHookRunner(exec func(ctx context.Context, command string) ([]byte, error)) *HookRunner {
	return &HookRunner{Exec: exec, vals: make(map[string]string)}
}

// SetValue stores a connection value by hand.
func (h *HookRunner) SetValue(name, v string) {
	if h.vals == nil {
		h.vals = make(map[string]string)
	}
	h.vals[name] = v
}

// Value returns a previously captured connection value.
func (h *HookRunner) Value(name string) (string, bool) {
	v, ok := h.vals[name]
	return v, ok
}

// Run executes the entries strictly in order; later commands may depend
// on variables captured by earlier ones, so there is no parallelism. A
// command whose substituted text is empty is skipped. The first failing
// command aborts the remaining batch and its error is returned.
func (h *HookRunner) Run(ctx context.Context, entries []CommandEntry, extra map[string]string) error {
	if h == nil || len(entries) == 0 {
		return nil
	}
	if h.vals == nil {
		h.vals = make(map[string]string)
	}

	for _, entry := range entries {
		vals := values.Builtin()
		if h.Provider != nil {
			vals = append(vals, h.Provider()...)
		}
		vals = append(vals, values.FromMap(h.vals)...)
		vals = append(vals, values.FromMap(extra)...)

		command := values.Replace(vals, entry.Command)
		if strings.TrimSpace(command) == "" {
			continue
		}

		out, err := h.Exec(ctx, command)
		metrics.RecordHook(err == nil)
		if err != nil {
			return fmt.Errorf("hook command %q: %w", command, err)
		}

		if entry.WriteOutputTo == "" {
			continue
		}
		decoded, err := decodeOutput(out, entry.Encoding)
		if err != nil {
			return fmt.Errorf("decode output of hook command %q: %w", command, err)
		}
		if entry.TransformOutput != "" {
			decoded, err = transformOutput(entry, command, decoded)
			if err != nil {
				return fmt.Errorf("transform output of hook command %q: %w", command, err)
			}
		}
		h.vals[entry.WriteOutputTo] = decoded
		logging.Debug("hook output captured",
			zap.String("variable", entry.WriteOutputTo),
			zap.Int("bytes", len(decoded)))
	}
	return nil
}

func decodeOutput(raw []byte, encoding string) (string, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8", "ascii":
		return string(raw), nil
	case "hex":
		return hex.EncodeToString(raw), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("unsupported hook output encoding %q", encoding)
	}
}

// transformOutput evaluates the entry's JavaScript expression in a fresh
// VM with an allow-listed variable set. The VM exposes no host APIs, so
// expressions can reshape the output but not touch the process.
func transformOutput(entry CommandEntry, command, output string) (string, error) {
	vm := goja.New()
	if err := vm.Set("output", output); err != nil {
		return "", err
	}
	if err := vm.Set("command", command); err != nil {
		return "", err
	}
	if err := vm.Set("encoding", entry.Encoding); err != nil {
		return "", err
	}

	result, err := vm.RunString(entry.TransformOutput)
	if err != nil {
		return "", err
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return "", nil
	}
	return result.String(), nil
}

package cache

import (
	"crypto/sha256"
	"encoding/json"
	"path/filepath"
	"strings"

	"delegation-cache/internal/fingerprint"
)

// keySchemaVersion is mixed into every key; bump it when the canonical
// form below changes so old persisted entries stop matching.
const keySchemaVersion = 1

// Defaults the bridge applies when a request leaves an option empty.
const (
	DefaultExecutionMode  = "on-failure"
	DefaultSandboxMode    = "read-only"
	DefaultOutputFormat   = "diff"
	DefaultTaskComplexity = "medium"
	DefaultStartDelimiter = "--[=["
	DefaultEndDelimiter   = "]=]--"
)

// TaskParams is everything about a delegation request that can change what
// the backend returns. Any new backend option belongs here (or in Options),
// otherwise requests that differ only in that option share a key.
type TaskParams struct {
	Task             string `json:"task"`
	WorkingDirectory string `json:"working_directory"`
	// ExecutionMode is the approval policy: untrusted, on-failure, on-request, never.
	ExecutionMode string `json:"execution_mode"`
	// SandboxMode is read-only, workspace-write or danger-full-access.
	SandboxMode string `json:"sandbox_mode"`
	// OutputFormat is diff, full_file or explanation.
	OutputFormat     string `json:"output_format"`
	TaskComplexity   string `json:"task_complexity"`
	AllowWrite       bool   `json:"allow_write"`
	StartDelimiter   string `json:"start_delimiter"`
	EndDelimiter     string `json:"end_delimiter"`
	StrictDelimiters bool   `json:"strict_delimiters"`
	// Options holds further behavior-affecting backend flags.
	Options map[string]string `json:"options,omitempty"`
}

// WithDefaults returns a copy with empty options replaced by the bridge defaults.
func (p TaskParams) WithDefaults() TaskParams {
	p.ExecutionMode = orDefault(p.ExecutionMode, DefaultExecutionMode)
	p.SandboxMode = orDefault(p.SandboxMode, DefaultSandboxMode)
	p.OutputFormat = orDefault(p.OutputFormat, DefaultOutputFormat)
	p.TaskComplexity = orDefault(p.TaskComplexity, DefaultTaskComplexity)
	if p.StartDelimiter == "" {
		p.StartDelimiter = DefaultStartDelimiter
	}
	if p.EndDelimiter == "" {
		p.EndDelimiter = DefaultEndDelimiter
	}
	return p
}

// NormalizeTask canonicalizes line endings and trims surrounding whitespace.
// Inner whitespace is kept: indentation inside a task can carry meaning.
func NormalizeTask(task string) string {
	task = strings.ReplaceAll(task, "\r\n", "\n")
	task = strings.ReplaceAll(task, "\r", "\n")
	return strings.TrimSpace(task)
}

// BuildKey derives the cache key for params against a directory fingerprint.
//
// The parameters are encoded as a JSON object; encoding/json writes map keys
// in sorted order, so the encoding does not depend on field or Options order.
func BuildKey(params TaskParams, fp fingerprint.Fingerprint) Key {
	p := params.WithDefaults()

	canonical := map[string]any{
		"v":                 keySchemaVersion,
		"task":              NormalizeTask(p.Task),
		"working_directory": cleanDir(p.WorkingDirectory),
		"execution_mode":    p.ExecutionMode,
		"sandbox_mode":      p.SandboxMode,
		"output_format":     p.OutputFormat,
		"task_complexity":   p.TaskComplexity,
		"allow_write":       p.AllowWrite,
		"start_delimiter":   p.StartDelimiter,
		"end_delimiter":     p.EndDelimiter,
		"strict_delimiters": p.StrictDelimiters,
		"fingerprint":       fp.String(),
	}
	// Option names are taken verbatim; trimming could fold two names into one.
	if len(p.Options) > 0 {
		canonical["options"] = p.Options
	}

	// Only strings, bools, ints and string maps: Marshal cannot fail.
	body, _ := json.Marshal(canonical)
	return Key(sha256.Sum256(body))
}

func orDefault(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}

func cleanDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Clean(dir)
}

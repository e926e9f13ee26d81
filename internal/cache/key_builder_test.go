package cache

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delegation-cache/internal/fingerprint"
)

func testFingerprint(seed string) fingerprint.Fingerprint {
	return fingerprint.Fingerprint(sha256.Sum256([]byte(seed)))
}

func baseParams() TaskParams {
	return TaskParams{
		Task:             "Review src/auth.py for injection bugs",
		WorkingDirectory: "/work/project",
		ExecutionMode:    "on-failure",
		SandboxMode:      "read-only",
		OutputFormat:     "diff",
		TaskComplexity:   "medium",
		StartDelimiter:   DefaultStartDelimiter,
		EndDelimiter:     DefaultEndDelimiter,
		Options:          map[string]string{"model": "gpt-5", "profile": "ci"},
	}
}

func TestBuildKeyDeterministic(t *testing.T) {
	fp := testFingerprint("tree")
	k1 := BuildKey(baseParams(), fp)
	k2 := BuildKey(baseParams(), fp)
	assert.Equal(t, k1, k2)
}

func TestBuildKeyStableAcrossRuns(t *testing.T) {
	// Pinned so a change to the canonical encoding is noticed; persisted
	// entries written by an older build would silently stop matching.
	p := TaskParams{Task: "explain main.go", WorkingDirectory: "/w"}
	k := BuildKey(p, fingerprint.Fingerprint{})
	assert.Equal(t, "4e28040720ac1bd48513bc45e90747806499a142ee027b756edf0f5e0ca9e826", k.String())
	assert.Equal(t, k, BuildKey(p.WithDefaults(), fingerprint.Fingerprint{}))
}

func TestBuildKeyOptionOrderIndependent(t *testing.T) {
	fp := testFingerprint("tree")

	a := baseParams()
	a.Options = map[string]string{}
	a.Options["profile"] = "ci"
	a.Options["model"] = "gpt-5"

	b := baseParams()
	b.Options = map[string]string{}
	b.Options["model"] = "gpt-5"
	b.Options["profile"] = "ci"

	assert.Equal(t, BuildKey(a, fp), BuildKey(b, fp))
}

func TestBuildKeyNormalizesTask(t *testing.T) {
	fp := testFingerprint("tree")

	a := baseParams()
	a.Task = "  line one\r\nline two  \n"
	b := baseParams()
	b.Task = "line one\nline two"

	assert.Equal(t, BuildKey(a, fp), BuildKey(b, fp))
}

func TestBuildKeyDefaultsMatchExplicitValues(t *testing.T) {
	fp := testFingerprint("tree")

	implicit := TaskParams{Task: "plan refactor", WorkingDirectory: "/w"}
	explicit := TaskParams{
		Task:             "plan refactor",
		WorkingDirectory: "/w/",
		ExecutionMode:    "On-Failure",
		SandboxMode:      "read-only",
		OutputFormat:     "diff",
		TaskComplexity:   "medium",
		StartDelimiter:   "--[=[",
		EndDelimiter:     "]=]--",
	}
	assert.Equal(t, BuildKey(implicit, fp), BuildKey(explicit, fp))
}

func TestBuildKeySensitiveToEveryBehaviorParameter(t *testing.T) {
	fp := testFingerprint("tree")
	base := BuildKey(baseParams(), fp)

	mutations := map[string]func(p *TaskParams){
		"task":              func(p *TaskParams) { p.Task += "!" },
		"working_directory": func(p *TaskParams) { p.WorkingDirectory = "/work/other" },
		"execution_mode":    func(p *TaskParams) { p.ExecutionMode = "never" },
		"sandbox_mode":      func(p *TaskParams) { p.SandboxMode = "workspace-write" },
		"output_format":     func(p *TaskParams) { p.OutputFormat = "explanation" },
		"task_complexity":   func(p *TaskParams) { p.TaskComplexity = "high" },
		"allow_write":       func(p *TaskParams) { p.AllowWrite = true },
		"start_delimiter":   func(p *TaskParams) { p.StartDelimiter = "<<<" },
		"end_delimiter":     func(p *TaskParams) { p.EndDelimiter = ">>>" },
		"strict_delimiters": func(p *TaskParams) { p.StrictDelimiters = true },
		"option_value":      func(p *TaskParams) { p.Options["model"] = "gpt-5-mini" },
		"option_added":      func(p *TaskParams) { p.Options["reasoning"] = "high" },
	}

	seen := map[Key]string{base: "base"}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := baseParams()
			mutate(&p)
			k := BuildKey(p, fp)
			assert.NotEqual(t, base, k)
		})
	}

	for name, mutate := range mutations {
		p := baseParams()
		mutate(&p)
		k := BuildKey(p, fp)
		prev, dup := seen[k]
		require.False(t, dup, "%s collides with %s", name, prev)
		seen[k] = name
	}
}

func TestBuildKeyKeepsOptionNamesVerbatim(t *testing.T) {
	fp := testFingerprint("tree")

	both := baseParams()
	both.Options = map[string]string{" a": "1", "a": "2"}
	onlyA := baseParams()
	onlyA.Options = map[string]string{"a": "2"}
	padded := baseParams()
	padded.Options = map[string]string{" a": "2"}

	k := BuildKey(both, fp)
	for i := 0; i < 20; i++ {
		require.Equal(t, k, BuildKey(both, fp), "map iteration order must not matter")
	}
	assert.NotEqual(t, k, BuildKey(onlyA, fp))
	assert.NotEqual(t, BuildKey(onlyA, fp), BuildKey(padded, fp))
}

func TestBuildKeySensitiveToFingerprint(t *testing.T) {
	p := baseParams()
	assert.NotEqual(t, BuildKey(p, testFingerprint("a")), BuildKey(p, testFingerprint("b")))
}

func TestParseKeyRoundTrip(t *testing.T) {
	k := BuildKey(baseParams(), testFingerprint("tree"))

	parsed, err := ParseKey(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseKey("zz")
	assert.Error(t, err)
	_, err = ParseKey("abcd")
	assert.Error(t, err)
}

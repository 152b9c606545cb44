// Package tools defines the registry of capabilities the model may invoke
// and the executor that runs them under the sandbox policy.
package tools

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"localpilot/internal/memory"
	"localpilot/internal/sandbox"
)

// =============================================================================
// TOOL TYPES
// =============================================================================

// RunFunc executes a tool. It returns the raw output; the executor applies
// the output cap and classifies errors.
type RunFunc func(ctx context.Context, env *Env, args map[string]any) (string, error)

// Tool describes one capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	// NeedsProcess marks tools that spawn child processes; their
	// environment is always scrubbed.
	NeedsProcess bool
	Run          RunFunc
}

// Schema declares the parameters a tool accepts.
type Schema struct {
	Required   []string
	Properties map[string]Property
}

// Property describes a single parameter.
type Property struct {
	Type        string
	Description string
}

// Env is the shared execution environment handed to every tool.
type Env struct {
	Policy         *sandbox.Policy
	Memory         *memory.Store
	HTTP           *http.Client
	Timeout        time.Duration
	MaxOutputBytes int
	TopK           int
	Log            *zap.Logger
}

// =============================================================================
// RESULT
// =============================================================================

// FailKind classifies a failed tool call. Callers branch on the kind, never
// on message text.
type FailKind string

const (
	FailNone             FailKind = ""
	FailUnauthorized     FailKind = "unauthorized"
	FailSandboxViolation FailKind = "sandbox_violation"
	FailTimeout          FailKind = "timeout"
	FailOutputTooLarge   FailKind = "output_too_large"
	FailNotFound         FailKind = "not_found"
	FailInvalid          FailKind = "invalid"
	FailInternal         FailKind = "internal"
)

// Result is the tagged outcome of one tool call. Output carries the tool's
// text on success and whatever partial output survives on failure (a
// truncated capture, a sanitized stderr).
type Result struct {
	Tool     string
	Kind     FailKind
	Output   string
	Reason   string
	Duration time.Duration
}

// Failed reports whether the call failed.
func (r Result) Failed() bool {
	return r.Kind != FailNone
}

// Observation renders the result as the observation fed back to the model.
func (r Result) Observation() string {
	if !r.Failed() {
		return r.Output
	}
	msg := "tool error (" + string(r.Kind) + "): " + r.Reason
	if r.Output != "" {
		msg += "\n" + r.Output
	}
	return msg
}

func ok(tool, output string, d time.Duration) Result {
	return Result{Tool: tool, Output: output, Duration: d}
}

func fail(tool string, kind FailKind, reason, output string, d time.Duration) Result {
	return Result{Tool: tool, Kind: kind, Reason: reason, Output: output, Duration: d}
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"go.uber.org/zap"

	"localpilot/internal/sandbox"
)

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs registered tools under the sandbox policy. Paths are
// resolved immediately before use, environments are scrubbed for child
// processes, output is capped and every call is bounded by the tool timeout.
type Executor struct {
	reg *Registry
	env *Env
	log *zap.Logger

	// Runtime limits live behind their own lock so a config reload can
	// swap them between calls.
	mu             sync.RWMutex
	timeout        time.Duration
	maxOutputBytes int
}

// NewExecutor wires the registry to its execution environment.
func NewExecutor(reg *Registry, env *Env, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		reg:            reg,
		env:            env,
		log:            log,
		timeout:        env.Timeout,
		maxOutputBytes: env.MaxOutputBytes,
	}
}

// UpdateLimits applies reloaded runtime limits to subsequent calls. Calls
// already in flight keep the limits they started with.
func (e *Executor) UpdateLimits(timeout time.Duration, maxOutputBytes int) {
	e.mu.Lock()
	e.timeout = timeout
	e.maxOutputBytes = maxOutputBytes
	e.mu.Unlock()
}

func (e *Executor) limits() (time.Duration, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeout, e.maxOutputBytes
}

// Env exposes the execution environment for wiring.
func (e *Executor) Env() *Env {
	return e.env
}

// Registry exposes the tool registry for prompt construction.
func (e *Executor) Registry() *Registry {
	return e.reg
}

// Execute runs one tool call and returns a tagged result. It never returns
// an error: every failure mode is classified into the result's kind so the
// orchestrator can feed it back to the model as an observation.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()

	tool, found := e.reg.Get(name)
	if !found {
		e.log.Warn("unauthorized tool requested", zap.String("tool", name))
		return fail(name, FailUnauthorized, fmt.Sprintf("tool %q is not available", name), "", time.Since(start))
	}

	if err := validateArgs(tool, args); err != nil {
		return fail(name, FailInvalid, err.Error(), "", time.Since(start))
	}

	timeout, maxOutput := e.limits()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := tool.Run(runCtx, e.env, args)
	elapsed := time.Since(start)

	if err != nil {
		kind, reason := classify(runCtx, err, timeout)
		e.log.Debug("tool call failed",
			zap.String("tool", name),
			zap.String("kind", string(kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return fail(name, kind, reason, capOutput(output, maxOutput), elapsed)
	}

	if len(output) > maxOutput {
		return fail(name, FailOutputTooLarge,
			fmt.Sprintf("output exceeded %d bytes and was truncated", maxOutput),
			capOutput(output, maxOutput), elapsed)
	}

	e.log.Debug("tool call ok", zap.String("tool", name), zap.Duration("elapsed", elapsed))
	return ok(name, output, elapsed)
}

// classify maps an execution error onto a failure kind. Sandbox errors keep
// their own kinds so the audit trail distinguishes a containment refusal
// from an ordinary missing file.
func classify(ctx context.Context, err error, timeout time.Duration) (FailKind, string) {
	switch {
	case errors.Is(err, sandbox.ErrOutsideRoot), errors.Is(err, sandbox.ErrScriptDenied):
		return FailSandboxViolation, err.Error()
	case errors.Is(err, sandbox.ErrCommandDenied):
		return FailUnauthorized, err.Error()
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return FailTimeout, fmt.Sprintf("tool exceeded its %s timeout", timeout)
	case errors.Is(err, fs.ErrNotExist):
		return FailNotFound, err.Error()
	case errors.Is(err, ErrInvalidArgs):
		return FailInvalid, err.Error()
	default:
		return FailInternal, err.Error()
	}
}

func capOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}

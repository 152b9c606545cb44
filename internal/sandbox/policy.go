// Package sandbox confines tool execution to a root directory, an
// allow-listed command set and a scrubbed environment. A Policy is built
// once from config and never mutated; callers share it by pointer.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// SANDBOX POLICY
// =============================================================================

var (
	// ErrOutsideRoot means a path resolves outside the sandbox root.
	ErrOutsideRoot = errors.New("path escapes sandbox root")
	// ErrCommandDenied means a command is not on the allow-list.
	ErrCommandDenied = errors.New("command not allowed")
	// ErrScriptDenied means a script failed structural validation.
	ErrScriptDenied = errors.New("script rejected")
)

// Policy is the immutable sandbox configuration.
type Policy struct {
	root     string // canonical, symlinks resolved
	foldCase bool   // the filesystem under root ignores case
	commands map[string]struct{}
	env      map[string]struct{}
	packages map[string]struct{}
}

// NewPolicy canonicalizes root (creating it if missing) and copies the
// allow-lists. The returned policy is safe for concurrent use.
func NewPolicy(root string, commands, env, scriptPackages []string) (*Policy, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("sandbox root is required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize sandbox root: %w", err)
	}

	p := &Policy{
		root:     canonical,
		foldCase: caseInsensitiveFS(canonical),
		commands: make(map[string]struct{}, len(commands)),
		env:      make(map[string]struct{}, len(env)),
		packages: make(map[string]struct{}, len(scriptPackages)),
	}
	for _, c := range commands {
		p.commands[strings.TrimSpace(c)] = struct{}{}
	}
	for _, e := range env {
		p.env[strings.TrimSpace(e)] = struct{}{}
	}
	for _, pkg := range scriptPackages {
		p.packages[strings.TrimSpace(pkg)] = struct{}{}
	}
	return p, nil
}

// caseInsensitiveFS reports whether the filesystem at dir folds case: a
// probe file created under a lowercase name is looked up under the
// uppercase one. Containment checks fold case only when the filesystem
// itself does.
func caseInsensitiveFS(dir string) bool {
	f, err := os.CreateTemp(dir, "caseprobe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	lower, err := os.Stat(name)
	if err != nil {
		return false
	}
	upper, err := os.Stat(filepath.Join(dir, strings.ToUpper(filepath.Base(name))))
	if err != nil {
		return false
	}
	return os.SameFile(lower, upper)
}

// Root returns the canonical sandbox root.
func (p *Policy) Root() string {
	return p.root
}

// CommandAllowed reports whether name is on the command allow-list.
// Only bare names match; paths never do.
func (p *Policy) CommandAllowed(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	_, ok := p.commands[name]
	return ok
}

// ScrubEnv filters environ (KEY=VALUE strings) down to the allow-listed
// names. Everything else, including interpreter and loader variables, is
// dropped unless explicitly listed.
func (p *Policy) ScrubEnv(environ []string) []string {
	out := make([]string, 0, len(p.env))
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, allowed := p.env[name]; allowed {
			out = append(out, kv)
		}
	}
	return out
}

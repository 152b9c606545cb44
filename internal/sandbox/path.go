package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// PATH RESOLUTION
// =============================================================================

// Resolve turns a tool-supplied path into a canonical absolute path inside
// the sandbox root. Relative paths are joined against the root. Symlinks are
// resolved before the containment check, so a link pointing outside the root
// is rejected even though its own path looks contained. The leaf may not
// exist yet (write targets); containment is then checked through the deepest
// existing ancestor.
func (p *Policy) Resolve(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	canonical, err := evalThroughAncestor(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", raw, err)
	}

	if !p.contains(canonical) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, raw)
	}
	return canonical, nil
}

// evalThroughAncestor canonicalizes path even when the leaf does not exist:
// the deepest existing ancestor is resolved and the missing suffix is
// re-joined onto it.
func evalThroughAncestor(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}

	var suffix []string
	cur := path
	for {
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent

		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// contains reports whether child is the root or lies under it. Canonical
// paths compare byte-wise; case folds only when the filesystem itself
// ignores case, so on a case-sensitive system a sibling directory
// differing only in case stays outside.
func (p *Policy) contains(child string) bool {
	r := filepath.Clean(p.root)
	c := filepath.Clean(child)
	if p.foldCase {
		r = strings.ToLower(r)
		c = strings.ToLower(c)
	}
	if c == r {
		return true
	}
	return strings.HasPrefix(c, r+string(filepath.Separator))
}

package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// =============================================================================
// SCRIPT VALIDATION
// =============================================================================

// ValidateScript parses src as Go and walks the syntax tree, accepting only
// imports on the policy package allow-list and rejecting concurrency and
// channel constructs outright. Validation is structural: string tricks in
// comments or literals cannot smuggle an import past it, and anything that
// does not parse does not run.
func (p *Policy) ValidateScript(src string) error {
	file, err := parseScript(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptDenied, err)
	}

	var violation error
	ast.Inspect(file, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.ImportSpec:
			path, err := strconv.Unquote(node.Path.Value)
			if err != nil {
				violation = fmt.Errorf("%w: malformed import %s", ErrScriptDenied, node.Path.Value)
				return false
			}
			if _, ok := p.packages[path]; !ok {
				violation = fmt.Errorf("%w: import %q not permitted", ErrScriptDenied, path)
				return false
			}
		case *ast.GoStmt:
			violation = fmt.Errorf("%w: go statements not permitted", ErrScriptDenied)
			return false
		case *ast.SelectStmt:
			violation = fmt.Errorf("%w: select not permitted", ErrScriptDenied)
			return false
		case *ast.ChanType, *ast.SendStmt:
			violation = fmt.Errorf("%w: channels not permitted", ErrScriptDenied)
			return false
		case *ast.UnaryExpr:
			if node.Op == token.ARROW {
				violation = fmt.Errorf("%w: channel receive not permitted", ErrScriptDenied)
				return false
			}
		}
		return true
	})
	return violation
}

// parseScript accepts the shapes scripts arrive in: a file body with
// imports and declarations, a bare statement list, or leading imports
// followed by statements (the interpreter's REPL form).
func parseScript(src string) (*ast.File, error) {
	fset := token.NewFileSet()

	asFile := "package main\n" + src
	if file, err := parser.ParseFile(fset, "script.go", asFile, 0); err == nil {
		return file, nil
	}

	asBody := "package main\nfunc _() {\n" + src + "\n}"
	if file, err := parser.ParseFile(fset, "script.go", asBody, 0); err == nil {
		return file, nil
	}

	imports, rest := splitImports(src)
	hoisted := "package main\n" + imports + "\nfunc _() {\n" + rest + "\n}"
	file, err := parser.ParseFile(fset, "script.go", hoisted, 0)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %v", err)
	}
	return file, nil
}

// SplitImports returns the leading single-line imports of a script and the
// remaining body. The interpreter rejects imports mixed with bare
// statements in one source, so callers evaluate the imports first and the
// body second. Scripts that do not start with single-line imports (file
// form, grouped import blocks, plain statements) come back whole as the
// body.
func SplitImports(src string) (imports []string, body string) {
	lines := strings.Split(src, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, `import "`) {
			imports = append(imports, trimmed)
			continue
		}
		break
	}
	return imports, strings.Join(lines[i:], "\n")
}

// splitImports separates the leading import lines from the statement body.
func splitImports(src string) (imports, rest string) {
	lines := strings.Split(src, "\n")
	i := 0
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import(") {
			continue
		}
		break
	}
	return strings.Join(lines[:i], "\n"), strings.Join(lines[i:], "\n")
}

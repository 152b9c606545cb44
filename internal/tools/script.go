package tools

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"localpilot/internal/sandbox"
)

// =============================================================================
// SCRIPT TOOL
// =============================================================================

// RunScriptTool evaluates a short Go snippet in an embedded interpreter.
// The snippet is structurally validated against the package allow-list
// before a single statement runs, and evaluation races the tool timeout.
func RunScriptTool() *Tool {
	return &Tool{
		Name:        "run-script",
		Description: "Evaluate a short Go snippet (restricted imports, no goroutines)",
		Schema: Schema{
			Required: []string{"source"},
			Properties: map[string]Property{
				"source": {Type: "string", Description: "The Go code to evaluate"},
			},
		},
		Run: runScript,
	}
}

type evalOutcome struct {
	value string
	err   error
}

func runScript(ctx context.Context, env *Env, args map[string]any) (string, error) {
	src, _ := args["source"].(string)

	if err := env.Policy.ValidateScript(src); err != nil {
		return "", err
	}

	var out bytes.Buffer
	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("interpreter setup: %w", err)
	}

	// The interpreter takes the REPL form one chunk at a time: leading
	// imports first, then the statement body.
	imports, body := sandbox.SplitImports(src)

	// Eval cannot be interrupted from outside, so it runs in its own
	// goroutine and the result is abandoned on timeout.
	done := make(chan evalOutcome, 1)
	go func() {
		for _, imp := range imports {
			if _, err := i.Eval(imp); err != nil {
				done <- evalOutcome{err: err}
				return
			}
		}
		v, err := i.Eval(body)
		var rendered string
		if err == nil && v.IsValid() {
			rendered = fmt.Sprintf("%v", v.Interface())
		}
		done <- evalOutcome{value: rendered, err: err}
	}()

	select {
	case <-ctx.Done():
		return out.String(), ctx.Err()
	case res := <-done:
		if res.err != nil {
			return out.String(), fmt.Errorf("script evaluation: %w", res.err)
		}
		result := out.String()
		if res.value != "" && res.value != "<nil>" {
			if result != "" && !strings.HasSuffix(result, "\n") {
				result += "\n"
			}
			result += res.value
		}
		if result == "" {
			result = "(no output)"
		}
		return result, nil
	}
}

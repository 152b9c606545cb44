package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"localpilot/internal/sandbox"
)

// =============================================================================
// COMMAND TOOL
// =============================================================================

// RunCommandTool executes an allow-listed command inside the sandbox root.
// There is no shell: the command name and arguments become the argv
// directly, so operators like ; | && > have no meaning.
func RunCommandTool() *Tool {
	return &Tool{
		Name:         "run-allowed-command",
		Description:  "Run an allow-listed command in the workspace (no shell, no pipes)",
		NeedsProcess: true,
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command": {Type: "string", Description: "The command name, optionally followed by arguments"},
				"args":    {Type: "array", Description: "Additional arguments"},
			},
		},
		Run: runCommand,
	}
}

func runCommand(ctx context.Context, env *Env, args map[string]any) (string, error) {
	raw, _ := args["command"].(string)

	// A command string with spaces is split on whitespace; quoting is not
	// interpreted because nothing downstream is a shell.
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrInvalidArgs)
	}
	name := fields[0]
	argv := fields[1:]

	if extra, ok := args["args"].([]any); ok {
		for _, a := range extra {
			s, ok := a.(string)
			if !ok {
				return "", fmt.Errorf("%w: args must be strings", ErrInvalidArgs)
			}
			argv = append(argv, s)
		}
	}

	if !env.Policy.CommandAllowed(name) {
		return "", fmt.Errorf("%w: %s", sandbox.ErrCommandDenied, name)
	}

	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.Dir = env.Policy.Root()
	cmd.Env = env.Policy.ScrubEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, ctx.Err()
		}
		return output, fmt.Errorf("command %s failed: %w\n%s", name, err, sanitizeStderr(stderr.String(), env.Policy.Root()))
	}
	return output, nil
}

var absPathRe = regexp.MustCompile(`(/[\w./-]+)+`)

// sanitizeStderr strips workspace paths and caps the length so error text
// fed back to the model does not leak host layout.
func sanitizeStderr(s, root string) string {
	s = strings.ReplaceAll(s, root, "<workspace>")
	s = absPathRe.ReplaceAllString(s, "<path>")
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	return strings.TrimSpace(s)
}

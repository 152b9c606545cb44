package tools

import (
	"context"
	"fmt"
	"strings"

	"localpilot/internal/memory"
)

// =============================================================================
// MEMORY TOOLS
// =============================================================================

// SearchMemoryTool lets the model query its own long-term memory.
func SearchMemoryTool() *Tool {
	return &Tool{
		Name:        "search-memory",
		Description: "Search long-term memory for facts matching a query",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "What to look for"},
			},
		},
		Run: runSearchMemory,
	}
}

func runSearchMemory(ctx context.Context, env *Env, args map[string]any) (string, error) {
	query, _ := args["query"].(string)

	facts, err := env.Memory.Search(ctx, query, env.TopK)
	if err != nil {
		return "", fmt.Errorf("memory search: %w", err)
	}
	if len(facts) == 0 {
		return "no matching facts in memory", nil
	}

	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%d] %s (confidence %.1f)\n", f.ID, f.Content, f.Confidence)
	}
	return b.String(), nil
}

// RememberFactTool stores a fact the user explicitly asked to remember.
// User-stated facts carry full confidence.
func RememberFactTool() *Tool {
	return &Tool{
		Name:        "remember-fact",
		Description: "Store a fact in long-term memory",
		Schema: Schema{
			Required: []string{"content"},
			Properties: map[string]Property{
				"content": {Type: "string", Description: "The fact to remember, as one sentence"},
			},
		},
		Run: runRememberFact,
	}
}

func runRememberFact(ctx context.Context, env *Env, args map[string]any) (string, error) {
	content, _ := args["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: empty fact", ErrInvalidArgs)
	}

	id, err := env.Memory.PutFact(ctx, memory.Fact{
		Content:    content,
		Source:     "stated",
		Confidence: 1.0,
	})
	if err != nil {
		return "", fmt.Errorf("store fact: %w", err)
	}
	return fmt.Sprintf("remembered as fact %d", id), nil
}

// RegisterAll populates the registry with the fixed tool set.
func RegisterAll(reg *Registry) {
	for _, t := range []*Tool{
		ReadFileTool(),
		WriteFileTool(),
		ListDirectoryTool(),
		RunCommandTool(),
		RunScriptTool(),
		WebSearchTool(),
		SearchMemoryTool(),
		RememberFactTool(),
	} {
		reg.MustRegister(t)
	}
}

// Package llm is the inference boundary. The orchestrator depends only on
// the Client interface; the Gemini implementation and the test fake both
// satisfy it.
package llm

import "context"

// =============================================================================
// CLIENT INTERFACE
// =============================================================================

// Client produces completions. Implementations must respect ctx.
type Client interface {
	// Complete returns the full response for one prompt.
	Complete(ctx context.Context, system, prompt string) (string, error)

	// CompleteStream emits response chunks on the first channel and at
	// most one error on the second. Both channels close when done.
	CompleteStream(ctx context.Context, system, prompt string) (<-chan string, <-chan error)
}

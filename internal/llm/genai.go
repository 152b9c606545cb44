package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GEMINI CLIENT
// =============================================================================

// GeminiClient implements Client on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds the client. The API key comes from config or the
// environment, never from model-visible state.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) generationConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

// Complete returns the full response text.
func (g *GeminiClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.generationConfig(system))
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	return resp.Text(), nil
}

// CompleteStream emits the response incrementally.
func (g *GeminiClient) CompleteStream(ctx context.Context, system, prompt string) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, g.generationConfig(system)) {
			if err != nil {
				errs <- fmt.Errorf("gemini stream: %w", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case chunks <- text:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return chunks, errs
}

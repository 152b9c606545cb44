package config

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
meta:
  name: testbot
runtime:
  max_tool_calls: 3
sandbox:
  root: ./ws
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Meta.Name != "testbot" {
		t.Errorf("meta.name = %q, want testbot", cfg.Meta.Name)
	}
	if cfg.Runtime.MaxToolCalls != 3 {
		t.Errorf("max_tool_calls = %d, want 3", cfg.Runtime.MaxToolCalls)
	}
	// Untouched sections keep defaults.
	if cfg.Memory.TopK != 5 {
		t.Errorf("memory.top_k = %d, want default 5", cfg.Memory.TopK)
	}
	if len(cfg.Sandbox.AllowedCommands) == 0 {
		t.Error("allowed_commands should keep defaults")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero tool calls", "runtime:\n  max_tool_calls: 0\n"},
		{"bad timeout", "runtime:\n  tool_timeout: never\n"},
		{"empty root", "sandbox:\n  root: \"  \"\n"},
		{"tiny output cap", "runtime:\n  max_output_bytes: 10\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted invalid config %q", tc.body)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PILOT_MODEL", "gemini-test")
	t.Setenv("PILOT_MAX_TOOL_CALLS", "9")
	t.Setenv("PILOT_API_KEY", "sk-env")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.LLM.Model != "gemini-test" {
		t.Errorf("model = %q, want gemini-test", cfg.LLM.Model)
	}
	if cfg.Runtime.MaxToolCalls != 9 {
		t.Errorf("max_tool_calls = %d, want 9", cfg.Runtime.MaxToolCalls)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api_key not taken from env")
	}
}

func TestTimeoutParsing(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.ToolTimeout() <= 0 {
		t.Error("tool timeout should be positive")
	}
	if cfg.LLMTimeout() <= 0 {
		t.Error("llm timeout should be positive")
	}
}

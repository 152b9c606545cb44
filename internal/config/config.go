package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config is the root configuration loaded from pilot.yaml.
type Config struct {
	Meta    MetaConfig    `yaml:"meta"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Persona PersonaConfig `yaml:"persona"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Memory  MemoryConfig  `yaml:"memory"`
	LLM     LLMConfig     `yaml:"llm"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetaConfig identifies the assistant instance.
type MetaConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RuntimeConfig bounds a single turn of the orchestrator.
type RuntimeConfig struct {
	MaxToolCalls   int    `yaml:"max_tool_calls"`
	ToolTimeout    string `yaml:"tool_timeout"`
	MaxOutputBytes int    `yaml:"max_output_bytes"`
	MaxContextSize int    `yaml:"max_context_size"`
}

// PersonaConfig shapes the system prompt.
type PersonaConfig struct {
	Tone      string `yaml:"tone"`
	Verbosity string `yaml:"verbosity"`
	Language  string `yaml:"language"`
}

// SandboxConfig is the source of the immutable sandbox policy.
type SandboxConfig struct {
	Root            string   `yaml:"root"`
	AllowedCommands []string `yaml:"allowed_commands"`
	AllowedEnv      []string `yaml:"allowed_env"`
	ScriptPackages  []string `yaml:"script_packages"`
}

// MemoryConfig configures the sqlite-backed memory store.
type MemoryConfig struct {
	Path          string  `yaml:"path"`
	TopK          int     `yaml:"top_k"`
	RecentTurns   int     `yaml:"recent_turns"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// LLMConfig configures the inference client.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Timeout  string `yaml:"timeout"`
}

// LoggingConfig configures structured logging and the audit trail.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	AuditPath  string `yaml:"audit_path"`
	LogPrompts bool   `yaml:"log_prompts"`
}

// Default returns a config usable out of the box.
func Default() *Config {
	return &Config{
		Meta: MetaConfig{
			Name:    "pilot",
			Version: "0.1.0",
		},
		Runtime: RuntimeConfig{
			MaxToolCalls:   5,
			ToolTimeout:    "30s",
			MaxOutputBytes: 50000,
			MaxContextSize: 8000,
		},
		Persona: PersonaConfig{
			Tone:      "friendly",
			Verbosity: "normal",
			Language:  "english",
		},
		Sandbox: SandboxConfig{
			Root: "./workspace",
			AllowedCommands: []string{
				"ls", "cat", "echo", "pwd", "head", "tail",
				"wc", "find", "grep", "sort", "uniq", "date",
			},
			AllowedEnv: []string{
				"PATH", "HOME", "LANG", "LC_ALL", "TZ", "TERM",
			},
			ScriptPackages: []string{"fmt", "strings", "strconv", "math", "sort", "time", "unicode"},
		},
		Memory: MemoryConfig{
			Path:          "./pilot.db",
			TopK:          5,
			RecentTurns:   6,
			MinConfidence: 0.5,
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			AuditPath:  "./audit.jsonl",
			LogPrompts: false,
		},
	}
}

// Load reads path, layers it over defaults, applies PILOT_* environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays PILOT_* environment variables. The API key in
// particular should come from the environment, not the file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PILOT_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("PILOT_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PILOT_SANDBOX_ROOT"); v != "" {
		c.Sandbox.Root = v
	}
	if v := os.Getenv("PILOT_MEMORY_PATH"); v != "" {
		c.Memory.Path = v
	}
	if v := os.Getenv("PILOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PILOT_MAX_TOOL_CALLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Runtime.MaxToolCalls = n
		}
	}
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if c.Runtime.MaxToolCalls < 1 {
		return fmt.Errorf("runtime.max_tool_calls must be >= 1, got %d", c.Runtime.MaxToolCalls)
	}
	if _, err := time.ParseDuration(c.Runtime.ToolTimeout); err != nil {
		return fmt.Errorf("runtime.tool_timeout: %w", err)
	}
	if c.Runtime.MaxOutputBytes < 1024 {
		return fmt.Errorf("runtime.max_output_bytes must be >= 1024, got %d", c.Runtime.MaxOutputBytes)
	}
	if strings.TrimSpace(c.Sandbox.Root) == "" {
		return fmt.Errorf("sandbox.root is required")
	}
	if len(c.Sandbox.AllowedCommands) == 0 {
		return fmt.Errorf("sandbox.allowed_commands must not be empty")
	}
	if strings.TrimSpace(c.Memory.Path) == "" {
		return fmt.Errorf("memory.path is required")
	}
	if c.Memory.TopK < 1 {
		return fmt.Errorf("memory.top_k must be >= 1, got %d", c.Memory.TopK)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	return nil
}

// ToolTimeout returns the parsed tool timeout. Validate guarantees it parses.
func (c *Config) ToolTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Runtime.ToolTimeout)
	return d
}

// LLMTimeout returns the parsed inference timeout.
func (c *Config) LLMTimeout() time.Duration {
	d, _ := time.ParseDuration(c.LLM.Timeout)
	return d
}

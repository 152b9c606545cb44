package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds the fixed tool set. It is populated at startup and only
// read afterwards, but stays safe for concurrent registration anyway.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("%w: tool must have a name", ErrInvalidArgs)
	}
	if t.Run == nil {
		return fmt.Errorf("%w: tool %s has no run function", ErrInvalidArgs, t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// MustRegister panics on registration failure. Startup only.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the tool list for the system prompt.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		t := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s", t.Name, t.Description)
		if len(t.Schema.Required) > 0 {
			fmt.Fprintf(&b, " (required: %s)", strings.Join(t.Schema.Required, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// validateArgs checks required parameters and the declared types of those
// present.
func validateArgs(t *Tool, args map[string]any) error {
	for _, req := range t.Schema.Required {
		v, ok := args[req]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing required parameter %q", ErrInvalidArgs, req)
		}
	}
	for name, v := range args {
		prop, declared := t.Schema.Properties[name]
		if !declared {
			continue
		}
		switch prop.Type {
		case "string":
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%w: parameter %q must be a string", ErrInvalidArgs, name)
			}
		case "array":
			if _, ok := v.([]any); !ok {
				return fmt.Errorf("%w: parameter %q must be an array", ErrInvalidArgs, name)
			}
		}
	}
	return nil
}

package tools

import "errors"

// =============================================================================
// TOOL ERRORS
// =============================================================================

var (
	// ErrToolNotFound means the requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArgs means required parameters are missing or mistyped.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrAlreadyRegistered means a tool name was registered twice.
	ErrAlreadyRegistered = errors.New("tool already registered")
)

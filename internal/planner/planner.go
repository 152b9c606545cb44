// Package planner parses the model's scratchpad output into the next step
// of the loop: a tool action, a final answer, or a parse error. Parsing is
// pure; no I/O happens here.
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// PLANNER
// =============================================================================

// Kind tags a parse result.
type Kind int

const (
	// KindFinal means the model produced its answer.
	KindFinal Kind = iota
	// KindAction means the model requested a tool call.
	KindAction
	// KindError means the output could not be parsed into either.
	KindError
)

// Action is one requested tool call.
type Action struct {
	Tool string
	Args map[string]any
	Raw  string
}

// ParseResult is the tagged outcome of parsing one model response.
type ParseResult struct {
	Kind    Kind
	Thought string
	Final   string
	Action  Action
	Reason  string // set when Kind == KindError
}

var (
	actionRe  = regexp.MustCompile(`(?m)^\s*Action\s*:\s*([A-Za-z0-9_-]+)\s*\(`)
	thoughtRe = regexp.MustCompile(`(?m)^\s*Thought\s*:\s*(.+)$`)
	finalRe   = regexp.MustCompile(`(?m)^\s*Final Answer\s*:\s*`)
)

// Parse interprets one model response. An Action marker wins over a Final
// Answer marker appearing later; text with no marker at all is treated as
// the final answer, so a model that skips the scaffolding still answers.
func Parse(text string) ParseResult {
	thought := ""
	if m := thoughtRe.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}

	if loc := actionRe.FindStringSubmatchIndex(text); loc != nil {
		tool := text[loc[2]:loc[3]]
		openParen := loc[1] - 1 // index of the matched '('

		payload, ok := scanBalanced(text, openParen)
		if !ok {
			return ParseResult{Kind: KindError, Thought: thought,
				Reason: fmt.Sprintf("unbalanced delimiters in %s(...) payload", tool)}
		}

		args, err := decodeArgs(payload)
		if err != nil {
			return ParseResult{Kind: KindError, Thought: thought,
				Reason: fmt.Sprintf("bad %s payload: %v", tool, err)}
		}

		return ParseResult{
			Kind:    KindAction,
			Thought: thought,
			Action:  Action{Tool: tool, Args: args, Raw: payload},
		}
	}

	if loc := finalRe.FindStringIndex(text); loc != nil {
		return ParseResult{Kind: KindFinal, Thought: thought,
			Final: strings.TrimSpace(text[loc[1]:])}
	}

	return ParseResult{Kind: KindFinal, Thought: thought, Final: strings.TrimSpace(text)}
}

// scanBalanced returns the payload between the paren at open and its
// matching close. Depth counts ()[]{} together; string literals and escapes
// are honored, so nested parens and braces inside JSON never cut the
// payload short.
func scanBalanced(text string, open int) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return text[open+1 : i], true
			}
			if depth < 0 {
				return "", false
			}
		}
	}
	return "", false
}

// decodeArgs decodes the payload as a single JSON object. The decoder is
// strict: numbers stay numbers, and trailing garbage after the object is
// rejected rather than ignored.
func decodeArgs(payload string) (map[string]any, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return args, nil
}

// CorrectiveObservation is fed back to the model after a parse error so the
// retry can fix its own formatting.
func CorrectiveObservation(reason string) string {
	return fmt.Sprintf(
		"Your previous response could not be parsed (%s). "+
			"Reply with either `Action: tool-name({\"param\": \"value\"})` on its own line, "+
			"or `Final Answer:` followed by your answer.", reason)
}

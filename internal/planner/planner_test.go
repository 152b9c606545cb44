package planner

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// =============================================================================
// PLANNER TESTS
// =============================================================================

func TestParseFinalAnswer(t *testing.T) {
	t.Parallel()

	res := Parse("Thought: I know this.\nFinal Answer: The capital of France is Paris.")
	if res.Kind != KindFinal {
		t.Fatalf("kind = %v, want KindFinal", res.Kind)
	}
	if res.Final != "The capital of France is Paris." {
		t.Errorf("final = %q", res.Final)
	}
	if res.Thought != "I know this." {
		t.Errorf("thought = %q", res.Thought)
	}
}

func TestParseBareTextIsFinal(t *testing.T) {
	t.Parallel()

	res := Parse("Just a plain answer with no markers.")
	if res.Kind != KindFinal {
		t.Fatalf("kind = %v, want KindFinal", res.Kind)
	}
	if res.Final != "Just a plain answer with no markers." {
		t.Errorf("final = %q", res.Final)
	}
}

func TestParseSimpleAction(t *testing.T) {
	t.Parallel()

	res := Parse(`Thought: need the file list.
Action: list-directory({"path": "docs"})`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v, want KindAction (reason: %s)", res.Kind, res.Reason)
	}
	if res.Action.Tool != "list-directory" {
		t.Errorf("tool = %q", res.Action.Tool)
	}
	if got := res.Action.Args["path"]; got != "docs" {
		t.Errorf("path = %v", got)
	}
}

func TestParseNestedDelimiters(t *testing.T) {
	t.Parallel()

	// Parens, brackets and braces inside the JSON payload must not
	// terminate the scan early.
	res := Parse(`Action: write-file({"path": "f(x).txt", "content": "sum(a, b) = {a + b} [done]"})`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v, want KindAction (reason: %s)", res.Kind, res.Reason)
	}

	want := map[string]any{
		"path":    "f(x).txt",
		"content": "sum(a, b) = {a + b} [done]",
	}
	if diff := cmp.Diff(want, res.Action.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEscapedQuotesInPayload(t *testing.T) {
	t.Parallel()

	res := Parse(`Action: write-file({"path": "q.txt", "content": "she said \"hi (there)\""})`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v, want KindAction (reason: %s)", res.Kind, res.Reason)
	}
	if got := res.Action.Args["content"]; got != `she said "hi (there)"` {
		t.Errorf("content = %q", got)
	}
}

func TestParseNumbersStayNumbers(t *testing.T) {
	t.Parallel()

	res := Parse(`Action: search-memory({"query": "x", "limit": 3})`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v (reason: %s)", res.Kind, res.Reason)
	}
	if got, ok := res.Action.Args["limit"].(json.Number); !ok || got.String() != "3" {
		t.Errorf("limit = %#v, want json.Number 3", res.Action.Args["limit"])
	}
}

func TestParseMalformedPayloads(t *testing.T) {
	t.Parallel()

	cases := []string{
		`Action: read-file({"path": )`,              // broken JSON
		`Action: read-file({"path": "a"} trailing)`, // garbage after object
		`Action: read-file({"path": "a"`,            // unbalanced
		`Action: read-file("just a string")`,        // not an object
	}
	for _, text := range cases {
		res := Parse(text)
		if res.Kind != KindError {
			t.Errorf("Parse(%q) kind = %v, want KindError", text, res.Kind)
		}
		if res.Kind == KindAction && len(res.Action.Args) > 0 {
			t.Errorf("partial args leaked for %q", text)
		}
	}
}

func TestParseEmptyPayload(t *testing.T) {
	t.Parallel()

	res := Parse(`Action: list-directory()`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v (reason: %s)", res.Kind, res.Reason)
	}
	if len(res.Action.Args) != 0 {
		t.Errorf("args = %v, want empty", res.Action.Args)
	}
}

func TestActionWinsOverLaterFinal(t *testing.T) {
	t.Parallel()

	res := Parse(`Action: read-file({"path": "a.txt"})
Final Answer: not yet`)
	if res.Kind != KindAction {
		t.Fatalf("kind = %v, want KindAction", res.Kind)
	}
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// MEMORY STORE TESTS
// =============================================================================

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pilot.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndSearchFact(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	id, err := s.PutFact(ctx, Fact{Content: "the user prefers dark roast coffee", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := s.Search(ctx, "coffee", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "the user prefers dark roast coffee", got[0].Content)
	require.Equal(t, 1.0, got[0].Confidence)
}

func TestSearchAdversarialQueries(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	_, err := s.PutFact(ctx, Fact{Content: "plain fact about cats", Source: "extracted", Confidence: 0.8})
	require.NoError(t, err)

	// Operator syntax must never escape as an error.
	for _, q := range []string{
		`cats*`, `cats OR dogs`, `NEAR(cats dogs)`, `"unclosed`,
		`+cats -dogs`, `col:umn`, `(((`, `   `, `^~*`,
	} {
		_, err := s.Search(ctx, q, 5)
		require.NoError(t, err, "query %q", q)
	}
}

func TestSupersedeFact(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	oldID, err := s.PutFact(ctx, Fact{Content: "the user lives in Milan", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)

	newID, err := s.SupersedeFact(ctx, oldID, Fact{Content: "the user lives in Turin", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	got, err := s.Search(ctx, "lives", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "superseded fact must not rank")
	require.Equal(t, "the user lives in Turin", got[0].Content)
	require.Equal(t, oldID, got[0].Supersedes)

	_, err = s.SupersedeFact(ctx, 9999, Fact{Content: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveExtractionIdempotent(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	facts := []Fact{
		{Content: "the user has a dog named Otto", Source: "extracted", Confidence: 0.8},
		{Content: "the user works remotely", Source: "extracted", Confidence: 0.8},
	}

	first, err := s.SaveExtraction(ctx, "turn-1", facts)
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.SaveExtraction(ctx, "turn-1", facts)
	require.NoError(t, err)
	require.False(t, second, "duplicate extraction must be a no-op")

	all, err := s.ListFacts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 2, "fact set stored exactly once")
}

func TestTurnsRoundTrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	for i, msg := range []struct{ id, role, content string }{
		{"t1", "user", "hello"},
		{"t2", "assistant", "hi there"},
		{"t3", "user", "list my files"},
	} {
		require.NoError(t, s.RecordTurn(ctx, Turn{
			ID: msg.id, ConversationID: "c1", Role: msg.role, Content: msg.content,
		}), "turn %d", i)
	}

	got, err := s.RecentTurns(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "hi there", got[0].Content, "oldest first")
	require.Equal(t, "list my files", got[1].Content)
}

func TestRecentTurnsWindow(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, s.RecordTurn(ctx, Turn{
			ID: fmt.Sprintf("t%d", i), ConversationID: "c1", Role: "user",
			Content: fmt.Sprintf("message %d", i),
		}))
	}

	// The window is the newest n turns, returned oldest first; insertion
	// order breaks created_at ties.
	got, err := s.RecentTurns(ctx, "c1", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, turn := range got {
		require.Equal(t, fmt.Sprintf("message %d", i+2), turn.Content)
	}
}

func TestLikeFallbackEscapesWildcards(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	_, err := s.PutFact(ctx, Fact{Content: "rollout is 100% complete", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)
	_, err = s.PutFact(ctx, Fact{Content: "rollout is 100x complete", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)

	// A literal % in the query must not act as a wildcard.
	got, err := s.searchLike(ctx, "100% complete", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "rollout is 100% complete", got[0].Content)

	// Same for underscore.
	_, err = s.PutFact(ctx, Fact{Content: "env var APP_MODE is set", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)
	_, err = s.PutFact(ctx, Fact{Content: "env var APPXMODE is set", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)

	got, err = s.searchLike(ctx, "APP_MODE", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "env var APP_MODE is set", got[0].Content)
}

func TestContextFormatting(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	_, err := s.PutFact(ctx, Fact{Content: "the project uses sqlite", Source: "extracted", Confidence: 0.8})
	require.NoError(t, err)
	require.NoError(t, s.RecordTurn(ctx, Turn{ID: "t1", ConversationID: "c1", Role: "user", Content: "tell me about sqlite"}))

	out, err := s.Context(ctx, "c1", "sqlite", 5, 5)
	require.NoError(t, err)
	require.Contains(t, out, "Known facts:")
	require.Contains(t, out, "the project uses sqlite")
	require.Contains(t, out, "Recent conversation:")

	empty, err := s.Context(ctx, "nope", "zzzz-no-match", 5, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAuditAppendOnly(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	for step := 1; step <= 3; step++ {
		require.NoError(t, s.AppendAudit(ctx, AuditRow{
			ConversationID: "c1", Step: step, Action: "read-file", Outcome: "ok",
		}))
	}

	steps, err := s.AuditSteps(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, r := range steps {
		require.Equal(t, i+1, r.Step, "steps strictly ordered")
	}

	tail, err := s.AuditTail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, 3, tail[0].Step, "tail newest first")
}

func TestDeleteFact(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	id, err := s.PutFact(ctx, Fact{Content: "disposable", Source: "stated", Confidence: 1.0})
	require.NoError(t, err)
	require.NoError(t, s.DeleteFact(ctx, id))
	require.True(t, errors.Is(s.DeleteFact(ctx, id), ErrNotFound))

	got, err := s.Search(ctx, "disposable", 5)
	require.NoError(t, err)
	require.Empty(t, got)
}

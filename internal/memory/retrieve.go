package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// RETRIEVAL
// =============================================================================

// sanitizeFTS turns free text into an FTS5 MATCH expression that cannot be
// interpreted as query syntax: operator characters are stripped and every
// surviving term is quoted. An empty result means there is nothing to match.
func sanitizeFTS(query string) string {
	cleaner := strings.NewReplacer(
		`"`, " ", "*", " ", "+", " ", "-", " ",
		"~", " ", "^", " ", ":", " ", "(", " ", ")", " ",
	)
	cleaned := cleaner.Replace(query)

	var terms []string
	for _, w := range strings.Fields(cleaned) {
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " ")
}

// Search returns facts matching query, best first. The query is sanitized
// before it reaches FTS5; if the index still refuses it, the search degrades
// to a LIKE scan rather than surfacing an error for adversarial input.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Fact, error) {
	if limit < 1 {
		limit = 5
	}

	match := sanitizeFTS(query)
	if match == "" {
		return nil, nil
	}

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.content, f.source, f.confidence, COALESCE(f.supersedes, 0), f.created_at
		FROM facts_fts
		JOIN facts f ON f.id = facts_fts.rowid
		WHERE facts_fts MATCH ?
		  AND f.id NOT IN (SELECT supersedes FROM facts WHERE supersedes IS NOT NULL)
		ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		s.mu.RUnlock()
		s.log.Debug("fts query failed, falling back to like",
			zap.String("match", match), zap.Error(err))
		return s.searchLike(ctx, query, limit)
	}
	defer s.mu.RUnlock()
	defer rows.Close()

	return scanFacts(rows)
}

func (s *Store) searchLike(ctx context.Context, query string, limit int) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// LIKE metacharacters in the query are literal text, not wildcards.
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	pattern := "%" + escaper.Replace(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, source, confidence, COALESCE(supersedes, 0), created_at
		FROM facts
		WHERE content LIKE ? ESCAPE '\'
		  AND id NOT IN (SELECT supersedes FROM facts WHERE supersedes IS NOT NULL)
		ORDER BY id DESC LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("like search: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// Context assembles the memory block for the prompt builder: facts ranked
// against the user message plus the recent turns of the conversation. The
// result is plain text; the builder wraps it in untrusted-content sentinels.
func (s *Store) Context(ctx context.Context, conversationID, query string, topK, recentTurns int) (string, error) {
	facts, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	turns, err := s.RecentTurns(ctx, conversationID, recentTurns)
	if err != nil {
		return "", err
	}

	if len(facts) == 0 && len(turns) == 0 {
		return "", nil
	}

	var b strings.Builder
	if len(facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s (confidence %.1f)\n", f.Content, f.Confidence)
		}
	}
	if len(turns) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Recent conversation:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
	}
	return b.String(), nil
}

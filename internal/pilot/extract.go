package pilot

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"localpilot/internal/memory"
	"localpilot/internal/prompt"
)

// =============================================================================
// FACT EXTRACTION
// =============================================================================

const maxFactsPerTurn = 3

// extractFacts distills durable facts from the finished exchange and stores
// them exactly once per turn: singleflight collapses concurrent callers in
// process, and the extraction marker in the store backs that at the
// database level. Extraction failures never fail the turn.
func (p *Pilot) extractFacts(ctx context.Context, turnID, userMessage, answer string) {
	_, _, _ = p.extractions.Do(turnID, func() (any, error) {
		resp, err := p.client.Complete(ctx, "", prompt.ExtractionPrompt(userMessage, answer))
		if err != nil {
			p.log.Debug("fact extraction skipped", zap.String("turn", turnID), zap.Error(err))
			return nil, nil
		}

		contents := parseFactList(resp)
		if len(contents) == 0 {
			// Mark the turn anyway so a retry does not re-ask the model.
			_, err := p.mem.SaveExtraction(ctx, turnID, nil)
			return nil, err
		}

		facts := make([]memory.Fact, 0, len(contents))
		for _, c := range contents {
			facts = append(facts, memory.Fact{
				Content:    c,
				Source:     "extracted",
				Confidence: 0.8,
			})
		}

		stored, err := p.mem.SaveExtraction(ctx, turnID, facts)
		if err != nil {
			p.log.Warn("fact extraction not persisted", zap.String("turn", turnID), zap.Error(err))
			return nil, nil
		}
		if stored {
			p.log.Debug("facts extracted", zap.String("turn", turnID), zap.Int("count", len(facts)))
		}
		return nil, nil
	})
}

// parseFactList pulls the fact contents out of the model's JSON reply. The
// reply may wrap the object in prose or a code fence; everything outside
// the outermost braces is ignored. Anything unparseable yields no facts.
func parseFactList(resp string) []string {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return nil
	}

	var payload struct {
		Facts []struct {
			Content string `json:"content"`
		} `json:"facts"`
	}
	if err := json.Unmarshal([]byte(resp[start:end+1]), &payload); err != nil {
		return nil
	}

	var out []string
	for _, f := range payload.Facts {
		c := strings.TrimSpace(f.Content)
		if c == "" {
			continue
		}
		out = append(out, c)
		if len(out) == maxFactsPerTurn {
			break
		}
	}
	return out
}

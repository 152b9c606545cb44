// Package pilot is the orchestrator: it plans with the model, acts through
// the sandboxed executor, observes results, and answers. Every turn leaves
// an ordered audit trail and exactly one summary entry, whatever exit path
// it takes.
package pilot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"localpilot/internal/audit"
	"localpilot/internal/config"
	"localpilot/internal/llm"
	"localpilot/internal/memory"
	"localpilot/internal/planner"
	"localpilot/internal/prompt"
	"localpilot/internal/tools"
)

// =============================================================================
// ORCHESTRATOR
// =============================================================================

var (
	// ErrToolLimit means the model needed more tool calls than the turn allows.
	ErrToolLimit = errors.New("tool call limit exceeded")

	// ErrUnparseable means the model output failed to parse twice in a row.
	ErrUnparseable = errors.New("model output could not be parsed")
)

// Pilot runs the plan, act, observe loop.
type Pilot struct {
	cfgMu       sync.RWMutex
	cfg         *config.Config
	client      llm.Client
	exec        *tools.Executor
	mem         *memory.Store
	trail       *audit.Logger
	builder     *prompt.Builder
	locks       *lockTable
	extractions singleflight.Group
	log         *zap.Logger
}

// New wires the orchestrator together.
func New(cfg *config.Config, client llm.Client, exec *tools.Executor, mem *memory.Store, trail *audit.Logger, log *zap.Logger) *Pilot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pilot{
		cfg:     cfg,
		client:  client,
		exec:    exec,
		mem:     mem,
		trail:   trail,
		builder: prompt.New(),
		locks:   newLockTable(),
		log:     log,
	}
}

// UpdateConfig swaps the active config. Turns already running keep the
// snapshot they started with. Tool runtime limits live in the executor and
// are swapped along with it.
func (p *Pilot) UpdateConfig(cfg *config.Config) {
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
	p.exec.UpdateLimits(cfg.ToolTimeout(), cfg.Runtime.MaxOutputBytes)
}

func (p *Pilot) config() *config.Config {
	p.cfgMu.RLock()
	defer p.cfgMu.RUnlock()
	return p.cfg
}

// TableSink adapts the memory store's audit table to the audit logger.
type TableSink struct {
	Store *memory.Store
}

// Append writes one flushed entry to the audit table.
func (s TableSink) Append(ctx context.Context, e audit.Entry) error {
	return s.Store.AppendAudit(ctx, memory.AuditRow{
		ConversationID: e.ConversationID,
		Step:           e.Step,
		Action:         e.Action,
		Outcome:        e.Outcome,
		Detail:         e.Detail,
	})
}

// =============================================================================
// EVENTS
// =============================================================================

// EventType tags a streamed event.
type EventType int

const (
	// EventStatus is a progress note ("thinking", "running read-file").
	EventStatus EventType = iota
	// EventAnswer carries the final answer.
	EventAnswer
	// EventError carries the user-facing failure message.
	EventError
)

// Event is one item of a streamed turn.
type Event struct {
	Type EventType
	Text string
}

// =============================================================================
// TURN PROCESSING
// =============================================================================

// turnState tracks one turn through the loop.
type turnState struct {
	step         int
	toolCalls    int
	parseRetries int
	outcome      string
	detail       string
	observations []prompt.Observation
}

// ProcessMessage runs one full turn and returns the answer. Errors carry
// internal detail for logs; callers show userFacingError instead.
func (p *Pilot) ProcessMessage(ctx context.Context, conversationID, message string) (string, error) {
	return p.run(ctx, conversationID, message, func(Event) bool { return true })
}

// ProcessStream runs one turn, emitting status events while it works and
// the answer (or failure) at the end. The channel always closes, and the
// turn always finalizes, even when the receiver walks away: emits select
// against ctx, and the deferred finalizer in run does the rest.
func (p *Pilot) ProcessStream(ctx context.Context, conversationID, message string) <-chan Event {
	events := make(chan Event, 8)

	go func() {
		defer close(events)
		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// deliver guarantees the terminal event: a free buffer slot is
		// taken immediately (a cancelled ctx cannot race the send away),
		// otherwise the send blocks until the receiver drains the status
		// backlog or gives up.
		deliver := func(ev Event) {
			select {
			case events <- ev:
				return
			default:
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		answer, err := p.run(ctx, conversationID, message, emit)
		if err != nil {
			deliver(Event{Type: EventError, Text: UserFacingError(err)})
			return
		}
		deliver(Event{Type: EventAnswer, Text: answer})
	}()

	return events
}

// run is the loop core shared by both entry points.
func (p *Pilot) run(ctx context.Context, conversationID, message string, emit func(Event) bool) (string, error) {
	if err := p.locks.Acquire(conversationID); err != nil {
		return "", err
	}

	cfg := p.config()
	turnID := uuid.NewString()
	st := &turnState{outcome: "failed"}

	// finalize: every exit path releases the lock, writes the single
	// summary entry and flushes.
	defer func() {
		p.locks.Release(conversationID)
		p.trail.Record(audit.Entry{
			ConversationID: conversationID,
			Step:           0,
			Action:         "turn-summary",
			Outcome:        st.outcome,
			Detail:         st.detail,
		})
		p.trail.Flush()
	}()

	if err := p.mem.RecordTurn(ctx, memory.Turn{
		ID: turnID, ConversationID: conversationID, Role: "user", Content: message,
	}); err != nil {
		st.detail = err.Error()
		return "", fmt.Errorf("memory store: %w", err)
	}

	memCtx, err := p.mem.Context(ctx, conversationID, message, cfg.Memory.TopK, cfg.Memory.RecentTurns)
	if err != nil {
		st.detail = err.Error()
		return "", fmt.Errorf("memory store: %w", err)
	}

	for {
		if ctx.Err() != nil {
			st.outcome = "cancelled"
			st.detail = ctx.Err().Error()
			return "", ctx.Err()
		}

		built, injections := p.builder.Build(prompt.BuildInput{
			Name:          cfg.Meta.Name,
			Tone:          cfg.Persona.Tone,
			Verbosity:     cfg.Persona.Verbosity,
			Language:      cfg.Persona.Language,
			Tools:         p.exec.Registry().Describe(),
			MemoryContext: memCtx,
			UserMessage:   message,
			Observations:  st.observations,
			MaxContext:    cfg.Runtime.MaxContextSize,
		})
		// Injection events take their own step so the per-conversation
		// trail stays strictly ordered.
		for _, ev := range injections {
			p.log.Warn("prompt injection neutralized",
				zap.String("conversation", conversationID),
				zap.String("block", ev.Block))
			st.step++
			p.trail.Record(audit.Entry{
				ConversationID: conversationID,
				Step:           st.step,
				Action:         "prompt-injection",
				Outcome:        "neutralized",
				Detail:         clip(ev.Block+": "+ev.Snippet, 200),
			})
		}

		if !emit(Event{Type: EventStatus, Text: "thinking"}) {
			st.outcome = "cancelled"
			st.detail = "receiver gone"
			return "", context.Canceled
		}

		text, err := p.client.Complete(ctx, "", built)
		if err != nil {
			if ctx.Err() != nil {
				st.outcome = "cancelled"
				st.detail = ctx.Err().Error()
				return "", ctx.Err()
			}
			st.detail = err.Error()
			return "", fmt.Errorf("inference: %w", err)
		}

		res := planner.Parse(text)
		switch res.Kind {
		case planner.KindFinal:
			answer := redactSecrets(postProcess(res.Final))

			st.step++
			p.trail.Record(audit.Entry{
				ConversationID: conversationID,
				Step:           st.step,
				Action:         "final-answer",
				Outcome:        "answered",
				Detail:         clip(answer, 200),
			})
			p.trail.Flush()

			if err := p.mem.RecordTurn(ctx, memory.Turn{
				ID: uuid.NewString(), ConversationID: conversationID,
				Role: "assistant", Content: answer,
			}); err != nil {
				p.log.Warn("assistant turn not persisted", zap.Error(err))
			}

			p.extractFacts(ctx, turnID, message, answer)

			st.outcome = "answered"
			return answer, nil

		case planner.KindAction:
			st.toolCalls++
			if st.toolCalls > cfg.Runtime.MaxToolCalls {
				st.detail = ErrToolLimit.Error()
				return "", ErrToolLimit
			}

			st.step++
			if !emit(Event{Type: EventStatus, Text: "running " + res.Action.Tool}) {
				st.outcome = "cancelled"
				st.detail = "receiver gone"
				return "", context.Canceled
			}

			result := p.exec.Execute(ctx, res.Action.Tool, res.Action.Args)
			outcome := "ok"
			if result.Failed() {
				outcome = string(result.Kind)
			}
			// The step is on the trail before its observation can
			// influence the next plan.
			p.trail.Record(audit.Entry{
				ConversationID: conversationID,
				Step:           st.step,
				Action:         res.Action.Tool,
				Outcome:        outcome,
				Detail:         clip(result.Reason, 200),
			})
			p.trail.Flush()

			st.observations = append(st.observations, prompt.Observation{
				Step: st.step, Tool: res.Action.Tool, Content: result.Observation(),
			})

		case planner.KindError:
			st.parseRetries++
			if st.parseRetries > 1 {
				st.detail = res.Reason
				return "", fmt.Errorf("%w: %s", ErrUnparseable, res.Reason)
			}
			st.observations = append(st.observations, prompt.Observation{
				Step: st.step, Tool: "parser", Content: planner.CorrectiveObservation(res.Reason),
			})
		}
	}
}

// UserFacingError maps internal failures onto the generic messages shown to
// the user. Raw detail stays in logs and the audit trail.
func UserFacingError(err error) string {
	switch {
	case errors.Is(err, ErrTurnActive):
		return "I'm still working on your previous message."
	case errors.Is(err, ErrToolLimit):
		return "I couldn't finish: tool call limit exceeded."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	default:
		return "Something went wrong while processing your message."
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

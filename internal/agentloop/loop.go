// Package agentloop implements the bounded LM -> code -> runner state
// machine that turns a user prompt into a final assistant message. It owns
// no transport or persistence: it drives an llm.Client and a
// sandbox.Runner, and reports progress by emitting domain.TurnEvent values
// to an EventSink, mirroring the pattern internal/approval uses to stay
// decoupled from internal/turn.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/llm"
	"github.com/revittco/agentrun/internal/sandbox"
)

// Default budgets per spec: six LM round trips, 20s per step, 2 minutes
// total wall clock for the turn.
const (
	DefaultMaxSteps       = 6
	DefaultPerStepTimeout = 20 * time.Second
	DefaultTotalTimeout   = 2 * time.Minute
)

// EventSink receives every event the loop produces, in emission order.
// internal/turn implements this to fan events out to session subscribers.
type EventSink interface {
	Emit(turnID string, evt domain.TurnEvent)
}

// Budgets bounds one run of the loop. Zero values are replaced with the
// package defaults by Run.
type Budgets struct {
	MaxSteps       int
	PerStepTimeout time.Duration
	TotalTimeout   time.Duration
}

func (b Budgets) withDefaults() Budgets {
	if b.MaxSteps <= 0 {
		b.MaxSteps = DefaultMaxSteps
	}
	if b.PerStepTimeout <= 0 {
		b.PerStepTimeout = DefaultPerStepTimeout
	}
	if b.TotalTimeout <= 0 {
		b.TotalTimeout = DefaultTotalTimeout
	}
	return b
}

// Loop runs one turn's agentic state machine. It is not reused across
// turns: construct one per Run call (via New) the way sandbox.Runner
// constructs a fresh goja.Runtime per call.
type Loop struct {
	client  llm.Client
	runner  *sandbox.Runner
	sink    EventSink
	budgets Budgets
}

// New builds a Loop. sink may be nil, in which case events are dropped.
func New(client llm.Client, runner *sandbox.Runner, budgets Budgets, sink EventSink) *Loop {
	if sink == nil {
		sink = noopSink{}
	}
	return &Loop{client: client, runner: runner, sink: sink, budgets: budgets.withDefaults()}
}

type noopSink struct{}

func (noopSink) Emit(string, domain.TurnEvent) {}

// Outcome is the terminal result of a Run call.
type Outcome struct {
	State        domain.TurnState
	FinalText    string
	Receipts     []domain.Receipt
	Reason       domain.FailureReason
	Diagnostic   string
}

// Run drives the state machine to completion: planning -> (running_code ->
// waiting_for_lm_followup -> planning)* -> terminating. It emits a
// TurnEvent for every state transition worth reporting and returns once a
// terminal state is reached, the context is cancelled, or a budget is
// exhausted.
func (l *Loop) Run(ctx context.Context, turnID, requesterID, systemPrompt, userPrompt string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, l.budgets.TotalTimeout)
	defer cancel()

	history := []llm.Message{{Role: llm.RoleUser, Text: userPrompt}}
	var allReceipts []domain.Receipt

	for step := 0; step < l.budgets.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return l.terminateCancelledOrTimeout(turnID, allReceipts, err)
		}

		l.sink.Emit(turnID, domain.TurnEvent{Type: domain.EventStatus, StatusText: "awaiting LM response"})

		resp, err := l.callLM(ctx, systemPrompt, history)
		if err != nil {
			if err := ctx.Err(); err != nil {
				return l.terminateCancelledOrTimeout(turnID, allReceipts, err)
			}
			return l.terminateFailed(turnID, allReceipts, domain.ReasonLMUnavailable, err.Error())
		}

		switch resp.Kind {
		case llm.KindFinal:
			return l.terminateCompleted(turnID, allReceipts, resp.Text)

		case llm.KindCode:
			l.sink.Emit(turnID, domain.TurnEvent{Type: domain.EventCodeGenerated, Code: resp.Code})
			history = append(history, llm.Message{Role: llm.RoleAssistant, Text: resp.Code})

			res := l.runner.Run(ctx, turnID, requesterID, resp.Code)
			for i := range res.Receipts {
				r := res.Receipts[i]
				allReceipts = append(allReceipts, r)
				l.sink.Emit(turnID, domain.TurnEvent{Type: domain.EventToolResult, Receipt: &r})
			}

			if err := ctx.Err(); err != nil {
				return l.terminateCancelledOrTimeout(turnID, allReceipts, err)
			}

			followup := receiptsFollowup(res)
			history = append(history, llm.Message{
				Role:        llm.RoleTool,
				ToolPath:    "code_mode",
				ReceiptJSON: followup,
			})

		default:
			return l.terminateFailed(turnID, allReceipts, domain.ReasonInternal,
				fmt.Sprintf("lm returned unknown response kind %q", resp.Kind))
		}
	}

	return l.terminateFailed(turnID, allReceipts, domain.ReasonStepBudget, "maxSteps reached without a final message")
}

// callLM bounds a single LM round trip to PerStepTimeout, distinct from the
// turn's TotalTimeout.
func (l *Loop) callLM(ctx context.Context, system string, history []llm.Message) (llm.Response, error) {
	stepCtx, cancel := context.WithTimeout(ctx, l.budgets.PerStepTimeout)
	defer cancel()
	return l.client.Complete(stepCtx, llm.Request{System: system, History: history})
}

// receiptsFollowup renders one sandbox run's outcome as the tool-result text
// fed back to the LM on the next step: the returned value on success, or the
// error plus whatever receipts were recorded, on failure.
func receiptsFollowup(res sandbox.Result) string {
	payload := struct {
		Value    json.RawMessage  `json:"value,omitempty"`
		Error    string           `json:"error,omitempty"`
		Receipts []domain.Receipt `json:"receipts"`
	}{
		Value:    res.Value,
		Receipts: res.Receipts,
	}
	if res.Err != nil {
		payload.Error = res.Err.Error()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

func (l *Loop) terminateCompleted(turnID string, receipts []domain.Receipt, finalText string) Outcome {
	l.sink.Emit(turnID, domain.TurnEvent{
		Type:         domain.EventCompleted,
		FinalText:    finalText,
		ReceiptCount: len(receipts),
	})
	return Outcome{State: domain.TurnCompleted, FinalText: finalText, Receipts: receipts}
}

func (l *Loop) terminateFailed(turnID string, receipts []domain.Receipt, reason domain.FailureReason, diagnostic string) Outcome {
	l.sink.Emit(turnID, domain.TurnEvent{
		Type:       domain.EventFailed,
		Reason:     reason,
		Diagnostic: diagnostic,
	})
	return Outcome{State: domain.TurnFailed, Receipts: receipts, Reason: reason, Diagnostic: diagnostic}
}

// terminateCancelledOrTimeout distinguishes an external cancellation from
// the loop's own TotalTimeout having fired, since both surface through
// ctx.Err() as context.Canceled / context.DeadlineExceeded respectively.
func (l *Loop) terminateCancelledOrTimeout(turnID string, receipts []domain.Receipt, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return l.terminateFailed(turnID, receipts, domain.ReasonTotalTimeout, "totalTimeout exceeded")
	}
	l.sink.Emit(turnID, domain.TurnEvent{Type: domain.EventFailed, Reason: domain.ReasonInternal, Diagnostic: "cancelled"})
	return Outcome{State: domain.TurnCancelled, Receipts: receipts}
}

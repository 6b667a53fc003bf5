package turn

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/revittco/agentrun/internal/agentloop"
	"github.com/revittco/agentrun/internal/approval"
	"github.com/revittco/agentrun/internal/domain"
	"github.com/revittco/agentrun/internal/llm"
	"github.com/revittco/agentrun/internal/llm/fake"
	"github.com/revittco/agentrun/internal/sandbox"
	"github.com/revittco/agentrun/internal/toolreg"
)

func newTestManager(t *testing.T, client llm.Client) (*Manager, *approval.Registry) {
	t.Helper()
	reg := toolreg.New()
	if err := reg.Register(&toolreg.Tool{
		Path:     "math.add",
		Approval: domain.ApprovalAuto,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var args struct{ A, B float64 }
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, err
			}
			return json.Marshal(args.A + args.B)
		},
	}); err != nil {
		t.Fatalf("register math.add: %v", err)
	}
	if err := reg.Register(&toolreg.Tool{
		Path:     "calendar.update",
		Approval: domain.ApprovalRequired,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"status": "updated"})
		},
	}); err != nil {
		t.Fatalf("register calendar.update: %v", err)
	}

	approvals := approval.New()
	runner := sandbox.New(reg, approvals, 5*time.Second, 5*time.Second)
	mgr := New(client, runner, approvals, func() string { return "system" },
		WithBudgets(agentloop.Budgets{MaxSteps: 4}),
		WithPostTerminalRetention(20*time.Millisecond),
	)
	// approvals was built before mgr existed, so awaiting_approval /
	// approval_resolved events are wired in after the fact, the same order
	// cmd/agentrund's real startup wiring follows.
	approvals.SetEventSink(mgr)
	return mgr, approvals
}

func drainUntilTerminal(t *testing.T, mgr *Manager, turnID string, timeout time.Duration) []domain.TurnEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var events []domain.TurnEvent
	for {
		evt, ok := mgr.WaitForNext(ctx, turnID, "test-cursor")
		if !ok {
			t.Fatalf("WaitForNext returned !ok before a terminal event; events so far: %+v", events)
		}
		events = append(events, evt)
		if isTerminal(evt.Type) {
			return events
		}
	}
}

func TestStartAndDrainCompletesTurn(t *testing.T) {
	client := fake.New(llm.Response{Kind: llm.KindFinal, Text: "all done"})
	mgr, _ := newTestManager(t, client)

	turnID := mgr.Start(context.Background(), "do a thing", "user-1", "chan-1", time.Now())
	events := drainUntilTerminal(t, mgr, turnID, 2*time.Second)

	last := events[len(events)-1]
	if last.Type != domain.EventCompleted {
		t.Fatalf("last event type = %v, want completed", last.Type)
	}
	if last.FinalText != "all done" {
		t.Fatalf("final text = %q", last.FinalText)
	}
}

func TestWaitForNextUnknownTurnReturnsFalse(t *testing.T) {
	mgr, _ := newTestManager(t, fake.New())
	_, ok := mgr.WaitForNext(context.Background(), "no-such-turn", "c")
	if ok {
		t.Fatal("expected ok=false for an unknown turn")
	}
}

func TestResolveApprovalUnauthorizedActor(t *testing.T) {
	client := fake.EchoToolResults(`tools.calendar.update({title: "x"})`)
	mgr, approvals := newTestManager(t, client)

	turnID := mgr.Start(context.Background(), "update calendar", "user-1", "chan-1", time.Now())

	deadline := time.Now().Add(2 * time.Second)
	var pending []domain.ApprovalRequest
	for time.Now().Before(deadline) {
		pending = approvals.ListPending("")
		if len(pending) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pending) == 0 {
		t.Fatal("expected a pending approval")
	}

	status := mgr.ResolveApproval(turnID, pending[0].CallID, "someone-else", domain.DecisionApproved)
	if status != approval.StatusUnauthorized {
		t.Fatalf("status = %v, want unauthorized", status)
	}

	status = mgr.ResolveApproval(turnID, pending[0].CallID, "user-1", domain.DecisionApproved)
	if status != approval.StatusResolved {
		t.Fatalf("status = %v, want resolved", status)
	}

	events := drainUntilTerminal(t, mgr, turnID, 2*time.Second)
	if events[len(events)-1].Type != domain.EventCompleted {
		t.Fatalf("expected turn to complete after approval, got %+v", events[len(events)-1])
	}
}

func TestDefaultRulesAppliedAtStartResolveAutomatically(t *testing.T) {
	client := fake.EchoToolResults(`tools.calendar.update({title: "x"})`)

	reg := toolreg.New()
	_ = reg.Register(&toolreg.Tool{
		Path:     "calendar.update",
		Approval: domain.ApprovalRequired,
		Run: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(map[string]string{"status": "updated"})
		},
	})
	approvals := approval.New()
	runner := sandbox.New(reg, approvals, 5*time.Second, 5*time.Second)
	mgr := New(client, runner, approvals, func() string { return "system" },
		WithBudgets(agentloop.Budgets{MaxSteps: 4}),
		WithDefaultRules([]domain.ApprovalRule{{
			ToolPath: "calendar.update",
			Field:    "title",
			Operator: domain.OpEquals,
			Value:    "x",
			Decision: domain.DecisionApproved,
		}}),
	)
	approvals.SetEventSink(mgr)

	turnID := mgr.Start(context.Background(), "update calendar", "user-1", "chan-1", time.Now())
	events := drainUntilTerminal(t, mgr, turnID, 2*time.Second)

	if events[len(events)-1].Type != domain.EventCompleted {
		t.Fatalf("expected turn to auto-resolve via default rule and complete, got %+v", events[len(events)-1])
	}
}

func TestAddRuleUnknownTurnIsNoop(t *testing.T) {
	mgr, _ := newTestManager(t, fake.New())
	n := mgr.AddRule("no-such-turn", domain.ApprovalRule{
		ToolPath: "calendar.update",
		Field:    "title",
		Operator: domain.OpEquals,
		Value:    "x",
		Decision: domain.DecisionApproved,
	})
	if n != 0 {
		t.Fatalf("expected 0 rules applied for unknown turn, got %d", n)
	}
}

func TestCancelProducesCancelledOutcome(t *testing.T) {
	client := &blockingClient{unblock: make(chan struct{})}
	mgr, _ := newTestManager(t, client)

	turnID := mgr.Start(context.Background(), "hang", "user-1", "chan-1", time.Now())
	time.Sleep(20 * time.Millisecond)
	mgr.Cancel(turnID)

	events := drainUntilTerminal(t, mgr, turnID, 2*time.Second)
	last := events[len(events)-1]
	if last.Type != domain.EventFailed || last.Diagnostic != "cancelled" {
		t.Fatalf("expected a cancelled failed event, got %+v", last)
	}
	close(client.unblock)
}

func TestCancelReleasesPendingApprovalWithoutWaitingForSweep(t *testing.T) {
	client := fake.EchoToolResults(`tools.calendar.update({title: "x"})`)
	mgr, approvals := newTestManager(t, client)

	turnID := mgr.Start(context.Background(), "update calendar", "user-1", "chan-1", time.Now())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && approvals.Size(turnID) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if approvals.Size(turnID) == 0 {
		t.Fatal("expected a pending approval before cancelling")
	}

	mgr.Cancel(turnID)
	drainUntilTerminal(t, mgr, turnID, 2*time.Second)

	// The PendingApproval must be gone as soon as the terminal event lands,
	// not after the sweeper's retention window expires.
	if n := approvals.Size(turnID); n != 0 {
		t.Fatalf("approvals.Size(turnID) = %d immediately after cancellation, want 0", n)
	}
}

func TestSweepExpiredReclaimsOldTerminalSessions(t *testing.T) {
	client := fake.New(llm.Response{Kind: llm.KindFinal, Text: "done"})
	mgr, _ := newTestManager(t, client)

	turnID := mgr.Start(context.Background(), "quick", "user-1", "chan-1", time.Now())
	drainUntilTerminal(t, mgr, turnID, 2*time.Second)

	time.Sleep(30 * time.Millisecond) // exceed the 20ms retention configured in newTestManager
	n := mgr.SweepExpired()
	if n != 1 {
		t.Fatalf("swept = %d, want 1", n)
	}

	if _, ok := mgr.WaitForNext(context.Background(), turnID, "late-cursor"); ok {
		t.Fatal("expected the swept turn to be unknown")
	}
}

// blockingClient never returns until unblock is closed or ctx is done, used
// to exercise Manager.Cancel against a turn stuck mid-LM-call.
type blockingClient struct {
	unblock chan struct{}
}

func (c *blockingClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	select {
	case <-c.unblock:
		return llm.Response{Kind: llm.KindFinal, Text: "woke up"}, nil
	case <-ctx.Done():
		return llm.Response{}, ctx.Err()
	}
}
